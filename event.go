package datalog

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

// Event is a synchronous multicast notifier. Subscribers are called in
// registration order on the publisher's goroutine.
//
// The zero value is ready to use.
type Event[A, B any] struct {
	mu sync.Mutex
	// Replaced, never mutated in place, so Publish can iterate a snapshot
	// without holding mu.
	slots []*slot[A, B]
}

type slot[A, B any] struct {
	fn   func(A, B) error
	live atomic.Bool
}

// Connection is the handle of one subscription. Closing it, or dropping the
// last reference to it, removes the subscriber.
type Connection struct {
	once    sync.Once
	detach  func()
	cleanup runtime.Cleanup
}

// Subscribe registers fn and returns its connection. Subscribers added while
// a Publish is running are first called on the next Publish.
//
// Keep the returned Connection reachable for as long as notifications are
// wanted; once it is garbage collected the subscriber is removed.
func (e *Event[A, B]) Subscribe(fn func(A, B) error) *Connection {
	if fn == nil {
		panic("datalog: nil subscriber")
	}

	s := &slot[A, B]{fn: fn}
	s.live.Store(true)

	e.mu.Lock()
	e.slots = append(slices.Clip(e.slots), s)
	e.mu.Unlock()

	detach := func() { e.remove(s) }
	c := &Connection{detach: detach}
	c.cleanup = runtime.AddCleanup(c, func(d func()) { d() }, detach)
	return c
}

// Publish calls every live subscriber once with a and b. The first subscriber
// error stops delivery and is returned as a *SubscriberError.
func (e *Event[A, B]) Publish(a A, b B) error {
	e.mu.Lock()
	slots := e.slots
	e.mu.Unlock()

	for i, s := range slots {
		if !s.live.Load() {
			continue
		}
		if err := s.fn(a, b); err != nil {
			return &SubscriberError{index: i, err: err}
		}
	}
	return nil
}

// Len returns the number of live subscribers.
func (e *Event[A, B]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.slots)
}

func (e *Event[A, B]) remove(s *slot[A, B]) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s.live.Store(false)
	idx := slices.Index(e.slots, s)
	if idx < 0 {
		return
	}
	next := make([]*slot[A, B], 0, len(e.slots)-1)
	next = append(next, e.slots[:idx]...)
	next = append(next, e.slots[idx+1:]...)
	e.slots = next
}

// Close removes the subscriber. It takes effect immediately, including for a
// Publish already in progress, and is safe to call more than once.
func (c *Connection) Close() {
	c.once.Do(func() {
		c.cleanup.Stop()
		c.detach()
	})
}
