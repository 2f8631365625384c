package datalog

import (
	"time"
)

// AddFunc is called for every reading added to a DataLog.
type AddFunc[C comparable] func(series *Series[C], entry Reading) error

// DataLog records readings of a live logging session, one Series per
// registered channel, and keeps session-wide bounds up to date on every
// insertion.
//
// A DataLog has a single producer and no internal locking. Subscribers run
// on the producer's goroutine.
type DataLog[C comparable] struct {
	name  string
	clock Clock

	beginTime time.Time
	maxTime   Millis
	minValue  float64
	maxValue  float64
	empty     bool

	addEvent Event[*Series[C], Reading]

	logs  map[C]*Series[C]
	order []C
}

// New returns an empty log with no channels.
func New[C comparable](opts ...Option) *DataLog[C] {
	s := settings{clock: RealClock{}}
	for _, opt := range opts {
		opt(&s)
	}

	return &DataLog[C]{
		name:  s.name,
		clock: s.clock,
		empty: true,
		logs:  make(map[C]*Series[C]),
	}
}

// AddPid registers ch and returns its series. A channel that is already
// registered gets a fresh empty series; other channels and the log's bounds
// are left alone.
func (l *DataLog[C]) AddPid(ch C) *Series[C] {
	if _, exists := l.logs[ch]; !exists {
		l.order = append(l.order, ch)
	}
	series := newSeries(ch)
	l.logs[ch] = series
	return series
}

// PidLog returns the series of ch, or false if AddPid was never called for it.
func (l *DataLog[C]) PidLog(ch C) (*Series[C], bool) {
	series, ok := l.logs[ch]
	return series, ok
}

// Add appends entry to the series of ch and notifies subscribers. It returns
// ErrUnregisteredChannel, without touching the log, if ch has no series.
//
// A failing subscriber stops notification and its error is returned as a
// *SubscriberError; the entry has already been logged at that point.
func (l *DataLog[C]) Add(ch C, entry Reading) error {
	series, ok := l.logs[ch]
	if !ok {
		return ErrUnregisteredChannel
	}

	if l.empty {
		l.beginTime = l.clock.Now()
		l.empty = false
		l.minValue = entry.Value
		l.maxValue = entry.Value
		l.maxTime = entry.Time
	} else {
		if entry.Value < l.minValue {
			l.minValue = entry.Value
		}
		if entry.Value > l.maxValue {
			l.maxValue = entry.Value
		}
		if entry.Time > l.maxTime {
			l.maxTime = entry.Time
		}
	}

	series.append(entry)

	return l.addEvent.Publish(series, entry)
}

// AddValue adds value to ch, timestamped with the time elapsed since the
// begin time. The first reading of a session is at time 0.
func (l *DataLog[C]) AddValue(ch C, value float64) error {
	var elapsed Millis
	if !l.empty {
		elapsed = sinceMillis(l.beginTime, l.clock.Now())
	}
	return l.Add(ch, Reading{Value: value, Time: elapsed})
}

// OnAdd subscribes fn to every reading added from now on.
func (l *DataLog[C]) OnAdd(fn AddFunc[C]) *Connection {
	return l.addEvent.Subscribe(fn)
}

// BeginTime returns the time of the first data point, or the zero time if
// the log is empty.
func (l *DataLog[C]) BeginTime() time.Time { return l.beginTime }

func (l *DataLog[C]) Name() string { return l.name }

func (l *DataLog[C]) SetName(name string) { l.name = name }

// Empty returns true until the first reading is added.
func (l *DataLog[C]) Empty() bool { return l.empty }

// MaxTime returns the largest reading time in milliseconds across all channels.
func (l *DataLog[C]) MaxTime() Millis { return l.maxTime }

func (l *DataLog[C]) MinValue() float64 { return l.minValue }

func (l *DataLog[C]) MaxValue() float64 { return l.maxValue }

// Channels returns the registered channels in registration order.
func (l *DataLog[C]) Channels() []C {
	out := make([]C, len(l.order))
	copy(out, l.order)
	return out
}

// Subscribers returns the number of live OnAdd subscribers.
func (l *DataLog[C]) Subscribers() int {
	return l.addEvent.Len()
}
