package datalog

import (
	"errors"
	"fmt"
)

// Common errors returned by the log and the uplink.
var (
	// ErrUnregisteredChannel is returned when adding to a channel that was never passed to AddPid.
	ErrUnregisteredChannel = errors.New("channel is not registered")

	// ErrMissingWriter is returned when an uplink is created without a LogWriter.
	ErrMissingWriter = errors.New("log writer is required")

	// ErrUplinkClosed is returned when enqueueing on a closed uplink.
	ErrUplinkClosed = errors.New("uplink is closed")
)

// SubscriberError reports a subscriber that failed while a reading was being
// published. Subscribers after the failing one were not notified.
type SubscriberError struct {
	index int
	err   error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %d: %v", e.index, e.err)
}

func (e *SubscriberError) Unwrap() error {
	return e.err
}

// Index returns the position of the failing subscriber in registration order
// at the time of publishing.
func (e *SubscriberError) Index() int {
	return e.index
}

// AsSubscriberError extracts a SubscriberError from an error chain.
func AsSubscriberError(err error) (*SubscriberError, bool) {
	var subErr *SubscriberError
	if errors.As(err, &subErr) {
		return subErr, true
	}
	return nil, false
}
