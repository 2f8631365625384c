package datalog

import "time"

// NanosecondsUTC represents a timestamp in nanoseconds since Unix epoch (UTC).
type NanosecondsUTC = int64

// Millis is a duration in milliseconds since the start of a logging session.
type Millis = uint64

// Reading is one timestamped sample of a channel.
type Reading struct {
	Value float64
	// Milliseconds since the log's begin time
	Time Millis
}

// Clock interface allows for deterministic testing
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// sinceMillis returns whole milliseconds elapsed from begin to now, clamped at zero.
func sinceMillis(begin, now time.Time) Millis {
	d := now.Sub(begin)
	if d < 0 {
		return 0
	}
	return Millis(d / time.Millisecond)
}
