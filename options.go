package datalog

// Option configures a DataLog.
type Option func(*settings)

type settings struct {
	name  string
	clock Clock
}

// WithName sets the display name of the log.
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// WithClock sets the clock used to latch the begin time and to timestamp
// AddValue readings. A nil clock keeps the real clock.
func WithClock(clock Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}
