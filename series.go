package datalog

// Series is the ordered sequence of readings logged for one channel.
// Entries keep arrival order; times are not required to be increasing.
type Series[C comparable] struct {
	Channel C
	entries []Reading
}

func newSeries[C comparable](ch C) *Series[C] {
	return &Series[C]{
		Channel: ch,
		entries: make([]Reading, 0),
	}
}

// Len returns the number of readings logged for the channel.
func (s *Series[C]) Len() int {
	return len(s.entries)
}

// Entries returns the logged readings. The slice is shared with the log and
// must not be modified.
func (s *Series[C]) Entries() []Reading {
	return s.entries
}

// At returns the i-th reading. It panics if i is out of range.
func (s *Series[C]) At(i int) Reading {
	return s.entries[i]
}

// Last returns the most recently appended reading.
func (s *Series[C]) Last() (Reading, bool) {
	if len(s.entries) == 0 {
		return Reading{}, false
	}
	return s.entries[len(s.entries)-1], true
}

func (s *Series[C]) append(r Reading) {
	s.entries = append(s.entries, r)
}
