package indicators

// Series is an append-only sequence of indicator values bounded to the most
// recent retention entries.
type Series struct {
	values    []float64
	retention int
}

// NewSeries creates a series keeping at least two values.
func NewSeries(retention int) *Series {
	if retention < 2 {
		retention = 2
	}
	return &Series{values: make([]float64, 0, 2*retention), retention: retention}
}

// Append adds a value, evicting the oldest ones beyond the retention window.
// Eviction copies once per retention appends, keeping Append amortised O(1).
func (s *Series) Append(v float64) {
	if len(s.values) == cap(s.values) {
		keep := s.retention - 1
		copy(s.values, s.values[len(s.values)-keep:])
		s.values = s.values[:keep]
	}
	s.values = append(s.values, v)
}

// Len returns the number of retained values.
func (s *Series) Len() int {
	if len(s.values) > s.retention {
		return s.retention
	}
	return len(s.values)
}

// Retention returns the window size.
func (s *Series) Retention() int {
	return s.retention
}

// Last returns the value ago steps back from the newest (0 is the newest).
func (s *Series) Last(ago int) (float64, bool) {
	if ago < 0 || ago >= s.Len() {
		return 0, false
	}
	return s.values[len(s.values)-1-ago], true
}

// Values returns a copy of the retained values, oldest first.
func (s *Series) Values() []float64 {
	out := make([]float64, s.Len())
	copy(out, s.values[len(s.values)-len(out):])
	return out
}

func (s *Series) grow(retention int) {
	if retention <= s.retention {
		return
	}
	values := make([]float64, len(s.values), 2*retention)
	copy(values, s.values)
	s.values = values
	s.retention = retention
}
