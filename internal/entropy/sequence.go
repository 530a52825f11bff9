package entropy

// Sequence replays a fixed list of values, cycling when exhausted.
// An empty Sequence always returns 0.
type Sequence struct {
	Values []float64
	next   int
	Draws  int // Total values handed out
}

// NewSequence creates a replaying source.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{Values: values}
}

// Float64 implements Source.
func (s *Sequence) Float64() float64 {
	s.Draws++
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.next%len(s.Values)]
	s.next++
	return v
}
