package protocol

// Segment is one timed subtitle unit, in seconds.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Original   string  `json:"original"`
	Translated string  `json:"translated"`
}

// Contains reports whether t falls in [Start, End).
func (s Segment) Contains(t float64) bool {
	return s.Start <= t && t < s.End
}
