// Package playback maps the player's current time to the subtitle segment
// that should be on screen.
package playback

import (
	"sort"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

const (
	// NeverRendered is the index before the first lookup after Load.
	NeverRendered = -2
	// NoSegment is the index when the current time falls in no segment.
	NoSegment = -1
)

// Update is the result of one lookup. Changed is false when the rendered
// index stays the same, in which case the overlay is left alone.
type Update struct {
	Index   int
	Segment *protocol.Segment
	Changed bool
}

// Synchronizer tracks the rendered segment index for a sorted,
// non-overlapping segment list. It is not safe for concurrent use.
type Synchronizer struct {
	segments []protocol.Segment
	current  int
}

func New() *Synchronizer {
	return &Synchronizer{current: NeverRendered}
}

// Load replaces the segment list and forgets the rendered index, so the
// next lookup always reports a change.
func (s *Synchronizer) Load(segments []protocol.Segment) {
	s.segments = append([]protocol.Segment(nil), segments...)
	sort.SliceStable(s.segments, func(i, j int) bool {
		return s.segments[i].Start < s.segments[j].Start
	})
	s.current = NeverRendered
}

// Reset drops all segments.
func (s *Synchronizer) Reset() {
	s.segments = nil
	s.current = NeverRendered
}

// Invalidate forgets the rendered index so the next lookup reports a
// change even for the same segment.
func (s *Synchronizer) Invalidate() {
	s.current = NeverRendered
}

// Active reports whether there are segments to render.
func (s *Synchronizer) Active() bool {
	return len(s.segments) > 0
}

// Len returns the number of loaded segments.
func (s *Synchronizer) Len() int {
	return len(s.segments)
}

// Current returns the last rendered index.
func (s *Synchronizer) Current() int {
	return s.current
}

// Segments returns a copy of the loaded segments.
func (s *Synchronizer) Segments() []protocol.Segment {
	return append([]protocol.Segment(nil), s.segments...)
}

// OnTimeOrSeek looks up the segment containing t. Continuous time updates
// and seeks both go through here.
func (s *Synchronizer) OnTimeOrSeek(t float64) Update {
	if len(s.segments) == 0 {
		return Update{Index: s.current}
	}
	idx := s.find(t)
	if idx == s.current {
		return Update{Index: idx}
	}
	s.current = idx
	u := Update{Index: idx, Changed: true}
	if idx >= 0 {
		seg := s.segments[idx]
		u.Segment = &seg
	}
	return u
}

// find relies on the segments being sorted and non-overlapping: only the
// last segment starting at or before t can contain it.
func (s *Synchronizer) find(t float64) int {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].Start > t
	}) - 1
	if i >= 0 && s.segments[i].Contains(t) {
		return i
	}
	return NoSegment
}
