// Package session holds the authoritative per-tab translation state owned by
// the background daemon.
package session

import (
	"sort"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

// TabSession is the mutable record for one browser tab. It has no behavior
// beyond keeping its own invariants.
type TabSession struct {
	TabID      string
	IsActive   bool
	IsLoading  bool
	VideoID    *string
	TaskID     *string
	SourceType string
	Error      *string
	Subtitles  []protocol.Segment
}

// normalize enforces: never loading and active at once; subtitles only
// while active.
func (s *TabSession) normalize() {
	if s.IsLoading {
		s.IsActive = false
	}
	if !s.IsActive {
		s.Subtitles = nil
	}
}

func (s *TabSession) snapshot() protocol.TabState {
	subs := make([]protocol.Segment, len(s.Subtitles))
	copy(subs, s.Subtitles)
	return protocol.TabState{
		TabID:         s.TabID,
		IsActive:      s.IsActive,
		IsLoading:     s.IsLoading,
		VideoID:       cloneString(s.VideoID),
		TaskID:        cloneString(s.TaskID),
		SourceType:    s.SourceType,
		Error:         cloneString(s.Error),
		Subtitles:     subs,
		TotalSegments: len(subs),
	}
}

func (s *TabSession) apply(p protocol.StatePatch) {
	if p.Reset {
		*s = TabSession{TabID: s.TabID}
	}
	if p.IsLoading != nil {
		s.IsLoading = *p.IsLoading
		if s.IsLoading {
			s.IsActive = false
		}
	}
	if p.IsActive != nil {
		s.IsActive = *p.IsActive
		if s.IsActive {
			s.IsLoading = false
		}
	}
	if p.Error != nil {
		if *p.Error == "" {
			s.Error = nil
		} else {
			s.Error = StringPtr(*p.Error)
		}
	}
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string {
	return &v
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	return StringPtr(*v)
}

// NormalizeSegments returns segments sorted by start with empty or inverted
// entries dropped and overlaps trimmed, so the result is pairwise
// non-overlapping.
func NormalizeSegments(in []protocol.Segment) []protocol.Segment {
	out := make([]protocol.Segment, 0, len(in))
	for _, seg := range in {
		if seg.End > seg.Start {
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})

	kept := out[:0]
	for _, seg := range out {
		if n := len(kept); n > 0 && kept[n-1].End > seg.Start {
			kept[n-1].End = seg.Start
			if kept[n-1].End <= kept[n-1].Start {
				kept = kept[:n-1]
			}
		}
		kept = append(kept, seg)
	}
	return kept
}
