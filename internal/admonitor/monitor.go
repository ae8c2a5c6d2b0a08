// Package admonitor detects ad interstitials by polling the player markup
// and keeps the subtitle snapshot taken while an ad plays.
package admonitor

import "github.com/dgnsrekt/cayt_agent/internal/protocol"

// State is the monitor's last known ad state.
type State int

const (
	NoAd State = iota
	AdPlaying
)

func (s State) String() string {
	if s == AdPlaying {
		return "ad_playing"
	}
	return "no_ad"
}

// Transition is the edge produced by one observation.
type Transition int

const (
	None Transition = iota
	Started
	Ended
)

func (t Transition) String() string {
	switch t {
	case Started:
		return "started"
	case Ended:
		return "ended"
	}
	return "none"
}

// Probe is the result of one DOM check.
type Probe struct {
	// Container is false while the player element is absent.
	Container      bool     `json:"container"`
	ContainerClass bool     `json:"containerClass"`
	Selectors      []string `json:"selectors"`
	ModuleChildren int      `json:"moduleChildren"`

	// Href and CurrentTime describe the page at probe time, so an ad end can
	// be handled without another round trip.
	Href        string  `json:"href"`
	CurrentTime float64 `json:"currentTime"`
}

// AdPresent is the OR of the independent checks.
func (p Probe) AdPresent() bool {
	return p.ContainerClass || len(p.Selectors) > 0 || p.ModuleChildren > 0
}

// Monitor is the two-state machine. The zero value is in NoAd.
type Monitor struct {
	state State
}

// State returns the current state.
func (m *Monitor) State() State {
	return m.state
}

// Observe records whether an ad is present and returns the edge, if any.
func (m *Monitor) Observe(adPresent bool) Transition {
	switch {
	case adPresent && m.state == NoAd:
		m.state = AdPlaying
		return Started
	case !adPresent && m.state == AdPlaying:
		m.state = NoAd
		return Ended
	}
	return None
}

// ObserveProbe is Observe for a probe. A probe without the player container
// changes nothing.
func (m *Monitor) ObserveProbe(p Probe) Transition {
	if !p.Container {
		return None
	}
	return m.Observe(p.AdPresent())
}

// Reset returns the monitor to NoAd without producing an edge.
func (m *Monitor) Reset() {
	m.state = NoAd
}

// Snapshot is the working session captured when an ad starts.
type Snapshot struct {
	Subtitles []protocol.Segment
	TaskID    string
	VideoID   string
}

// Cache holds at most one snapshot.
type Cache struct {
	snap *Snapshot
}

// Capture stores the session if it is active with subtitles and reports
// whether it did. Any older snapshot is replaced or cleared.
func (c *Cache) Capture(active bool, subtitles []protocol.Segment, taskID, videoID string) bool {
	if !active || len(subtitles) == 0 || videoID == "" {
		c.snap = nil
		return false
	}
	c.snap = &Snapshot{
		Subtitles: append([]protocol.Segment(nil), subtitles...),
		TaskID:    taskID,
		VideoID:   videoID,
	}
	return true
}

// Restore returns the snapshot when it belongs to currentVideoID. The cache
// is empty afterwards either way.
func (c *Cache) Restore(currentVideoID string) (Snapshot, bool) {
	snap := c.snap
	c.snap = nil
	if snap == nil || currentVideoID == "" || snap.VideoID != currentVideoID {
		return Snapshot{}, false
	}
	return *snap, true
}

// Has reports whether a snapshot is held.
func (c *Cache) Has() bool {
	return c.snap != nil
}

// Clear drops any snapshot.
func (c *Cache) Clear() {
	c.snap = nil
}
