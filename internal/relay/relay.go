// Package relay publishes session, page and option changes to SSE clients.
package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/session"
)

// Relay turns daemon state changes into broker events.
type Relay struct {
	broker *Broker
}

func NewRelay(broker *Broker) *Relay {
	return &Relay{broker: broker}
}

type sessionPayload struct {
	Kind  session.ChangeKind `json:"kind"`
	State protocol.TabState  `json:"state"`
}

type pagePayload struct {
	TabID     string `json:"tabId"`
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
}

// OnSessionChange is installed as the session store observer. Subtitles are
// left out of the payload; clients fetch them from the tab endpoint.
func (r *Relay) OnSessionChange(c session.Change) {
	state := c.State
	state.Subtitles = nil
	r.publish(FeedSession, state.TabID, sessionPayload{Kind: c.Kind, State: state})
}

// PageConnected announces a page agent attaching or detaching.
func (r *Relay) PageConnected(tabID, url string, connected bool) {
	r.publish(FeedPage, tabID, pagePayload{TabID: tabID, Connected: connected, URL: url})
}

// OptionsChanged announces new display options.
func (r *Relay) OptionsChanged(opts protocol.Options) {
	r.publish(FeedOptions, "", opts)
}

func (r *Relay) publish(feed, tabID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("relay: marshal failed", "feed", feed, "error", err)
		return
	}
	r.broker.Publish(Event{Feed: feed, TabID: tabID, Payload: string(data)})
}
