package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const heartbeatEvery = 15 * time.Second

// ParseFilter reads ?feeds=session,page and ?tab_id=42.
func ParseFilter(r *http.Request) Filter {
	var f Filter
	if q := r.URL.Query().Get("feeds"); q != "" {
		f.Feeds = make(map[string]bool)
		for _, name := range strings.Split(q, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.Feeds[name] = true
			}
		}
	}
	f.TabID = strings.TrimSpace(r.URL.Query().Get("tab_id"))
	return f
}

// SSEHandler streams broker events. Each event carries its broker sequence
// as the SSE id, and idle streams get a comment line every heartbeatEvery
// so proxies keep them open.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe(ParseFilter(r))
		defer broker.Unsubscribe(id)

		heartbeat := time.NewTicker(heartbeatEvery)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Feed, evt.Payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
