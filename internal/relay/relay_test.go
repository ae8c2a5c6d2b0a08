package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/session"
)

func TestOnSessionChangeOmitsSubtitles(t *testing.T) {
	broker := NewBroker()
	_, ch := broker.Subscribe(Filter{})
	r := NewRelay(broker)

	r.OnSessionChange(session.Change{Kind: session.ChangeUpdated, State: protocol.TabState{
		TabID:         "7",
		IsActive:      true,
		Subtitles:     []protocol.Segment{{Start: 0, End: 1, Translated: "x"}},
		TotalSegments: 1,
	}})

	evt := <-ch
	if evt.Feed != FeedSession || evt.TabID != "7" {
		t.Fatalf("event = %+v", evt)
	}
	if strings.Contains(evt.Payload, `"translated"`) {
		t.Fatalf("payload carries subtitles: %s", evt.Payload)
	}
	if !strings.Contains(evt.Payload, `"totalSegments":1`) || !strings.Contains(evt.Payload, `"kind":"updated"`) {
		t.Fatalf("payload = %s", evt.Payload)
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Subscribe(Filter{})
	for i := 0; i < subscriberBufSize+3; i++ {
		broker.Publish(Event{Feed: FeedPage})
	}
	if got := broker.Dropped(); got != 3 {
		t.Fatalf("Dropped() = %d; want 3", got)
	}
}

func TestSSEHandlerFiltersByTab(t *testing.T) {
	broker := NewBroker()
	srv := httptest.NewServer(SSEHandler(broker))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=page&tab_id=2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for broker.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	r := NewRelay(broker)
	r.PageConnected("1", "", true)
	r.OptionsChanged(protocol.DefaultOptions())
	r.PageConnected("2", "https://www.youtube.com/watch?v=aaaaaaaaaaa", true)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if !strings.HasPrefix(line, "id: ") {
		t.Fatalf("first line = %q; want id", line)
	}
	if line, _ = reader.ReadString('\n'); strings.TrimSpace(line) != "event: page" {
		t.Fatalf("event line = %q", line)
	}
	data, _ := reader.ReadString('\n')
	if !strings.Contains(data, `"tabId":"2"`) {
		t.Fatalf("data = %q; want tab 2 only", data)
	}
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"zero matches all", Filter{}, Event{Feed: FeedSession, TabID: "1"}, true},
		{"feed excluded", Filter{Feeds: map[string]bool{FeedPage: true}}, Event{Feed: FeedSession}, false},
		{"other tab", Filter{TabID: "2"}, Event{Feed: FeedPage, TabID: "1"}, false},
		{"tabless event passes tab filter", Filter{TabID: "2"}, Event{Feed: FeedOptions}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.event); got != tt.want {
				t.Fatalf("Match() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestPublishAssignsIncreasingSeq(t *testing.T) {
	broker := NewBroker()
	_, ch := broker.Subscribe(Filter{})
	broker.Publish(Event{Feed: FeedPage})
	broker.Publish(Event{Feed: FeedSession})
	first, second := <-ch, <-ch
	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Fatalf("seq = %d, %d; want increasing", first.Seq, second.Seq)
	}
}
