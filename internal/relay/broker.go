package relay

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feed names published by the daemon.
const (
	FeedSession = "session"
	FeedPage    = "page"
	FeedOptions = "options"
)

// Event is one SSE message. TabID is empty for events not tied to a tab.
// Seq is assigned by the broker and increases across all feeds.
type Event struct {
	Seq     int64
	Feed    string
	TabID   string
	Payload string
}

// Filter selects the events a subscriber receives. Zero value matches all.
// A tab filter never hides events that carry no tab.
type Filter struct {
	Feeds map[string]bool
	TabID string
}

func (f Filter) Match(e Event) bool {
	if len(f.Feeds) > 0 && !f.Feeds[e.Feed] {
		return false
	}
	return f.TabID == "" || e.TabID == "" || e.TabID == f.TabID
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Broker delivers events to subscribers without ever blocking the
// publisher. A full subscriber buffer loses the event for that subscriber.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int64]subscriber
	nextID  atomic.Int64
	seq     atomic.Int64
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]subscriber)}
}

func (b *Broker) Subscribe(f Filter) (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subs[id] = subscriber{ch: ch, filter: f}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe closes the subscriber's channel. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

func (b *Broker) Publish(evt Event) {
	evt.Seq = b.seq.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.filter.Match(evt) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts deliveries lost to full subscriber buffers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
