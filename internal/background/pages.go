package background

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

// Peer is a connected page agent.
type Peer interface {
	Request(ctx context.Context, msg protocol.Message) (protocol.Response, error)
}

// PageInfo describes a connected page.
type PageInfo struct {
	TabID       string    `json:"tabId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type pageEntry struct {
	peer Peer
	info PageInfo
}

// Pages tracks the page agent connected for each tab. A newer connection
// for the same tab replaces the older one.
type Pages struct {
	mu    sync.RWMutex
	pages map[string]pageEntry
}

func newPages() *Pages {
	return &Pages{pages: make(map[string]pageEntry)}
}

// Get returns the peer for tabID.
func (p *Pages) Get(tabID string) (Peer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.pages[tabID]
	return e.peer, ok
}

// IDs returns the connected tab IDs in order.
func (p *Pages) IDs() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.pages))
	for id := range p.pages {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// List returns the connected pages ordered by tab ID.
func (p *Pages) List() []PageInfo {
	p.mu.RLock()
	out := make([]PageInfo, 0, len(p.pages))
	for _, e := range p.pages {
		out = append(out, e.info)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Connected reports whether tabID has a page agent.
func (p *Pages) Connected(tabID string) bool {
	_, ok := p.Get(tabID)
	return ok
}

func (p *Pages) add(tabID string, peer Peer) {
	p.mu.Lock()
	p.pages[tabID] = pageEntry{peer: peer, info: PageInfo{TabID: tabID, ConnectedAt: time.Now().UTC()}}
	p.mu.Unlock()
}

// remove drops tabID only if peer is still the registered connection.
func (p *Pages) remove(tabID string, peer Peer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.pages[tabID]; ok && e.peer == peer {
		delete(p.pages, tabID)
		return true
	}
	return false
}

// PageConnected registers peer for tabID, creates the tab's session and
// pushes the current options to it.
func (s *Service) PageConnected(ctx context.Context, tabID string, peer Peer) {
	s.pages.add(tabID, peer)
	s.store.GetOrCreate(tabID)
	slog.Info("page connected", "tab_id", tabID)
	if s.relay != nil {
		s.relay.PageConnected(tabID, "", true)
	}

	opts, err := s.options.Load(ctx)
	if err != nil {
		slog.Warn("load options for page failed", "tab_id", tabID, "error", err)
		return
	}
	go s.pushOptions(tabID, opts)
}

// PageDisconnected unregisters peer. The session is kept until the tab is
// removed.
func (s *Service) PageDisconnected(tabID string, peer Peer) {
	if !s.pages.remove(tabID, peer) {
		return
	}
	slog.Info("page disconnected", "tab_id", tabID)
	if s.relay != nil {
		s.relay.PageConnected(tabID, "", false)
	}
}

// TabInfo is a session together with its page connection status.
type TabInfo struct {
	protocol.TabState
	Connected bool `json:"connected"`
}

// Tabs lists every known session ordered by tab ID.
func (s *Service) Tabs() []TabInfo {
	states := s.store.List()
	out := make([]TabInfo, 0, len(states))
	for _, st := range states {
		out = append(out, TabInfo{TabState: st, Connected: s.pages.Connected(st.TabID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Tab returns the session of tabID.
func (s *Service) Tab(tabID string) (TabInfo, bool) {
	st, ok := s.store.Snapshot(tabID)
	if !ok {
		return TabInfo{}, false
	}
	return TabInfo{TabState: st, Connected: s.pages.Connected(tabID)}, true
}
