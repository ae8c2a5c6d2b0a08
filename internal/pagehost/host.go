// Package pagehost attaches a page agent to every watch tab of a browser and
// connects each agent to the background daemon.
package pagehost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/cayt_agent/internal/bridge"
	"github.com/dgnsrekt/cayt_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/page"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/router"
)

const removeTimeout = 5 * time.Second

// TabDriver is the per-tab CDP session.
type TabDriver interface {
	page.Driver
	Done() <-chan struct{}
	Close()
}

// Browser lists and attaches tabs.
type Browser interface {
	Targets(ctx context.Context) ([]*target.Info, error)
	Attach(ctx context.Context, id target.ID, opts cdpcontrol.DriverOptions) (TabDriver, error)
}

// Link is a bridge connection to the background.
type Link interface {
	page.Messenger
	Serve(ctx context.Context) error
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a Link for one tab.
type Dialer func(ctx context.Context, url string, h bridge.HandlerFunc) (Link, error)

// CDPBrowser adapts a cdpcontrol.Browser.
type CDPBrowser struct {
	*cdpcontrol.Browser
}

func (b CDPBrowser) Attach(ctx context.Context, id target.ID, opts cdpcontrol.DriverOptions) (TabDriver, error) {
	return b.Browser.Attach(ctx, id, opts)
}

// DialBridge is the Dialer backed by bridge.Dial.
func DialBridge(ctx context.Context, url string, h bridge.HandlerFunc) (Link, error) {
	return bridge.Dial(ctx, url, h)
}

type tab struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	// removed is set when the tab itself went away, as opposed to the host
	// shutting down.
	removed atomic.Bool
}

// Host owns the running tabs.
type Host struct {
	cfg     *config.PageHostConfig
	rules   config.AdRules
	browser Browser
	dial    Dialer
	client  *http.Client

	mu   sync.Mutex
	tabs map[string]*tab
}

func New(cfg *config.PageHostConfig, rules config.AdRules, browser Browser, dial Dialer) *Host {
	if dial == nil {
		dial = DialBridge
	}
	return &Host{
		cfg:     cfg,
		rules:   rules,
		browser: browser,
		dial:    dial,
		client:  &http.Client{Timeout: removeTimeout},
		tabs:    make(map[string]*tab),
	}
}

// Run scans for tabs until ctx ends, then stops every agent.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.TabScanEvery)
	defer ticker.Stop()

	h.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			h.stopAll()
			return nil
		case <-ticker.C:
			h.Scan(ctx)
		}
	}
}

// Scan attaches new watch tabs and stops agents whose tab is gone.
func (h *Host) Scan(ctx context.Context) {
	targets, err := h.browser.Targets(ctx)
	if err != nil {
		slog.Warn("tab scan failed", "error", err)
		return
	}

	open := make(map[string]bool)
	for _, t := range targets {
		if t.Type == "page" {
			open[string(t.TargetID)] = true
		}
	}

	h.mu.Lock()
	var gone []*tab
	for id, t := range h.tabs {
		if !open[id] {
			gone = append(gone, t)
		}
	}
	h.mu.Unlock()
	for _, t := range gone {
		h.stop(t)
	}

	for _, t := range cdpcontrol.WatchTargets(targets, h.cfg.TabURLFilter) {
		id := string(t.TargetID)
		h.mu.Lock()
		_, running := h.tabs[id]
		h.mu.Unlock()
		if running {
			continue
		}
		if err := h.start(ctx, t); err != nil {
			slog.Warn("tab attach failed", "tab_id", id, "url", t.URL, "error", err)
		}
	}
}

// Tabs returns the IDs of the tabs with a running agent.
func (h *Host) Tabs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.tabs))
	for id := range h.tabs {
		out = append(out, id)
	}
	return out
}

func (h *Host) start(parent context.Context, info *target.Info) error {
	id := string(info.TargetID)
	ctx, cancel := context.WithCancel(parent)

	var agentRef atomic.Pointer[page.Agent]
	driver, err := h.browser.Attach(ctx, info.TargetID, cdpcontrol.DriverOptions{
		EvalTimeout: h.cfg.EvalTimeout,
		Rules:       h.rules,
		OnToggle: func() {
			if a := agentRef.Load(); a != nil {
				a.Toggle()
			}
		},
		OnPlayback: func(t float64, _ bool) {
			if a := agentRef.Load(); a != nil {
				a.PlaybackTime(t)
			}
		},
		OnNavigate: func(url string) {
			if a := agentRef.Load(); a != nil {
				a.Navigated(url)
			}
		},
	})
	if err != nil {
		cancel()
		return err
	}

	var pageRouter atomic.Pointer[router.Router]
	link, err := h.dial(ctx, h.cfg.BridgeURL(url.QueryEscape(id)), func(ctx context.Context, msg protocol.Message) protocol.Response {
		r := pageRouter.Load()
		if r == nil {
			return protocol.ErrorResponse(protocol.NewError(protocol.CodePageUnavailable, "page agent starting", nil))
		}
		return r.Dispatch(ctx, router.Sender{TabID: id}, msg)
	})
	if err != nil {
		driver.Close()
		cancel()
		return protocol.NewError(protocol.CodePageUnavailable, "connect to background", err)
	}

	agent := page.New(page.Config{
		TabID:          id,
		ReinitDelay:    h.cfg.ReinitDelay,
		AdPollInterval: h.cfg.AdPollInterval,
	}, driver, link)
	pageRouter.Store(agent.Router())
	agentRef.Store(agent)

	t := &tab{id: id, cancel: cancel, done: make(chan struct{})}
	h.mu.Lock()
	h.tabs[id] = t
	h.mu.Unlock()

	go func() {
		if err := link.Serve(ctx); err != nil {
			slog.Debug("bridge closed", "tab_id", id, "error", err)
		}
	}()
	go func() {
		defer close(t.done)
		go func() {
			select {
			case <-driver.Done():
				if parent.Err() == nil {
					t.removed.Store(true)
				}
			case <-link.Done():
			case <-ctx.Done():
			}
			cancel()
		}()
		_ = agent.Run(ctx, info.URL)
		_ = link.Close()
		driver.Close()
		h.forget(t)
		if t.removed.Load() {
			slog.Info("tab removed", "tab_id", id)
			if err := h.removeRemote(id); err != nil {
				slog.Warn("tab removal not delivered", "tab_id", id, "error", err)
			}
		}
	}()

	slog.Info("page agent started", "tab_id", id, "url", info.URL)
	return nil
}

// forget drops t from the table if it is still the registered entry. A tab
// whose agent ended on its own is picked up again by the next scan.
func (h *Host) forget(t *tab) {
	h.mu.Lock()
	if h.tabs[t.id] == t {
		delete(h.tabs, t.id)
	}
	h.mu.Unlock()
}

// stop ends the agent of a tab that is gone from the browser.
func (h *Host) stop(t *tab) {
	t.removed.Store(true)
	t.cancel()
	<-t.done
}

func (h *Host) stopAll() {
	h.mu.Lock()
	tabs := make([]*tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		tabs = append(tabs, t)
	}
	h.mu.Unlock()
	for _, t := range tabs {
		t.cancel()
		<-t.done
	}
}

func (h *Host) removeRemote(tabID string) error {
	endpoint := strings.TrimRight(h.cfg.BackgroundURL, "/") + "/api/v1/tabs/" + url.PathEscape(tabID)
	req, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("DELETE %s: HTTP %d", endpoint, resp.StatusCode)
	}
	return nil
}
