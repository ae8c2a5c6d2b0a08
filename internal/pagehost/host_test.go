package pagehost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/cayt_agent/internal/admonitor"
	"github.com/dgnsrekt/cayt_agent/internal/bridge"
	"github.com/dgnsrekt/cayt_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/overlay"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type fakeDriver struct {
	mu       sync.Mutex
	installs int
	done     chan struct{}
	once     sync.Once
}

func newFakeDriver() *fakeDriver { return &fakeDriver{done: make(chan struct{})} }

func (d *fakeDriver) Install(context.Context) error {
	d.mu.Lock()
	d.installs++
	d.mu.Unlock()
	return nil
}
func (d *fakeDriver) Render(context.Context, overlay.View) error { return nil }
func (d *fakeDriver) ProbeAds(context.Context) (admonitor.Probe, error) {
	return admonitor.Probe{Container: true}, nil
}
func (d *fakeDriver) Done() <-chan struct{} { return d.done }
func (d *fakeDriver) Close()                { d.once.Do(func() { close(d.done) }) }

func (d *fakeDriver) installCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installs
}

type fakeBrowser struct {
	mu      sync.Mutex
	targets []*target.Info
	drivers map[target.ID]*fakeDriver
}

func (b *fakeBrowser) setTargets(infos ...*target.Info) {
	b.mu.Lock()
	b.targets = infos
	b.mu.Unlock()
}

func (b *fakeBrowser) Targets(context.Context) ([]*target.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*target.Info(nil), b.targets...), nil
}

func (b *fakeBrowser) Attach(_ context.Context, id target.ID, _ cdpcontrol.DriverOptions) (TabDriver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := newFakeDriver()
	b.drivers[id] = d
	return d, nil
}

func (b *fakeBrowser) driver(id target.ID) *fakeDriver {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drivers[id]
}

type fakeLink struct {
	done chan struct{}
	once sync.Once
}

func (l *fakeLink) Request(context.Context, protocol.Message) (protocol.Response, error) {
	return protocol.OK(), nil
}
func (l *fakeLink) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-l.done:
	}
	return nil
}
func (l *fakeLink) Done() <-chan struct{} { return l.done }
func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

type dialRecorder struct {
	mu       sync.Mutex
	urls     []string
	handlers []bridge.HandlerFunc
}

func (r *dialRecorder) dial(_ context.Context, url string, h bridge.HandlerFunc) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	r.handlers = append(r.handlers, h)
	return &fakeLink{done: make(chan struct{})}, nil
}

type deleteRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (d *deleteRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		d.mu.Lock()
		d.paths = append(d.paths, r.URL.Path)
		d.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *deleteRecorder) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newHost(t *testing.T) (*Host, *fakeBrowser, *dialRecorder, *deleteRecorder) {
	t.Helper()
	deletes := &deleteRecorder{}
	server := httptest.NewServer(deletes)
	t.Cleanup(server.Close)

	cfg := &config.PageHostConfig{
		TabURLFilter:   "youtube.com/watch",
		BackgroundURL:  server.URL,
		TabScanEvery:   time.Hour,
		ReinitDelay:    time.Millisecond,
		AdPollInterval: time.Hour,
	}
	browser := &fakeBrowser{drivers: make(map[target.ID]*fakeDriver)}
	dials := &dialRecorder{}
	return New(cfg, config.DefaultAdRules(), browser, dials.dial), browser, dials, deletes
}

func TestScanAttachesWatchTabsOnly(t *testing.T) {
	host, browser, dials, _ := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		host.stopAll()
	}()

	browser.setTargets(
		&target.Info{TargetID: "A", Type: "page", URL: watchURL},
		&target.Info{TargetID: "B", Type: "page", URL: "https://example.com/"},
	)
	host.Scan(ctx)
	host.Scan(ctx)

	if got := host.Tabs(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("Tabs() = %v; want [A]", got)
	}
	if len(dials.urls) != 1 || dials.urls[0] != "ws://"+host.cfg.BackgroundURL[len("http://"):]+"/ws?tab_id=A" {
		t.Fatalf("dialed %v", dials.urls)
	}
	waitFor(t, "overlay install", func() bool { return browser.driver("A").installCount() == 1 })
}

func TestBridgeRequestsReachAgent(t *testing.T) {
	host, browser, dials, _ := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		host.stopAll()
	}()

	browser.setTargets(&target.Info{TargetID: "A", Type: "page", URL: watchURL})
	host.Scan(ctx)

	resp := dials.handlers[0](ctx, protocol.Message{Action: protocol.ActionGetState})
	if !resp.Success || resp.State == nil || resp.State.TabID != "A" {
		t.Fatalf("getState = %+v", resp)
	}
	if resp.State.VideoID == nil || *resp.State.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("video id = %v", resp.State.VideoID)
	}
}

func TestClosedTabIsReportedToBackground(t *testing.T) {
	host, browser, _, deletes := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		host.stopAll()
	}()

	browser.setTargets(&target.Info{TargetID: "A", Type: "page", URL: watchURL})
	host.Scan(ctx)
	browser.setTargets()
	host.Scan(ctx)

	if got := host.Tabs(); len(got) != 0 {
		t.Fatalf("Tabs() = %v; want none", got)
	}
	if got := deletes.list(); len(got) != 1 || got[0] != "/api/v1/tabs/A" {
		t.Fatalf("DELETE paths = %v", got)
	}
}

func TestDetachedDriverIsReportedToBackground(t *testing.T) {
	host, browser, _, deletes := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		host.stopAll()
	}()

	browser.setTargets(&target.Info{TargetID: "A", Type: "page", URL: watchURL})
	host.Scan(ctx)
	browser.driver("A").Close()

	waitFor(t, "tab removal", func() bool { return len(deletes.list()) == 1 })
	waitFor(t, "tab forgotten", func() bool { return len(host.Tabs()) == 0 })
}

func TestShutdownDoesNotRemoveTabs(t *testing.T) {
	host, browser, _, deletes := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())

	browser.setTargets(&target.Info{TargetID: "A", Type: "page", URL: watchURL})
	host.Scan(ctx)
	cancel()
	host.stopAll()

	if got := deletes.list(); len(got) != 0 {
		t.Fatalf("DELETE paths = %v; want none on shutdown", got)
	}
}
