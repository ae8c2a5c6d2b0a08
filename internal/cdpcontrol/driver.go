// Package cdpcontrol drives watch tabs over the Chrome DevTools Protocol: it
// discovers targets, evaluates the overlay scripts and turns page events into
// callbacks.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/cayt_agent/internal/admonitor"
	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/overlay"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

const defaultEvalTimeout = 5 * time.Second

// Browser is a connection to a running browser's debugging endpoint.
type Browser struct {
	httpBase string
	allocCtx context.Context
	cancel   context.CancelFunc
}

// Connect resolves the browser websocket from httpBase and prepares a
// remote allocator for it.
func Connect(ctx context.Context, httpBase string) (*Browser, error) {
	wsURL, err := BrowserWSURL(ctx, httpBase)
	if err != nil {
		return nil, err
	}
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	slog.Info("connected to browser", "http_base", httpBase, "ws_url", wsURL)
	return &Browser{httpBase: strings.TrimRight(httpBase, "/"), allocCtx: allocCtx, cancel: cancel}, nil
}

// Targets lists the browser's open targets.
func (b *Browser) Targets(ctx context.Context) ([]*target.Info, error) {
	return ListTargets(ctx, b.httpBase)
}

// Close releases the allocator. Tabs are left open.
func (b *Browser) Close() {
	b.cancel()
}

// DriverOptions configures a TabDriver. Callbacks run one at a time on a
// driver goroutine, in the order the page emitted the events.
type DriverOptions struct {
	EvalTimeout time.Duration
	Rules       config.AdRules
	OnToggle    func()
	OnPlayback  func(t float64, seek bool)
	OnNavigate  func(url string)
}

// TabDriver evaluates scripts in one tab.
type TabDriver struct {
	targetID target.ID
	opts     DriverOptions
	probeJS  string
	events   *eventQueue

	ctx    context.Context
	cancel context.CancelFunc
}

func newTabDriver(ctx context.Context, cancel context.CancelFunc, targetID target.ID, opts DriverOptions) *TabDriver {
	d := &TabDriver{
		targetID: targetID,
		opts:     opts,
		probeJS:  probeScript(opts.Rules),
		events:   newEventQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
	go d.events.run(ctx)
	return d
}

// eventQueue hands page callbacks to a single consumer in arrival order.
// push never blocks because it runs on the chromedp event loop, which an
// eval issued by a callback also needs.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	fn := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return fn, true
}

func (q *eventQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for ctx.Err() == nil {
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
		}
	}
}

// Attach opens a session to targetID, enables the page and runtime domains
// and registers the page bindings.
func (b *Browser) Attach(ctx context.Context, targetID target.ID, opts DriverOptions) (*TabDriver, error) {
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = defaultEvalTimeout
	}
	if opts.Rules.Container == "" {
		opts.Rules = config.DefaultAdRules()
	}
	tabCtx, cancel := chromedp.NewContext(b.allocCtx, chromedp.WithTargetID(targetID))
	d := newTabDriver(tabCtx, cancel, targetID, opts)

	chromedp.ListenTarget(tabCtx, d.handleEvent)

	// The first Run binds the tab session to tabCtx, so it must not carry a
	// shorter deadline.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx,
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(bindingToggle),
		runtime.AddBinding(bindingPlayback),
	)
	stop()
	if err != nil {
		cancel()
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "attach to target failed", err)
	}
	slog.Info("attached to tab", "target_id", targetID)
	return d, nil
}

// TargetID returns the tab's target.
func (d *TabDriver) TargetID() target.ID {
	return d.targetID
}

// Done is closed when the tab session ends, including when the tab closes.
func (d *TabDriver) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Close detaches from the tab without closing it.
func (d *TabDriver) Close() {
	d.cancel()
}

func (d *TabDriver) handleEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame.ParentID == "" && d.opts.OnNavigate != nil {
			url := e.Frame.URL
			d.events.push(func() { d.opts.OnNavigate(url) })
		}
	case *page.EventNavigatedWithinDocument:
		if d.opts.OnNavigate != nil {
			url := e.URL
			d.events.push(func() { d.opts.OnNavigate(url) })
		}
	case *runtime.EventBindingCalled:
		d.handleBinding(e.Name, e.Payload)
	}
}

func (d *TabDriver) handleBinding(name, payload string) {
	switch name {
	case bindingToggle:
		if d.opts.OnToggle != nil {
			d.events.push(d.opts.OnToggle)
		}
	case bindingPlayback:
		var ev struct {
			Time float64 `json:"time"`
			Seek bool    `json:"seek"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Debug("bad playback payload", "target_id", d.targetID, "error", err)
			return
		}
		if d.opts.OnPlayback != nil {
			d.events.push(func() { d.opts.OnPlayback(ev.Time, ev.Seek) })
		}
	}
}

// eval runs js in the tab and decodes its envelope into out.
func (d *TabDriver) eval(ctx context.Context, js string, out any) error {
	evalCtx, cancel := context.WithTimeout(d.ctx, d.opts.EvalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &raw)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return protocol.NewError(protocol.CodeEvalTimeout, "evaluation timed out", err)
		}
		return protocol.NewError(protocol.CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

// Install creates the overlay, toggle button and video listeners.
func (d *TabDriver) Install(ctx context.Context) error {
	var info struct {
		Video  bool `json:"video"`
		Button bool `json:"button"`
	}
	if err := d.eval(ctx, installScript(d.opts.Rules.Container), &info); err != nil {
		return err
	}
	slog.Debug("overlay installed", "target_id", d.targetID, "video", info.Video, "button", info.Button)
	return nil
}

// Render applies v to the overlay.
func (d *TabDriver) Render(ctx context.Context, v overlay.View) error {
	return d.eval(ctx, renderScript(v), nil)
}

// ProbeAds runs the ad detection checks.
func (d *TabDriver) ProbeAds(ctx context.Context) (admonitor.Probe, error) {
	var p admonitor.Probe
	err := d.eval(ctx, d.probeJS, &p)
	return p, err
}

// CurrentURL returns the tab's location.
func (d *TabDriver) CurrentURL(ctx context.Context) (string, error) {
	var href string
	err := d.eval(ctx, buildIIFE(`return JSON.stringify({ok:true,data:String(location.href)});`), &href)
	return href, err
}
