// Package page runs the agent attached to one watch tab. The agent keeps the
// tab's working copy of the session, drives the overlay from playback time,
// and follows navigation and ad interstitials.
package page

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/admonitor"
	"github.com/dgnsrekt/cayt_agent/internal/overlay"
	"github.com/dgnsrekt/cayt_agent/internal/playback"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/session"
	"github.com/dgnsrekt/cayt_agent/internal/videoid"
)

const (
	defaultReinitDelay    = 1500 * time.Millisecond
	defaultRequestTimeout = 10 * time.Second
	maxInstallAttempts    = 3
	eventBuffer           = 64
)

// ErrStopped is returned by calls made after the agent loop has exited.
var ErrStopped = errors.New("page agent stopped")

// State is the agent's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initialized
	Loading
	Active
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Loading:
		return "loading"
	case Active:
		return "active"
	}
	return "uninitialized"
}

// Driver performs the DOM side effects in the tab.
type Driver interface {
	// Install creates the overlay and attaches the player listeners. It is
	// called again after every navigation.
	Install(ctx context.Context) error
	Render(ctx context.Context, v overlay.View) error
	ProbeAds(ctx context.Context) (admonitor.Probe, error)
}

// Messenger sends a request to the background daemon.
type Messenger interface {
	Request(ctx context.Context, msg protocol.Message) (protocol.Response, error)
}

type Config struct {
	TabID          string
	SourceLang     string
	ReinitDelay    time.Duration
	AdPollInterval time.Duration
	RequestTimeout time.Duration
}

// Agent is a single-goroutine event loop. Every field below events is owned
// by the loop; other goroutines reach it only through post.
type Agent struct {
	cfg    Config
	driver Driver
	remote Messenger

	events chan func()
	done   chan struct{}

	ctx      context.Context
	state    State
	url      string
	videoID  string
	taskID   string
	opts     protocol.Options
	lastTime float64
	sync     *playback.Synchronizer
	monitor  admonitor.Monitor
	cache    admonitor.Cache
	poller   *admonitor.Poller
	reinit   *time.Timer
	attempts int

	// seq tags remote calls whose result changes local state; nav tags
	// timers and probes that belong to one page.
	seq uint64
	nav uint64
}

func New(cfg Config, driver Driver, remote Messenger) *Agent {
	if cfg.ReinitDelay <= 0 {
		cfg.ReinitDelay = defaultReinitDelay
	}
	if cfg.AdPollInterval <= 0 {
		cfg.AdPollInterval = admonitor.DefaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Agent{
		cfg:    cfg,
		driver: driver,
		remote: remote,
		events: make(chan func(), eventBuffer),
		done:   make(chan struct{}),
		opts:   protocol.DefaultOptions(),
		sync:   playback.New(),
	}
}

// Run processes events until ctx ends. url is the tab's location when the
// agent attaches.
func (a *Agent) Run(ctx context.Context, url string) error {
	defer close(a.done)
	a.ctx = ctx
	a.url = url
	if videoid.IsWatchPage(url) {
		a.videoID = videoid.FromURL(url)
		a.initialize(a.nav)
	}

	for {
		select {
		case <-ctx.Done():
			a.stopTimers()
			return ctx.Err()
		case fn := <-a.events:
			fn()
		}
	}
}

// Done is closed when Run returns.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

func (a *Agent) post(fn func()) bool {
	select {
	case a.events <- fn:
		return true
	case <-a.done:
		return false
	}
}

// tryPost drops fn when the loop is backed up.
func (a *Agent) tryPost(fn func()) {
	select {
	case a.events <- fn:
	default:
	}
}

// call runs fn on the loop and waits for it.
func (a *Agent) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !a.post(func() { fn(); close(finished) }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}
}

// Toggle handles the in-player toggle button.
func (a *Agent) Toggle() {
	a.post(a.toggle)
}

// PlaybackTime handles both time updates and seeks.
func (a *Agent) PlaybackTime(t float64) {
	a.post(func() { a.onTime(t) })
}

// Navigated handles a location change of the tab.
func (a *Agent) Navigated(url string) {
	a.post(func() { a.onNavigate(url) })
}

// ReportAds feeds one ad probe into the monitor.
func (a *Agent) ReportAds(p admonitor.Probe) {
	a.post(func() { a.onProbe(a.nav, p) })
}

// Snapshot returns the working copy as a tab state.
func (a *Agent) Snapshot(ctx context.Context) (protocol.TabState, error) {
	var out protocol.TabState
	err := a.call(ctx, func() { out = a.snapshot() })
	return out, err
}

// Status returns the lifecycle state.
func (a *Agent) Status(ctx context.Context) (State, error) {
	var out State
	err := a.call(ctx, func() { out = a.state })
	return out, err
}

func (a *Agent) snapshot() protocol.TabState {
	segs := a.sync.Segments()
	st := protocol.TabState{
		TabID:         a.cfg.TabID,
		IsActive:      a.state == Active,
		IsLoading:     a.state == Loading,
		Subtitles:     segs,
		TotalSegments: len(segs),
	}
	if a.videoID != "" {
		st.VideoID = session.StringPtr(a.videoID)
	}
	if a.taskID != "" {
		st.TaskID = session.StringPtr(a.taskID)
	}
	return st
}

func (a *Agent) size() overlay.Size {
	return overlay.ParseSize(a.opts.SubtitleSize)
}

func (a *Agent) render(v overlay.View) {
	if err := a.driver.Render(a.ctx, v); err != nil {
		slog.Warn("overlay render failed", "tab_id", a.cfg.TabID, "kind", v.Kind, "error", err)
	}
}

func (a *Agent) initialize(nav uint64) {
	if nav != a.nav {
		return
	}
	a.reinit = nil
	if err := a.driver.Install(a.ctx); err != nil {
		a.attempts++
		slog.Warn("page install failed", "tab_id", a.cfg.TabID, "attempt", a.attempts, "error", err)
		if a.attempts < maxInstallAttempts {
			a.scheduleInit()
		}
		return
	}
	a.attempts = 0
	a.state = Initialized
	a.monitor.Reset()
	a.poller = admonitor.StartPoller(a.ctx, a.cfg.AdPollInterval, a.driver.ProbeAds, func(p admonitor.Probe) {
		a.tryPost(func() { a.onProbe(nav, p) })
	})
	slog.Info("page agent initialized", "tab_id", a.cfg.TabID, "video_id", a.videoID)
}

func (a *Agent) scheduleInit() {
	nav := a.nav
	a.reinit = time.AfterFunc(a.cfg.ReinitDelay, func() {
		a.post(func() { a.initialize(nav) })
	})
}

func (a *Agent) stopTimers() {
	if a.reinit != nil {
		a.reinit.Stop()
		a.reinit = nil
	}
	if a.poller != nil {
		a.poller.Stop()
		a.poller = nil
	}
}

func (a *Agent) toggle() {
	switch a.state {
	case Uninitialized:
		slog.Debug("toggle ignored before initialization", "tab_id", a.cfg.TabID)
	case Initialized:
		a.startTranslation()
	case Loading:
		a.seq++
		a.cache.Clear()
		a.state = Initialized
		a.render(overlay.Hidden(a.size()))
		a.send(protocol.Message{Action: protocol.ActionCancelTranslation, VideoID: a.videoID})
	case Active:
		a.deactivate()
		off := false
		a.send(protocol.Message{Action: protocol.ActionSetState, State: &protocol.StatePatch{IsActive: &off}})
	}
}

func (a *Agent) startTranslation() {
	if a.videoID == "" {
		return
	}
	a.seq++
	seq := a.seq
	a.state = Loading
	if a.monitor.State() != admonitor.AdPlaying {
		a.render(overlay.Loading(a.size()))
	}
	msg := protocol.Message{
		Action:     protocol.ActionTranslate,
		TabID:      a.cfg.TabID,
		VideoURL:   videoid.WatchURL(a.videoID),
		SourceLang: a.cfg.SourceLang,
	}
	go func() {
		// Translations can run for minutes; only the agent's lifetime bounds them.
		resp, err := a.remote.Request(a.ctx, msg)
		a.post(func() { a.onTranslated(seq, resp, err) })
	}()
}

func (a *Agent) onTranslated(seq uint64, resp protocol.Response, err error) {
	if seq != a.seq || a.state != Loading {
		slog.Debug("ignoring stale translation result", "tab_id", a.cfg.TabID, "seq", seq)
		return
	}
	if err != nil {
		resp = protocol.ErrorResponse(err)
	}
	switch {
	case resp.Success && resp.Data != nil:
		a.sync.Load(resp.Data.Segments)
		a.taskID = resp.Data.TaskID
		a.state = Active
		slog.Info("subtitles loaded", "tab_id", a.cfg.TabID, "video_id", a.videoID, "segments", a.sync.Len())
		if a.monitor.State() != admonitor.AdPlaying {
			a.resync(a.lastTime)
		}
	case resp.Cancelled:
		a.state = Initialized
		a.render(overlay.Hidden(a.size()))
	default:
		a.state = Initialized
		slog.Warn("translation failed", "tab_id", a.cfg.TabID, "video_id", a.videoID, "code", resp.Code, "error", resp.Error)
		a.render(overlay.Error(resp.Error, a.size()))
	}
}

func (a *Agent) deactivate() {
	a.cache.Clear()
	a.sync.Reset()
	a.taskID = ""
	a.state = Initialized
	a.render(overlay.Hidden(a.size()))
}

func (a *Agent) onTime(t float64) {
	if a.monitor.State() == admonitor.AdPlaying {
		return
	}
	a.lastTime = t
	if a.state != Active {
		return
	}
	a.resync(t)
}

func (a *Agent) resync(t float64) {
	upd := a.sync.OnTimeOrSeek(t)
	if upd.Changed {
		a.render(overlay.Render(upd.Segment, a.opts.ShowOriginal, a.size()))
	}
}

func (a *Agent) onProbe(nav uint64, p admonitor.Probe) {
	if nav != a.nav || a.state == Uninitialized {
		return
	}
	switch a.monitor.ObserveProbe(p) {
	case admonitor.Started:
		captured := a.cache.Capture(a.state == Active, a.sync.Segments(), a.taskID, a.videoID)
		slog.Info("ad started", "tab_id", a.cfg.TabID, "captured", captured)
		a.render(overlay.Hidden(a.size()))
	case admonitor.Ended:
		current := videoid.FromURL(p.Href)
		snap, ok := a.cache.Restore(current)
		slog.Info("ad ended", "tab_id", a.cfg.TabID, "video_id", current, "restored", ok)
		if ok && current == a.videoID {
			a.sync.Load(snap.Subtitles)
			a.taskID = snap.TaskID
			a.state = Active
		}
		a.lastTime = p.CurrentTime
		switch a.state {
		case Active:
			a.sync.Invalidate()
			a.resync(p.CurrentTime)
		case Loading:
			a.render(overlay.Loading(a.size()))
		}
	}
}

func (a *Agent) onNavigate(url string) {
	watch := videoid.IsWatchPage(url)
	next := ""
	if watch {
		next = videoid.FromURL(url)
	}
	a.url = url
	if next != "" && next == a.videoID && a.state != Uninitialized {
		return
	}

	prevState, prevVideo := a.state, a.videoID
	a.nav++
	a.seq++
	a.stopTimers()
	if prevState == Active || prevState == Loading {
		a.render(overlay.Hidden(a.size()))
	}
	a.sync.Reset()
	a.cache.Clear()
	a.monitor.Reset()
	a.taskID = ""
	a.lastTime = 0
	a.attempts = 0
	a.state = Uninitialized
	a.videoID = next

	slog.Info("page navigated", "tab_id", a.cfg.TabID, "from_video_id", prevVideo, "to_video_id", next, "watch", watch)
	if prevVideo != "" {
		a.teardownRemote(prevState, prevVideo)
	}
	if watch && next != "" {
		a.scheduleInit()
	}
}

// teardownRemote cancels the old video if it was loading and resets the
// background session. Both calls are best-effort and run in order.
func (a *Agent) teardownRemote(prev State, videoID string) {
	tabID := a.cfg.TabID
	go func() {
		if prev == Loading {
			ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
			_, err := a.remote.Request(ctx, protocol.Message{Action: protocol.ActionCancelTranslation, TabID: tabID, VideoID: videoID})
			cancel()
			if err != nil {
				slog.Warn("cancel on navigation failed", "tab_id", tabID, "video_id", videoID, "error", err)
			}
		}
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()
		if _, err := a.remote.Request(ctx, protocol.Message{Action: protocol.ActionSetState, TabID: tabID, State: &protocol.StatePatch{Reset: true}}); err != nil {
			slog.Debug("session reset on navigation failed", "tab_id", tabID, "error", err)
		}
	}()
}

// send issues a best-effort request whose result is only logged.
func (a *Agent) send(msg protocol.Message) {
	msg.TabID = a.cfg.TabID
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()
		resp, err := a.remote.Request(ctx, msg)
		if err == nil && !resp.Success {
			err = protocol.NewError(resp.Code, resp.Error, nil)
		}
		if err != nil {
			slog.Warn("background request failed", "tab_id", msg.TabID, "action", msg.Action, "error", err)
		}
	}()
}

func (a *Agent) setOptions(msg protocol.Message) error {
	merged, err := a.opts.Merge(msg)
	if err != nil {
		return err
	}
	a.opts = merged
	if a.monitor.State() == admonitor.AdPlaying {
		return nil
	}
	switch a.state {
	case Active:
		a.sync.Invalidate()
		a.resync(a.lastTime)
	case Loading:
		a.render(overlay.Loading(a.size()))
	}
	return nil
}
