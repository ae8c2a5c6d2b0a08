// Package coordinator issues, deduplicates and cancels translation requests
// against the backend and records their outcome in the session store.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/backend"
	"github.com/dgnsrekt/cayt_agent/internal/journal"
	"github.com/dgnsrekt/cayt_agent/internal/notify"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/session"
	"github.com/dgnsrekt/cayt_agent/internal/videoid"
)

const (
	defaultSourceLang = "en"
	notifyTimeout     = 10 * time.Second

	messageSuperseded = "superseded"
	messageCancelled  = "cancelled"
	messageNotLoading = "not loading"
)

// Backend is the subset of the backend client the coordinator calls.
type Backend interface {
	Health(ctx context.Context) (backend.Health, error)
	Translate(ctx context.Context, videoURL, sourceLang string) (backend.TranslateResponse, error)
	Cancel(ctx context.Context, videoID, taskID string) (backend.CancelResponse, error)
}

// Recorder receives one entry per translation request that reached the
// backend stage.
type Recorder interface {
	Record(e journal.Entry) error
}

// Result is the outcome of RequestTranslation. Exactly one of Data and
// Cancelled is set when err is nil.
type Result struct {
	Data      *protocol.TranslationData
	Cancelled bool
	Message   string
}

// CancelResult is the outcome of CancelTranslation.
type CancelResult struct {
	// VideoID is the video whose loading was stopped, empty for a no-op.
	VideoID string
	Message string
}

type Coordinator struct {
	store      *session.Store
	backend    Backend
	notifier   *notify.Notifier
	journal    Recorder
	sourceLang string
	now        func() time.Time

	// root bounds translate calls, which ignore caller cancellation.
	root context.Context
	stop context.CancelFunc
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithNotifier announces slow translations through n.
func WithNotifier(n *notify.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithJournal records request outcomes through r.
func WithJournal(r Recorder) Option {
	return func(c *Coordinator) { c.journal = r }
}

// WithSourceLang sets the language used when a request names none.
func WithSourceLang(lang string) Option {
	return func(c *Coordinator) {
		if strings.TrimSpace(lang) != "" {
			c.sourceLang = strings.TrimSpace(lang)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store *session.Store, b Backend, opts ...Option) *Coordinator {
	root, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		store:      store,
		backend:    b,
		sourceLang: defaultSourceLang,
		now:        time.Now,
		root:       root,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close aborts translate calls that are still waiting on the backend.
func (c *Coordinator) Close() {
	c.stop()
}

// CheckHealth queries the backend health endpoint.
func (c *Coordinator) CheckHealth(ctx context.Context) (backend.Health, error) {
	return c.backend.Health(ctx)
}

// RequestTranslation translates the video at videoURL for tabID.
//
// A second request for the same (tab, video) while one is in flight fails
// with DUPLICATE_REQUEST before any network call. A request for a different
// video on a tab that is still loading cancels the older one first. The
// pending entry this call registers is released when it returns, whatever
// the outcome.
func (c *Coordinator) RequestTranslation(ctx context.Context, tabID, videoURL, sourceLang string) (Result, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return Result{}, protocol.NewError(protocol.CodeValidation, "tab id is required", nil)
	}
	videoID := videoid.FromURL(videoURL)
	if videoID == "" {
		return Result{}, protocol.NewError(protocol.CodeValidation, "could not resolve a video id from "+videoURL, nil)
	}
	if strings.TrimSpace(sourceLang) == "" {
		sourceLang = c.sourceLang
	}

	key := session.PendingKey{TabID: tabID, VideoID: videoID}
	token, ok := c.store.TryRegister(key)
	if !ok {
		slog.Info("duplicate translation request rejected", "tab_id", tabID, "video_id", videoID)
		return Result{}, protocol.NewError(protocol.CodeDuplicateRequest, "translation already pending for "+videoID, nil)
	}
	defer c.store.Release(key, token)

	if state, ok := c.store.Snapshot(tabID); ok && state.IsLoading && state.VideoID != nil && *state.VideoID != videoID {
		previous := *state.VideoID
		slog.Info("superseding in-flight translation", "tab_id", tabID, "previous_video_id", previous, "video_id", videoID)
		if _, err := c.CancelTranslation(ctx, tabID, previous); err != nil {
			slog.Warn("cancel of superseded translation failed", "tab_id", tabID, "video_id", previous, "error", err)
		}
	}

	gen := c.store.Begin(tabID, videoID)
	begun := c.now()
	entry := journal.Entry{TabID: tabID, VideoID: videoID}

	health, err := c.backend.Health(ctx)
	if err != nil {
		return c.fail(entry, begun, gen, err)
	}
	if !health.LLMConnected() {
		return c.fail(entry, begun, gen, protocol.NewError(protocol.CodeBackendUnhealthy, "ollama status: "+health.Ollama, nil))
	}

	translateCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	detach := context.AfterFunc(c.root, cancel)
	defer detach()

	started := c.now()
	slog.Info("translation requested", "tab_id", tabID, "video_id", videoID, "source_lang", sourceLang)
	resp, err := c.backend.Translate(translateCtx, videoURL, sourceLang)
	elapsed := c.now().Sub(started)
	if err != nil {
		return c.fail(entry, begun, gen, err)
	}
	entry.TaskID = resp.TaskID
	entry.Title = resp.Title

	if resp.Cancelled() {
		c.store.UpdateIf(tabID, gen, func(s *session.TabSession) {
			s.IsLoading = false
			s.VideoID = nil
		})
		msg := resp.Message
		if msg == "" {
			msg = messageCancelled
		}
		slog.Info("translation cancelled by backend", "tab_id", tabID, "video_id", videoID, "message", msg)
		entry.Outcome, entry.Message = journal.OutcomeCancelled, msg
		c.record(entry, begun)
		return Result{Cancelled: true, Message: msg}, nil
	}

	segments := session.NormalizeSegments(resp.Segments)
	_, applied := c.store.UpdateIf(tabID, gen, func(s *session.TabSession) {
		s.IsLoading = false
		s.IsActive = true
		s.Subtitles = segments
		s.TaskID = optional(resp.TaskID)
		s.SourceType = resp.SourceType
		s.Error = nil
	})
	if !applied {
		slog.Info("discarding stale translation", "tab_id", tabID, "video_id", videoID, "task_id", resp.TaskID)
		entry.Outcome, entry.Message = journal.OutcomeSuperseded, messageSuperseded
		c.record(entry, begun)
		return Result{Cancelled: true, Message: messageSuperseded}, nil
	}

	slog.Info("translation applied",
		"tab_id", tabID,
		"video_id", videoID,
		"segments", len(segments),
		"source_type", resp.SourceType,
		"cached", resp.Cached,
		"duration_ms", elapsed.Milliseconds(),
	)
	entry.Outcome = journal.OutcomeApplied
	entry.Segments = len(segments)
	entry.SourceType = resp.SourceType
	entry.Cached = resp.Cached
	c.record(entry, begun)
	c.announce(videoID, resp.Title, len(segments), elapsed)

	resultVideo := resp.VideoID
	if resultVideo == "" {
		resultVideo = videoID
	}
	return Result{Data: &protocol.TranslationData{
		TaskID:        resp.TaskID,
		VideoID:       resultVideo,
		Title:         resp.Title,
		Segments:      segments,
		Context:       resp.Context,
		TotalSegments: len(segments),
		SourceType:    resp.SourceType,
		Cached:        resp.Cached,
	}}, nil
}

// fail records err on the session if gen is still current. A failure that
// arrives after the session moved on is reported as superseded instead.
func (c *Coordinator) fail(entry journal.Entry, begun time.Time, gen uint64, err error) (Result, error) {
	tabID, videoID := entry.TabID, entry.VideoID
	_, applied := c.store.UpdateIf(tabID, gen, func(s *session.TabSession) {
		s.IsLoading = false
		s.VideoID = nil
		s.Error = session.StringPtr(protocol.UserMessage(err))
	})
	if !applied {
		slog.Info("discarding stale translation failure", "tab_id", tabID, "video_id", videoID, "error", err)
		entry.Outcome, entry.Message = journal.OutcomeSuperseded, messageSuperseded
		c.record(entry, begun)
		return Result{Cancelled: true, Message: messageSuperseded}, nil
	}
	slog.Warn("translation failed", "tab_id", tabID, "video_id", videoID, "code", protocol.CodeOf(err), "error", err)
	entry.Outcome, entry.Code, entry.Message = journal.OutcomeFailed, protocol.CodeOf(err), err.Error()
	c.record(entry, begun)
	return Result{}, err
}

func (c *Coordinator) record(e journal.Entry, begun time.Time) {
	if c.journal == nil {
		return
	}
	e.DurationMS = c.now().Sub(begun).Milliseconds()
	if err := c.journal.Record(e); err != nil {
		slog.Debug("journal record failed", "video_id", e.VideoID, "error", err)
	}
}

func (c *Coordinator) announce(videoID, title string, segments int, elapsed time.Duration) {
	if !c.notifier.ShouldNotify(elapsed) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := c.notifier.TranslationReady(ctx, videoID, title, segments, elapsed); err != nil {
			slog.Debug("completion notification failed", "video_id", videoID, "error", err)
		}
	}()
}

// CancelTranslation stops the tab's in-flight translation. It is a
// successful no-op when the tab is not loading. While loading, any cancel
// resets the session; the backend is told about the loading video and, when
// videoID names a different one, about that video as well. Local state is
// reset before the backend is told, and a failed backend call does not undo
// it.
func (c *Coordinator) CancelTranslation(ctx context.Context, tabID, videoID string) (CancelResult, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return CancelResult{}, protocol.NewError(protocol.CodeValidation, "tab id is required", nil)
	}
	videoID = strings.TrimSpace(videoID)

	loaded, ok := c.store.CancelLoading(tabID, videoID)
	if !ok {
		return CancelResult{Message: messageNotLoading}, nil
	}
	slog.Info("translation cancelled", "tab_id", tabID, "video_id", loaded, "requested_video_id", videoID)

	targets := []string{loaded}
	if videoID != "" && videoID != loaded {
		targets = append(targets, videoID)
	}
	msg := messageCancelled
	for i, v := range targets {
		if v == "" {
			continue
		}
		resp, err := c.backend.Cancel(ctx, v, "")
		if err != nil {
			slog.Warn("backend cancel failed", "tab_id", tabID, "video_id", v, "error", err)
			continue
		}
		if i == 0 && resp.Message != "" {
			msg = resp.Message
		}
	}
	return CancelResult{VideoID: loaded, Message: msg}, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return session.StringPtr(v)
}
