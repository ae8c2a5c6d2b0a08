// Package background is the daemon side of the protocol: it owns the tab
// sessions, answers page messages and pushes commands to connected pages.
package background

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/backend"
	"github.com/dgnsrekt/cayt_agent/internal/coordinator"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/relay"
	"github.com/dgnsrekt/cayt_agent/internal/router"
	"github.com/dgnsrekt/cayt_agent/internal/session"
)

const defaultPageTimeout = 10 * time.Second

// OptionsStore persists display options.
type OptionsStore interface {
	Load(ctx context.Context) (protocol.Options, error)
	Update(ctx context.Context, msg protocol.Message) (protocol.Options, error)
}

// Service wires the session store, coordinator and option store behind one
// router.
type Service struct {
	store       *session.Store
	coord       *coordinator.Coordinator
	options     OptionsStore
	relay       *relay.Relay
	router      *router.Router
	pages       *Pages
	pageTimeout time.Duration
}

// Option customizes the service.
type Option func(*Service)

// WithRelay publishes page and option changes through r.
func WithRelay(r *relay.Relay) Option {
	return func(s *Service) { s.relay = r }
}

// WithPageTimeout bounds requests sent to page agents.
func WithPageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pageTimeout = d
		}
	}
}

func New(store *session.Store, coord *coordinator.Coordinator, options OptionsStore, opts ...Option) *Service {
	s := &Service{
		store:       store,
		coord:       coord,
		options:     options,
		pages:       newPages(),
		pageTimeout: defaultPageTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := router.New("background")
	r.Handle(protocol.ActionCheckHealth, s.handleCheckHealth)
	r.Handle(protocol.ActionTranslate, s.handleTranslate, router.RequiresTab())
	r.Handle(protocol.ActionCancelTranslation, s.handleCancel, router.RequiresTab())
	r.Handle(protocol.ActionGetState, s.handleGetState, router.RequiresTab())
	r.Handle(protocol.ActionSetState, s.handleSetState, router.RequiresTab())
	r.Handle(protocol.ActionUpdateState, s.handleUpdateState, router.RequiresTab())
	r.Handle(protocol.ActionSetOption, s.handleSetOption)
	s.router = r
	return s
}

// Store returns the session store.
func (s *Service) Store() *session.Store {
	return s.store
}

// Pages returns the connected page registry.
func (s *Service) Pages() *Pages {
	return s.pages
}

// Dispatch answers one message. The first message naming a tab creates its
// session.
func (s *Service) Dispatch(ctx context.Context, sender router.Sender, msg protocol.Message) protocol.Response {
	if tabID := router.ResolveTab(sender, msg); tabID != "" {
		if _, ok := s.store.Snapshot(tabID); !ok {
			s.store.GetOrCreate(tabID)
		}
	}
	return s.router.Dispatch(ctx, sender, msg)
}

// CheckHealth queries the translation backend.
func (s *Service) CheckHealth(ctx context.Context) (backend.Health, error) {
	return s.coord.CheckHealth(ctx)
}

// CancelTranslation stops the tab's in-flight translation.
func (s *Service) CancelTranslation(ctx context.Context, tabID string) (coordinator.CancelResult, error) {
	return s.coord.CancelTranslation(ctx, tabID, "")
}

func (s *Service) handleCheckHealth(ctx context.Context, _ router.Request) (protocol.Response, error) {
	h, err := s.CheckHealth(ctx)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Success: true, Ollama: h.Ollama, Model: h.Model, STT: h.STT}, nil
}

func (s *Service) handleTranslate(ctx context.Context, req router.Request) (protocol.Response, error) {
	res, err := s.coord.RequestTranslation(ctx, req.TabID, req.Message.VideoURL, req.Message.SourceLang)
	if err != nil {
		return protocol.Response{}, err
	}
	if res.Cancelled {
		return protocol.Response{Success: false, Cancelled: true, Message: res.Message}, nil
	}
	return protocol.Response{Success: true, Data: res.Data}, nil
}

func (s *Service) handleCancel(ctx context.Context, req router.Request) (protocol.Response, error) {
	res, err := s.coord.CancelTranslation(ctx, req.TabID, req.Message.VideoID)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Success: true, Message: res.Message}, nil
}

func (s *Service) handleGetState(_ context.Context, req router.Request) (protocol.Response, error) {
	state := s.store.GetOrCreate(req.TabID)
	return protocol.Response{Success: true, State: &state}, nil
}

func (s *Service) handleSetState(_ context.Context, req router.Request) (protocol.Response, error) {
	var state protocol.TabState
	if req.Message.State == nil {
		state = s.store.GetOrCreate(req.TabID)
	} else {
		state = s.store.Apply(req.TabID, *req.Message.State)
	}
	return protocol.Response{Success: true, State: &state}, nil
}

func (s *Service) handleUpdateState(_ context.Context, req router.Request) (protocol.Response, error) {
	if req.Message.State == nil {
		return protocol.Response{}, protocol.NewError(protocol.CodeValidation, "state is required", nil)
	}
	s.store.Apply(req.TabID, *req.Message.State)
	return protocol.OK(), nil
}

func (s *Service) handleSetOption(ctx context.Context, req router.Request) (protocol.Response, error) {
	opts, err := s.SetOptions(ctx, req.Message)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Success: true, Options: &opts}, nil
}

// Options returns the persisted display options.
func (s *Service) Options(ctx context.Context) (protocol.Options, error) {
	return s.options.Load(ctx)
}

// SetOptions persists the option fields of msg and forwards the result to
// every connected page.
func (s *Service) SetOptions(ctx context.Context, msg protocol.Message) (protocol.Options, error) {
	opts, err := s.options.Update(ctx, msg)
	if err != nil {
		return opts, err
	}
	slog.Info("options updated", "show_original", opts.ShowOriginal, "subtitle_size", opts.SubtitleSize)
	if s.relay != nil {
		s.relay.OptionsChanged(opts)
	}
	for _, tabID := range s.pages.IDs() {
		go s.pushOptions(tabID, opts)
	}
	return opts, nil
}

func (s *Service) pushOptions(tabID string, opts protocol.Options) {
	ctx, cancel := context.WithTimeout(context.Background(), s.pageTimeout)
	defer cancel()
	show := opts.ShowOriginal
	msg := protocol.Message{Action: protocol.ActionSetOption, ShowOriginal: &show, SubtitleSize: opts.SubtitleSize}
	if _, err := s.SendToPage(ctx, tabID, msg); err != nil {
		slog.Debug("option push failed", "tab_id", tabID, "error", err)
	}
}

// SendToPage forwards msg to the page agent of tabID.
func (s *Service) SendToPage(ctx context.Context, tabID string, msg protocol.Message) (protocol.Response, error) {
	tabID = strings.TrimSpace(tabID)
	peer, ok := s.pages.Get(tabID)
	if !ok {
		return protocol.Response{}, protocol.NewError(protocol.CodeTabNotFound, "no page connected for tab "+tabID, nil)
	}
	resp, err := peer.Request(ctx, msg)
	if err != nil {
		return protocol.Response{}, protocol.NewError(protocol.CodePageUnavailable, "page request failed", err)
	}
	if !resp.Success && resp.Code != "" {
		return resp, protocol.NewError(resp.Code, resp.Error, nil)
	}
	return resp, nil
}

// Toggle presses the subtitle toggle in the tab's page.
func (s *Service) Toggle(ctx context.Context, tabID string) (protocol.TabState, error) {
	resp, err := s.SendToPage(ctx, tabID, protocol.Message{Action: protocol.ActionToggleSubtitles})
	if err != nil {
		return protocol.TabState{}, err
	}
	if resp.State == nil {
		return protocol.TabState{TabID: tabID}, nil
	}
	return *resp.State, nil
}

// RemoveTab handles the tab-removal signal: in-flight work is cancelled and
// the session with its pending keys is dropped. It reports whether the tab
// was known.
func (s *Service) RemoveTab(ctx context.Context, tabID string) bool {
	if _, err := s.coord.CancelTranslation(ctx, tabID, ""); err != nil {
		slog.Debug("cancel on tab removal failed", "tab_id", tabID, "error", err)
	}
	removed := s.store.Remove(tabID)
	slog.Info("tab session removed", "tab_id", tabID, "known", removed)
	return removed
}
