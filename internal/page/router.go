package page

import (
	"context"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/router"
)

// Router returns the handlers the background may call on this page.
func (a *Agent) Router() *router.Router {
	r := router.New("page:" + a.cfg.TabID)
	r.Handle(protocol.ActionSetOption, a.handleSetOption)
	r.Handle(protocol.ActionGetState, a.handleGetState)
	r.Handle(protocol.ActionToggleSubtitles, a.handleToggle)
	return r
}

func (a *Agent) handleSetOption(ctx context.Context, req router.Request) (protocol.Response, error) {
	var (
		opts protocol.Options
		err  error
	)
	if callErr := a.call(ctx, func() {
		err = a.setOptions(req.Message)
		opts = a.opts
	}); callErr != nil {
		return protocol.Response{}, protocol.NewError(protocol.CodePageUnavailable, "page agent unavailable", callErr)
	}
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.Response{Success: true, Options: &opts}, nil
}

func (a *Agent) handleGetState(ctx context.Context, _ router.Request) (protocol.Response, error) {
	state, err := a.Snapshot(ctx)
	if err != nil {
		return protocol.Response{}, protocol.NewError(protocol.CodePageUnavailable, "page agent unavailable", err)
	}
	return protocol.Response{Success: true, State: &state}, nil
}

func (a *Agent) handleToggle(ctx context.Context, _ router.Request) (protocol.Response, error) {
	var state protocol.TabState
	if err := a.call(ctx, func() {
		a.toggle()
		state = a.snapshot()
	}); err != nil {
		return protocol.Response{}, protocol.NewError(protocol.CodePageUnavailable, "page agent unavailable", err)
	}
	return protocol.Response{Success: true, State: &state}, nil
}
