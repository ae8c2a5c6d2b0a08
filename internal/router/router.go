// Package router dispatches protocol messages to registered handlers. Every
// dispatched message produces exactly one response.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

// Sender is the implicit context a message arrived from.
type Sender struct {
	// TabID is the tab bound to the connection, empty for callers with no
	// tab of their own.
	TabID string
}

// Request is a message with its resolved tab.
type Request struct {
	Sender  Sender
	Message protocol.Message
	TabID   string
}

// Handler answers one action. A returned error becomes an error response.
type Handler func(ctx context.Context, req Request) (protocol.Response, error)

type route struct {
	handler     Handler
	requiresTab bool
}

// RouteOption customizes a registration.
type RouteOption func(*route)

// RequiresTab rejects messages for which no tab can be resolved.
func RequiresTab() RouteOption {
	return func(r *route) { r.requiresTab = true }
}

type Router struct {
	name string

	mu     sync.RWMutex
	routes map[protocol.Action]route
}

// New returns an empty router. name labels log lines.
func New(name string) *Router {
	return &Router{name: name, routes: make(map[protocol.Action]route)}
}

// Handle registers h for action, replacing any previous handler.
func (r *Router) Handle(action protocol.Action, h Handler, opts ...RouteOption) {
	rt := route{handler: h}
	for _, opt := range opts {
		opt(&rt)
	}
	r.mu.Lock()
	r.routes[action] = rt
	r.mu.Unlock()
}

// Actions returns the registered actions in name order.
func (r *Router) Actions() []protocol.Action {
	r.mu.RLock()
	out := make([]protocol.Action, 0, len(r.routes))
	for a := range r.routes {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveTab returns the tab a message addresses: the explicit field wins
// over the sender's implicit tab.
func ResolveTab(sender Sender, msg protocol.Message) string {
	if tab := strings.TrimSpace(msg.TabID); tab != "" {
		return tab
	}
	return strings.TrimSpace(sender.TabID)
}

// Dispatch routes msg and always returns a response, including for unknown
// actions and handler panics.
func (r *Router) Dispatch(ctx context.Context, sender Sender, msg protocol.Message) (resp protocol.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panic", "router", r.name, "action", msg.Action, "panic", rec)
			resp = protocol.ErrorResponse(protocol.NewError(protocol.CodeInternal, fmt.Sprintf("handler panic: %v", rec), nil))
		}
	}()

	r.mu.RLock()
	rt, ok := r.routes[msg.Action]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("unknown action", "router", r.name, "action", msg.Action)
		return protocol.ErrorResponse(protocol.NewError(protocol.CodeUnknownAction, "unknown action: "+string(msg.Action), nil))
	}

	req := Request{Sender: sender, Message: msg, TabID: ResolveTab(sender, msg)}
	if rt.requiresTab && req.TabID == "" {
		return protocol.ErrorResponse(protocol.NewError(protocol.CodeValidation, "tabId is required for "+string(msg.Action), nil))
	}

	slog.Debug("dispatch", "router", r.name, "action", msg.Action, "tab_id", req.TabID)
	out, err := rt.handler(ctx, req)
	if err != nil {
		slog.Debug("handler error", "router", r.name, "action", msg.Action, "tab_id", req.TabID, "error", err)
		return protocol.ErrorResponse(err)
	}
	return out
}
