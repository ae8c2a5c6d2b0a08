package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgnsrekt/cayt_agent/internal/bridge"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/router"
)

// bridgeHandler accepts a page agent connection for the tab named by the
// tab_id query parameter. Messages from the page are dispatched with that
// tab as the implicit sender.
func bridgeHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tabID := strings.TrimSpace(r.URL.Query().Get("tab_id"))
		if tabID == "" {
			http.Error(w, "tab_id is required", http.StatusBadRequest)
			return
		}
		sender := router.Sender{TabID: tabID}
		conn, err := bridge.Upgrade(r, w, func(ctx context.Context, msg protocol.Message) protocol.Response {
			return svc.Dispatch(ctx, sender, msg)
		})
		if err != nil {
			slog.Warn("page bridge upgrade failed", "tab_id", tabID, "error", err)
			return
		}

		ctx := r.Context()
		svc.PageConnected(ctx, tabID, conn)
		defer svc.PageDisconnected(tabID, conn)
		if err := conn.Serve(ctx); err != nil {
			slog.Debug("page bridge closed", "tab_id", tabID, "error", err)
		}
	}
}
