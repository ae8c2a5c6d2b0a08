package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

const (
	listTimeout    = 10 * time.Second
	versionTimeout = 5 * time.Second
)

// ListTargets fetches open targets via the HTTP /json/list endpoint.
func ListTargets(ctx context.Context, httpBase string) ([]*target.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := getJSON(ctx, strings.TrimRight(httpBase, "/")+"/json/list", &entries); err != nil {
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "list targets", err)
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// BrowserWSURL fetches the WebSocket debugger URL from /json/version.
func BrowserWSURL(ctx context.Context, httpBase string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := getJSON(ctx, strings.TrimRight(httpBase, "/")+"/json/version", &info); err != nil {
		return "", protocol.NewError(protocol.CodeCDPUnavailable, "browser version", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", protocol.NewError(protocol.CodeCDPUnavailable, "empty webSocketDebuggerUrl", nil)
	}
	return info.WebSocketDebuggerURL, nil
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// WatchTargets returns the page targets whose URL contains filter
// (case-insensitive). An empty filter matches every page.
func WatchTargets(targets []*target.Info, filter string) []*target.Info {
	filter = strings.ToLower(strings.TrimSpace(filter))
	var out []*target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.URL), filter) {
			continue
		}
		out = append(out, t)
	}
	return out
}
