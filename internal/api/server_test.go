package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/background"
	"github.com/dgnsrekt/cayt_agent/internal/backend"
	"github.com/dgnsrekt/cayt_agent/internal/bridge"
	"github.com/dgnsrekt/cayt_agent/internal/coordinator"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/relay"
	"github.com/dgnsrekt/cayt_agent/internal/router"
)

type stubService struct {
	mu        sync.Mutex
	healthErr error
	health    backend.Health
	tabs      []background.TabInfo
	toggleErr error
	removed   []string
	options   protocol.Options
	lastMsg   protocol.Message
	lastSend  router.Sender
	connected chan string
	gone      chan string
}

func newStub() *stubService {
	return &stubService{
		health:    backend.Health{Status: "healthy", Ollama: "connected", Model: "m"},
		options:   protocol.DefaultOptions(),
		connected: make(chan string, 1),
		gone:      make(chan string, 1),
	}
}

func (s *stubService) Dispatch(ctx context.Context, sender router.Sender, msg protocol.Message) protocol.Response {
	s.mu.Lock()
	s.lastMsg, s.lastSend = msg, sender
	s.mu.Unlock()
	tabID := router.ResolveTab(sender, msg)
	if tabID == "" {
		return protocol.ErrorResponse(protocol.NewError(protocol.CodeValidation, "tab id is required", nil))
	}
	return protocol.Response{Success: true, State: &protocol.TabState{TabID: tabID}}
}

func (s *stubService) CheckHealth(ctx context.Context) (backend.Health, error) {
	return s.health, s.healthErr
}

func (s *stubService) CancelTranslation(ctx context.Context, tabID string) (coordinator.CancelResult, error) {
	return coordinator.CancelResult{VideoID: "dQw4w9WgXcQ", Message: "cancelled"}, nil
}

func (s *stubService) Toggle(ctx context.Context, tabID string) (protocol.TabState, error) {
	if s.toggleErr != nil {
		return protocol.TabState{}, s.toggleErr
	}
	return protocol.TabState{TabID: tabID, IsLoading: true}, nil
}

func (s *stubService) RemoveTab(ctx context.Context, tabID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tabs {
		if t.TabID == tabID {
			s.removed = append(s.removed, tabID)
			return true
		}
	}
	return false
}

func (s *stubService) Tabs() []background.TabInfo { return s.tabs }

func (s *stubService) Tab(tabID string) (background.TabInfo, bool) {
	for _, t := range s.tabs {
		if t.TabID == tabID {
			return t, true
		}
	}
	return background.TabInfo{}, false
}

func (s *stubService) Options(ctx context.Context) (protocol.Options, error) {
	return s.options, nil
}

func (s *stubService) SetOptions(ctx context.Context, msg protocol.Message) (protocol.Options, error) {
	next, err := s.options.Merge(msg)
	if err != nil {
		return s.options, err
	}
	s.options = next
	return next, nil
}

func (s *stubService) PageConnected(ctx context.Context, tabID string, peer background.Peer) {
	s.connected <- tabID
}

func (s *stubService) PageDisconnected(tabID string, peer background.Peer) {
	s.gone <- tabID
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := do(t, NewServer(newStub(), Config{}), http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHealthReportsBackendAndCounts(t *testing.T) {
	svc := newStub()
	svc.tabs = []background.TabInfo{
		{TabState: protocol.TabState{TabID: "1"}, Connected: true},
		{TabState: protocol.TabState{TabID: "2"}},
	}
	w := do(t, NewServer(svc, Config{}), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Status string `json:"status"`
		Ollama string `json:"ollama"`
		Tabs   int    `json:"tabs"`
		Pages  int    `json:"pages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Ollama != "connected" || body.Tabs != 2 || body.Pages != 1 {
		t.Fatalf("health = %+v", body)
	}
}

func TestHealthDegradedWhenBackendDown(t *testing.T) {
	svc := newStub()
	svc.healthErr = protocol.NewError(protocol.CodeBackendUnreachable, "GET /health failed", errors.New("refused"))
	w := do(t, NewServer(svc, Config{}), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"degraded"`) || !strings.Contains(body, "unreachable") {
		t.Fatalf("body = %s", body)
	}
}

func TestTabEndpoints(t *testing.T) {
	svc := newStub()
	svc.tabs = []background.TabInfo{{TabState: protocol.TabState{TabID: "7", IsActive: true}, Connected: true}}
	h := NewServer(svc, Config{})

	w := do(t, h, http.MethodGet, "/api/v1/tabs", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tabId":"7"`) {
		t.Fatalf("list: status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/v1/tabs/7", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"connected":true`) {
		t.Fatalf("get: status=%d body=%s", w.Code, w.Body.String())
	}

	if w = do(t, h, http.MethodGet, "/api/v1/tabs/8", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get unknown: status = %d; want 404", w.Code)
	}

	if w = do(t, h, http.MethodDelete, "/api/v1/tabs/7", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d; want 204", w.Code)
	}
	if w = do(t, h, http.MethodDelete, "/api/v1/tabs/8", ""); w.Code != http.StatusNotFound {
		t.Fatalf("delete unknown: status = %d; want 404", w.Code)
	}
	if len(svc.removed) != 1 || svc.removed[0] != "7" {
		t.Fatalf("removed = %v", svc.removed)
	}
}

func TestToggleMapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{protocol.NewError(protocol.CodeTabNotFound, "no page connected for tab 3", nil), http.StatusNotFound},
		{protocol.NewError(protocol.CodePageUnavailable, "page request failed", nil), http.StatusServiceUnavailable},
		{protocol.NewError(protocol.CodeEvalTimeout, "timeout", nil), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := newStub()
		svc.toggleErr = tt.err
		w := do(t, NewServer(svc, Config{}), http.MethodPost, "/api/v1/tabs/3/toggle", "")
		if w.Code != tt.want {
			t.Fatalf("toggle with %v: status = %d; want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestCancelEndpoint(t *testing.T) {
	w := do(t, NewServer(newStub(), Config{}), http.MethodPost, "/api/v1/tabs/3/cancel", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"videoId":"dQw4w9WgXcQ"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestMessageDispatchHasNoImplicitTab(t *testing.T) {
	svc := newStub()
	h := NewServer(svc, Config{})

	w := do(t, h, http.MethodPost, "/api/v1/message", `{"action":"getState"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"code":"VALIDATION"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/api/v1/message", `{"action":"getState","tabId":"9"}`)
	if !strings.Contains(w.Body.String(), `"tabId":"9"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if svc.lastSend.TabID != "" {
		t.Fatalf("sender tab = %q; want empty", svc.lastSend.TabID)
	}
}

func TestOptionsEndpoints(t *testing.T) {
	svc := newStub()
	h := NewServer(svc, Config{})

	w := do(t, h, http.MethodPut, "/api/v1/options", `{"subtitleSize":"large"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"subtitleSize":"large"`) {
		t.Fatalf("put: status=%d body=%s", w.Code, w.Body.String())
	}
	if w = do(t, h, http.MethodPut, "/api/v1/options", `{"subtitleSize":"huge"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("put invalid: status = %d; want 400", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/options", "")
	if !strings.Contains(w.Body.String(), `"subtitleSize":"large"`) {
		t.Fatalf("get: body = %s", w.Body.String())
	}
}

func TestCORSPreflightAllowsExtensionOrigin(t *testing.T) {
	h := NewServer(newStub(), Config{CORSOrigins: []string{"chrome-extension://*"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tabs", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdef" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestEventsEndpointOnlyWithBroker(t *testing.T) {
	if w := do(t, NewServer(newStub(), Config{}), http.MethodGet, "/api/v1/events", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status without broker = %d; want 404", w.Code)
	}

	broker := relay.NewBroker()
	srv := httptest.NewServer(NewServer(newStub(), Config{Broker: broker}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestBridgeDispatchesWithConnectionTab(t *testing.T) {
	svc := newStub()
	srv := httptest.NewServer(NewServer(svc, Config{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?tab_id=42"
	client, err := bridge.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	go func() { _ = client.Serve(ctx) }()

	select {
	case id := <-svc.connected:
		if id != "42" {
			t.Fatalf("connected tab = %q; want 42", id)
		}
	case <-ctx.Done():
		t.Fatal("page never registered")
	}

	resp, err := client.Request(ctx, protocol.Message{Action: protocol.ActionGetState})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if !resp.Success || resp.State == nil || resp.State.TabID != "42" {
		t.Fatalf("response = %+v", resp)
	}

	_ = client.Close()
	select {
	case id := <-svc.gone:
		if id != "42" {
			t.Fatalf("disconnected tab = %q", id)
		}
	case <-ctx.Done():
		t.Fatal("page never unregistered")
	}
}

func TestBridgeRequiresTabID(t *testing.T) {
	if w := do(t, NewServer(newStub(), Config{}), http.MethodGet, "/ws", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}
