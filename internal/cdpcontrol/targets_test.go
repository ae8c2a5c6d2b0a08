package cdpcontrol

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func withDefaultHTTPClient(t *testing.T, transport http.RoundTripper) {
	t.Helper()
	origClient := http.DefaultClient
	t.Cleanup(func() {
		http.DefaultClient = origClient
	})
	http.DefaultClient = &http.Client{
		Transport: transport,
	}
}

func TestListTargetsDecodesEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `[
			{"id":"A1","type":"page","title":"Video","url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
			{"id":"W1","type":"service_worker","title":"sw","url":"https://www.youtube.com/sw.js"},
			{"id":"B1","type":"page","title":"Docs","url":"https://example.com/"}
		]`)
	}))
	defer server.Close()

	targets, err := ListTargets(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("ListTargets() error = %v", err)
	}
	if len(targets) != 3 || targets[0].TargetID != target.ID("A1") {
		t.Fatalf("targets = %+v", targets)
	}

	pages := WatchTargets(targets, "YouTube.com")
	if len(pages) != 1 || pages[0].TargetID != "A1" {
		t.Fatalf("WatchTargets() = %+v; want only A1", pages)
	}
	if got := WatchTargets(targets, ""); len(got) != 2 {
		t.Fatalf("WatchTargets(no filter) = %d pages; want 2", len(got))
	}
}

func TestListTargetsWrapsHTTPError(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader(`oops`)),
		}, nil
	}))

	_, err := ListTargets(context.Background(), "http://example.com")
	var codedErr *protocol.CodedError
	if !errors.As(err, &codedErr) {
		t.Fatalf("expected *CodedError, got %T", err)
	}
	if codedErr.Code != protocol.CodeCDPUnavailable {
		t.Fatalf("error code = %s; want %s", codedErr.Code, protocol.CodeCDPUnavailable)
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Fatalf("error = %q; want status", err)
	}
}

func TestBrowserWSURL(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/json/version" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/x"}`)),
		}, nil
	}))

	got, err := BrowserWSURL(context.Background(), "http://127.0.0.1:9222")
	if err != nil {
		t.Fatalf("BrowserWSURL() error = %v", err)
	}
	if got != "ws://127.0.0.1:9222/devtools/browser/x" {
		t.Fatalf("BrowserWSURL() = %q", got)
	}
}

func TestBrowserWSURLRejectsEmpty(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	}))

	if _, err := BrowserWSURL(context.Background(), "http://127.0.0.1:9222"); !protocol.IsCode(err, protocol.CodeCDPUnavailable) {
		t.Fatalf("error = %v; want %s", err, protocol.CodeCDPUnavailable)
	}
}
