// Package backend is the HTTP client for the remote translation service.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

const (
	defaultHealthTimeout = 5 * time.Second
	defaultCancelTimeout = 10 * time.Second
	maxErrorBodyBytes    = 64 * 1024
)

// Config captures the runtime settings required to talk to the backend.
type Config struct {
	BaseURL       string
	HealthTimeout time.Duration
	CancelTimeout time.Duration
	UseContext    bool
	ForceSTT      bool
	NoCache       bool
}

// Client wraps the translation backend endpoints. Translate calls have no
// client-side timeout: speech-recognition fallbacks run for minutes and are
// stopped only through Cancel.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = defaultCancelTimeout
	}
	c := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health is the body of GET /health.
type Health struct {
	Status string `json:"status"`
	Ollama string `json:"ollama"`
	Model  string `json:"model"`
	STT    string `json:"stt"`
}

// LLMConnected reports whether the language-model service is usable.
func (h Health) LLMConnected() bool {
	return h.Ollama == "connected"
}

// TranslateResponse is the body of GET /api/v1/translate.
type TranslateResponse struct {
	Success       bool               `json:"success"`
	Segments      []protocol.Segment `json:"segments"`
	TaskID        string             `json:"task_id"`
	VideoID       string             `json:"video_id"`
	Title         string             `json:"title"`
	Context       json.RawMessage    `json:"context,omitempty"`
	TotalSegments int                `json:"total_segments"`
	SourceType    string             `json:"source_type"`
	Cached        bool               `json:"cached"`
	Message       string             `json:"message"`
}

// Cancelled reports whether the backend answered with its "not completed,
// cancelled" shape: a 2xx body with success=false.
func (r TranslateResponse) Cancelled() bool {
	return !r.Success
}

// CancelResponse is the body of POST /api/v1/translate/cancel.
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	VideoID string `json:"video_id,omitempty"`
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

// Translate requests a translation of videoURL from sourceLang.
func (c *Client) Translate(ctx context.Context, videoURL, sourceLang string) (TranslateResponse, error) {
	q := url.Values{}
	q.Set("video_url", videoURL)
	q.Set("source_lang", sourceLang)
	q.Set("use_context", strconv.FormatBool(c.cfg.UseContext))
	if c.cfg.ForceSTT {
		q.Set("force_stt", "true")
	}
	if c.cfg.NoCache {
		q.Set("no_cache", "true")
	}

	var out TranslateResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/translate", q, &out); err != nil {
		return TranslateResponse{}, err
	}
	return out, nil
}

// Cancel asks the backend to stop work for videoID. taskID is optional.
func (c *Client) Cancel(ctx context.Context, videoID, taskID string) (CancelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CancelTimeout)
	defer cancel()

	q := url.Values{}
	if videoID != "" {
		q.Set("video_id", videoID)
	}
	if taskID != "" {
		q.Set("task_id", taskID)
	}
	var out CancelResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/translate/cancel", q, &out); err != nil {
		return CancelResponse{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if c.cfg.BaseURL == "" {
		return protocol.NewError(protocol.CodeBackendUnreachable, "backend url is not configured", nil)
	}
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return protocol.NewError(protocol.CodeBackendUnreachable, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("backend request failed", "method", method, "path", path, "error", err)
		return protocol.NewError(protocol.CodeBackendUnreachable, method+" "+path+" failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	slog.Debug("backend response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return protocol.NewError(protocol.CodeBackendError, errorDetail(resp.StatusCode, body), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.NewError(protocol.CodeBackendError, "empty response body", nil)
		}
		return protocol.NewError(protocol.CodeBackendError, "invalid response body", err)
	}
	return nil
}

// errorDetail extracts the server's explanation from an error body. Both the
// framework's {"detail": ...} and the app's {"message": ...} shapes occur.
func errorDetail(status int, body []byte) string {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		var detail string
		if len(parsed.Detail) > 0 && json.Unmarshal(parsed.Detail, &detail) == nil && detail != "" {
			return fmt.Sprintf("HTTP %d: %s", status, detail)
		}
		if parsed.Message != "" {
			return fmt.Sprintf("HTTP %d: %s", status, parsed.Message)
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}
