package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/netutil"
)

const requestTimeout = 15 * time.Second

type commandContext struct {
	urlFlag  *string
	jsonFlag *bool

	baseOnce sync.Once
	base     string

	httpClient *http.Client
}

func newCommandContext(urlFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		urlFlag:    urlFlag,
		jsonFlag:   jsonFlag,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *commandContext) baseURL() string {
	c.baseOnce.Do(func() {
		if c.urlFlag != nil && strings.TrimSpace(*c.urlFlag) != "" {
			c.base = strings.TrimRight(strings.TrimSpace(*c.urlFlag), "/")
			return
		}
		config.LoadDotEnv()
		cfg, err := config.LoadBackground()
		if err != nil {
			c.base = "http://127.0.0.1:8790"
			return
		}
		c.base = strings.TrimRight(netutil.ReadAddrFile(cfg.AddrFile, "http://"+cfg.BindAddr), "/")
	})
	return c.base
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// call sends one request to the daemon and decodes a JSON answer into out
// when out is non-nil. The raw body is returned for --json output.
func (c *commandContext) call(ctx context.Context, method, path string, body, out any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	base := c.baseURL()
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapDialError(err, base)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, fmt.Errorf("%s %s: %s", method, path, problemDetail(resp.StatusCode, raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return raw, nil
}

func problemDetail(status int, raw []byte) string {
	var problem struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &problem) == nil && problem.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", status, problem.Detail)
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return fmt.Sprintf("HTTP %d: %s", status, text)
	}
	return fmt.Sprintf("HTTP %d", status)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; verify subtitled is running", base)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
