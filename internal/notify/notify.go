// Package notify posts plain-text notifications to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier announces translations that ran longer than Threshold. A zero
// Notifier or an empty Endpoint sends nothing.
type Notifier struct {
	Endpoint  string
	Threshold time.Duration
	Client    *http.Client
}

// ShouldNotify reports whether a translation of the given duration is worth
// a notification.
func (n *Notifier) ShouldNotify(elapsed time.Duration) bool {
	if n == nil || strings.TrimSpace(n.Endpoint) == "" {
		return false
	}
	return elapsed >= n.Threshold
}

// TranslationReady sends the completion message for one video.
func (n *Notifier) TranslationReady(ctx context.Context, videoID, title string, segments int, elapsed time.Duration) error {
	if n == nil || strings.TrimSpace(n.Endpoint) == "" {
		return nil
	}
	return Send(ctx, n.Client, n.Endpoint, completionMessage(videoID, title, segments, elapsed))
}

func completionMessage(videoID, title string, segments int, elapsed time.Duration) string {
	name := strings.TrimSpace(title)
	if name == "" {
		name = videoID
	}
	return fmt.Sprintf("Subtitles ready: %s (%d segments, %s)", name, segments, elapsed.Round(time.Second))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "cayt")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
