// Package videoid resolves YouTube video identifiers from page locations.
package videoid

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	bareIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	urlPatterns   = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`[?&]v=([a-zA-Z0-9_-]{11})`),
	}
)

// FromURL returns the video id in a URL or a bare 11-character id, or ""
// when none can be found.
func FromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if bareIDPattern.MatchString(raw) {
		return raw
	}
	for _, re := range urlPatterns {
		if m := re.FindStringSubmatch(raw); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// IsWatchPage reports whether the location is a video-watch page, the only
// kind of page the agents attach to.
func IsWatchPage(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	if host != "youtube.com" {
		return false
	}
	return u.Path == "/watch" && bareIDPattern.MatchString(u.Query().Get("v"))
}

// WatchURL builds the canonical watch URL for a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}
