package videoid

import "testing"

func TestFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?list=PL1&v=dQw4w9WgXcQ&t=10", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/feed/subscriptions", ""},
		{"", ""},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := FromURL(tt.in); got != tt.want {
			t.Errorf("FromURL(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsWatchPage(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://www.youtube.com/", false},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", false},
		{"https://example.com/watch?v=dQw4w9WgXcQ", false},
	}
	for _, tt := range tests {
		if got := IsWatchPage(tt.in); got != tt.want {
			t.Errorf("IsWatchPage(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
