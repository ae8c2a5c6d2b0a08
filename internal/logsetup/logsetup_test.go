package logsetup

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&buf, slog.LevelInfo, false)).Info("page attached", "tab_id", "7")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"tab_id":"7"`) {
		t.Fatalf("json output = %q", buf.String())
	}

	buf.Reset()
	slog.New(newHandler(&buf, slog.LevelInfo, true)).Info("page attached", "tab_id", "7")
	if !strings.Contains(buf.String(), "tab_id=7") {
		t.Fatalf("text output = %q", buf.String())
	}

	buf.Reset()
	slog.New(newHandler(&buf, slog.LevelWarn, true)).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}
