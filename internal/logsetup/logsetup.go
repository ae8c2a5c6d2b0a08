// Package logsetup installs the process-wide slog logger.
package logsetup

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup writes logs to stdout and a rotated file. Terminals get the text
// handler, everything else JSON.
func Setup(level, filename string) error {
	w, err := writer(filename)
	if err != nil {
		return err
	}
	h := newHandler(w, ParseLevel(level), isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	slog.SetDefault(slog.New(h))
	return nil
}

func writer(filename string) (io.Writer, error) {
	if filename == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, err
	}
	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, logWriter), nil
}

func newHandler(w io.Writer, level slog.Level, text bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if text {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
