// Package browser starts a local Chromium with remote debugging enabled for
// the page host to attach to.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/cdpcontrol"
)

const (
	readyTimeout = 15 * time.Second
	readyPoll    = 250 * time.Millisecond
	stopGrace    = 5 * time.Second
)

var chromiumNames = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

const macChrome = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"

type Config struct {
	// Binary is used as is when set. Otherwise PATH is searched.
	Binary     string
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	WindowSize string
	ExtraArgs  []string
}

// Launcher owns at most one browser process. A browser that already
// listens on the debugging port is reused and never stopped.
type Launcher struct {
	cfg Config

	mu     sync.Mutex
	proc   *os.Process
	exited chan struct{}
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1280,800"
	}
	return &Launcher{cfg: cfg}
}

func (l *Launcher) debugAddr() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func findBinary(preferred string) (string, error) {
	if preferred != "" {
		return exec.LookPath(preferred)
	}
	for _, name := range chromiumNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	if runtime.GOOS == "darwin" {
		if _, err := os.Stat(macChrome); err == nil {
			return macChrome, nil
		}
	}
	return "", fmt.Errorf("no chromium binary on PATH (tried %v)", chromiumNames)
}

func listening(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// commandLine allows autoplay so the player keeps emitting time updates in
// a background window.
func (l *Launcher) commandLine() []string {
	c := l.cfg
	args := make([]string, 0, 8+len(c.ExtraArgs)+1)
	args = append(args,
		"--remote-debugging-address="+c.CDPAddress,
		"--remote-debugging-port="+strconv.Itoa(c.CDPPort),
		"--user-data-dir="+c.ProfileDir,
		"--window-size="+c.WindowSize,
		"--autoplay-policy=no-user-gesture-required",
		"--disable-dev-shm-usage",
		"--no-default-browser-check",
		"--no-first-run",
	)
	args = append(args, c.ExtraArgs...)
	if c.StartURL != "" {
		args = append(args, c.StartURL)
	}
	return args
}

// Launch starts Chromium and waits for its debugging endpoint.
func (l *Launcher) Launch(ctx context.Context) error {
	addr := l.debugAddr()
	if listening(addr) {
		slog.Info("reusing browser on debugging port", "addr", addr)
		return nil
	}

	bin, err := findBinary(l.cfg.Binary)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	cmd := exec.Command(bin, l.commandLine()...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	l.mu.Lock()
	l.proc, l.exited = cmd.Process, exited
	l.mu.Unlock()
	slog.Info("browser started", "binary", bin, "pid", cmd.Process.Pid)

	if err := l.awaitDebugger(ctx, exited); err != nil {
		l.Stop()
		return fmt.Errorf("await debugger on %s: %w", addr, err)
	}
	slog.Info("browser debugger ready", "addr", addr)
	return nil
}

var errExited = errors.New("browser exited before the debugger came up")

func (l *Launcher) awaitDebugger(ctx context.Context, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	base := "http://" + l.debugAddr()
	tick := time.NewTicker(readyPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return errExited
		case <-tick.C:
			if _, err := cdpcontrol.BrowserWSURL(ctx, base); err == nil {
				return nil
			}
		}
	}
}

// Running reports whether a browser started by Launch is still alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proc == nil {
		return false
	}
	select {
	case <-l.exited:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM and escalates to SIGKILL after stopGrace.
func (l *Launcher) Stop() {
	l.mu.Lock()
	proc, exited := l.proc, l.exited
	l.proc = nil
	l.mu.Unlock()
	if proc == nil {
		return
	}

	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-exited:
		slog.Info("browser stopped", "pid", proc.Pid)
	case <-time.After(stopGrace):
		slog.Warn("browser ignored SIGTERM, killing", "pid", proc.Pid)
		_ = proc.Kill()
		<-exited
	}
}
