// Package netutil selects the daemon's listen address and advertises it to
// the other processes through a small address file.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoAddr is returned when neither the preferred address nor any
// candidate can be bound.
var ErrNoAddr = errors.New("no available bind address")

// SelectBindAddr returns preferred when it can be bound, otherwise the first
// bindable candidate if autoFallback is set.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		if IsAddrAvailable(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}
	for _, addr := range candidates {
		if addr != preferred && IsAddrAvailable(addr) {
			return addr, nil
		}
	}
	return "", ErrNoAddr
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// WriteAddrFile records the daemon's base URL for other processes.
func WriteAddrFile(path, addr string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create addr dir: %w", err)
	}
	return os.WriteFile(path, []byte("http://"+addr+"\n"), 0o644)
}

// ReadAddrFile returns the base URL recorded at path, or fallback when the
// file is absent or empty.
func ReadAddrFile(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	if url := strings.TrimSpace(string(data)); url != "" {
		return url
	}
	return fallback
}
