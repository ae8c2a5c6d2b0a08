package netutil

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
)

// freeAddr returns a loopback address that was bindable a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func busyAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestSelectBindAddr(t *testing.T) {
	busy, free := busyAddr(t), freeAddr(t)

	tests := []struct {
		name       string
		preferred  string
		candidates []string
		fallback   bool
		want       string
		wantErr    bool
	}{
		{name: "preferred free", preferred: free, want: free},
		{name: "busy without fallback", preferred: busy, candidates: []string{free}, wantErr: true},
		{name: "busy falls back past itself", preferred: busy, candidates: []string{busy, free}, fallback: true, want: free},
		{name: "no preferred uses candidates", candidates: []string{free}, want: free},
		{name: "nothing bindable", preferred: busy, fallback: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectBindAddr(tt.preferred, tt.candidates, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SelectBindAddr() = %q; want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectBindAddr() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("SelectBindAddr() = %q; want %q", got, tt.want)
			}
		})
	}

	if _, err := SelectBindAddr(busy, nil, true); !errors.Is(err, ErrNoAddr) {
		t.Fatalf("SelectBindAddr() error = %v; want ErrNoAddr", err)
	}
}

func TestAddrFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "subtitled.addr")
	const fallback = "http://127.0.0.1:8790"

	if got := ReadAddrFile(path, fallback); got != fallback {
		t.Fatalf("ReadAddrFile(missing) = %q; want fallback", got)
	}
	if err := WriteAddrFile(path, "127.0.0.1:8791"); err != nil {
		t.Fatalf("WriteAddrFile() error = %v", err)
	}
	if got := ReadAddrFile(path, fallback); got != "http://127.0.0.1:8791" {
		t.Fatalf("ReadAddrFile() = %q", got)
	}
	if err := os.WriteFile(path, []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ReadAddrFile(path, fallback); got != fallback {
		t.Fatalf("ReadAddrFile(blank) = %q; want fallback", got)
	}
	if err := WriteAddrFile("", "ignored"); err != nil {
		t.Fatalf("WriteAddrFile(\"\") error = %v", err)
	}
}
