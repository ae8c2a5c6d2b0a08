package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/cayt_agent/internal/api"
	"github.com/dgnsrekt/cayt_agent/internal/background"
	"github.com/dgnsrekt/cayt_agent/internal/backend"
	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/coordinator"
	"github.com/dgnsrekt/cayt_agent/internal/journal"
	"github.com/dgnsrekt/cayt_agent/internal/logsetup"
	"github.com/dgnsrekt/cayt_agent/internal/netutil"
	"github.com/dgnsrekt/cayt_agent/internal/notify"
	"github.com/dgnsrekt/cayt_agent/internal/relay"
	"github.com/dgnsrekt/cayt_agent/internal/session"
	"github.com/dgnsrekt/cayt_agent/internal/settings"
	"github.com/gofrs/flock"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadBackground()
	if err != nil {
		slog.Error("failed to load subtitled config", "error", err)
		os.Exit(1)
	}

	if err := logsetup.Setup(cfg.Log.Level, cfg.Log.File); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("subtitled config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"backend_url", cfg.BackendURL,
		"source_lang", cfg.SourceLang,
		"use_context", cfg.UseContext,
		"settings_db", cfg.SettingsDB,
		"journal_dir", cfg.JournalDir,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File,
	)

	if err := os.MkdirAll(filepath.Dir(cfg.LockFile), 0o755); err != nil {
		slog.Error("failed to create lock dir", "lock", cfg.LockFile, "error", err)
		os.Exit(1)
	}
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		slog.Error("failed to acquire daemon lock", "lock", cfg.LockFile, "error", err)
		os.Exit(1)
	}
	if !locked {
		slog.Error("another subtitled instance is already running", "lock", cfg.LockFile)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release daemon lock", "error", err)
		}
	}()

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	if err := netutil.WriteAddrFile(cfg.AddrFile, bindAddr); err != nil {
		slog.Warn("failed to write addr file", "path", cfg.AddrFile, "error", err)
	}

	root, stop := context.WithCancel(context.Background())
	defer stop()

	opts, err := settings.Open(root, cfg.SettingsDB)
	if err != nil {
		slog.Error("failed to open settings store", "path", cfg.SettingsDB, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := opts.Close(); err != nil {
			slog.Debug("settings store close failed", "error", err)
		}
	}()

	broker := relay.NewBroker()
	events := relay.NewRelay(broker)

	store := session.NewStore()
	store.SetObserver(events.OnSessionChange)

	client := backend.NewClient(backend.Config{
		BaseURL:       cfg.BackendURL,
		HealthTimeout: cfg.HealthTimeout,
		CancelTimeout: cfg.CancelTimeout,
		UseContext:    cfg.UseContext,
		ForceSTT:      cfg.ForceSTT,
		NoCache:       cfg.NoCache,
	})
	notifier := &notify.Notifier{Endpoint: cfg.NtfyEndpoint, Threshold: cfg.NtfyThreshold}
	coordOpts := []coordinator.Option{
		coordinator.WithNotifier(notifier),
		coordinator.WithSourceLang(cfg.SourceLang),
	}
	if cfg.JournalDir != "" {
		j := journal.NewWriter(cfg.JournalDir, 0, 0)
		defer func() {
			if err := j.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
		coordOpts = append(coordOpts, coordinator.WithJournal(j))
	}
	coord := coordinator.New(store, client, coordOpts...)
	defer coord.Close()

	svc := background.New(store, coord, opts,
		background.WithRelay(events),
		background.WithPageTimeout(cfg.PageRequestTimeout),
	)
	h := api.NewServer(svc, api.Config{CORSOrigins: cfg.CORSOrigins, Broker: broker})

	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return root },
	}

	go func() {
		slog.Info("subtitled listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("subtitled server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Ending root closes page bridges and event streams, which Shutdown does
	// not track.
	stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("subtitled shutdown failed", "error", err)
	}
}
