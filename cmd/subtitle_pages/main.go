package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgnsrekt/cayt_agent/internal/browser"
	"github.com/dgnsrekt/cayt_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/logsetup"
	"github.com/dgnsrekt/cayt_agent/internal/netutil"
	"github.com/dgnsrekt/cayt_agent/internal/pagehost"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadPageHost()
	if err != nil {
		slog.Error("failed to load subtitle_pages config", "error", err)
		os.Exit(1)
	}

	if err := logsetup.Setup(cfg.Log.Level, cfg.Log.File); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	cfg.BackgroundURL = netutil.ReadAddrFile(cfg.AddrFile, cfg.BackgroundURL)

	rules, err := config.LoadAdRules(cfg.AdRulesPath)
	if err != nil {
		slog.Error("failed to load ad rules", "path", cfg.AdRulesPath, "error", err)
		os.Exit(1)
	}

	slog.Info("subtitle_pages config loaded",
		"cdp_url", cfg.CDPURL(),
		"background_url", cfg.BackgroundURL,
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout_ms", cfg.EvalTimeout.Milliseconds(),
		"ad_poll_ms", cfg.AdPollInterval.Milliseconds(),
		"ad_rules", cfg.AdRulesPath,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			Binary:     cfg.BrowserBinary,
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	b, err := cdpcontrol.Connect(ctx, cfg.CDPURL())
	if err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer b.Close()

	host := pagehost.New(cfg, rules, pagehost.CDPBrowser{Browser: b}, pagehost.DialBridge)
	slog.Info("subtitle_pages running", "background_url", cfg.BackgroundURL)
	if err := host.Run(ctx); err != nil {
		slog.Error("page host stopped", "error", err)
	}
}
