package config

import (
	"strings"
	"time"
)

// PageHostConfig configures the subtitle_pages process.
type PageHostConfig struct {
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// BackgroundURL is the daemon's HTTP base, e.g. http://127.0.0.1:8790.
	// A daemon that fell back to another port records it in AddrFile, which
	// takes precedence.
	BackgroundURL string
	AddrFile      string

	EvalTimeout    time.Duration
	AdPollInterval time.Duration
	ReinitDelay    time.Duration
	TabScanEvery   time.Duration
	AdRulesPath    string

	LaunchBrowser bool
	// BrowserBinary overrides the Chromium lookup on PATH.
	BrowserBinary string
	ProfileDir    string
	StartURL      string

	Log LogConfig
}

// LoadPageHost reads page-host configuration from environment variables.
func LoadPageHost() (*PageHostConfig, error) {
	cfg := &PageHostConfig{
		CDPAddress:     getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:        getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:   strings.ToLower(getEnvOrDefault("PAGES_TAB_URL_FILTER", "youtube.com/watch")),
		BackgroundURL:  strings.TrimRight(getEnvOrDefault("PAGES_BACKGROUND_URL", "http://127.0.0.1:8790"), "/"),
		AddrFile:       getEnvOrDefault("SUBTITLED_ADDR_FILE", "data/subtitled.addr"),
		EvalTimeout:    getEnvMillisOrDefault("PAGES_EVAL_TIMEOUT_MS", 5000, 1000),
		AdPollInterval: getEnvMillisOrDefault("PAGES_AD_POLL_MS", 1000, 100),
		ReinitDelay:    getEnvMillisOrDefault("PAGES_REINIT_DELAY_MS", 1500, 0),
		TabScanEvery:   getEnvMillisOrDefault("PAGES_TAB_SCAN_MS", 2000, 250),
		AdRulesPath:    getEnvOrDefault("PAGES_AD_RULES", "./config/ad_rules.yaml"),
		LaunchBrowser:  getEnvBoolOrDefault("PAGES_LAUNCH_BROWSER", false),
		BrowserBinary:  getEnvOrDefault("PAGES_BROWSER_BIN", ""),
		ProfileDir:     getEnvOrDefault("PAGES_PROFILE_DIR", "./browser_profile"),
		StartURL:       getEnvOrDefault("PAGES_START_URL", "https://www.youtube.com/"),
		Log:            loadLog("PAGES", "logs/subtitle_pages.log"),
	}
	return cfg, nil
}

// CDPURL returns the browser's HTTP debugging endpoint.
func (c *PageHostConfig) CDPURL() string {
	return cdpURL(c.CDPAddress, c.CDPPort)
}

// BridgeURL returns the websocket endpoint a page agent dials for tabID.
func (c *PageHostConfig) BridgeURL(tabID string) string {
	base := c.BackgroundURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?tab_id=" + tabID
}
