package config

import (
	"strings"
	"time"
)

// BackgroundConfig configures the subtitled daemon.
type BackgroundConfig struct {
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	AddrFile         string
	CORSOrigins      []string

	BackendURL    string
	SourceLang    string
	UseContext    bool
	ForceSTT      bool
	NoCache       bool
	HealthTimeout time.Duration
	CancelTimeout time.Duration

	SettingsDB string
	LockFile   string
	// JournalDir receives the translation journal; empty disables it.
	JournalDir string

	NtfyEndpoint  string
	NtfyThreshold time.Duration

	// PageRequestTimeout bounds requests the daemon sends to page agents.
	PageRequestTimeout time.Duration

	Log LogConfig
}

// LoadBackground reads daemon configuration from environment variables.
func LoadBackground() (*BackgroundConfig, error) {
	cfg := &BackgroundConfig{
		BindAddr:           getEnvOrDefault("SUBTITLED_BIND_ADDR", "127.0.0.1:8790"),
		PortCandidates:     getEnvListOrDefault("SUBTITLED_PORT_CANDIDATES", []string{"127.0.0.1:8791", "127.0.0.1:8792", "127.0.0.1:8793"}),
		PortAutoFallback:   getEnvBoolOrDefault("SUBTITLED_PORT_AUTO_FALLBACK", true),
		AddrFile:           getEnvOrDefault("SUBTITLED_ADDR_FILE", "data/subtitled.addr"),
		CORSOrigins:        getEnvListOrDefault("SUBTITLED_CORS_ORIGINS", []string{"chrome-extension://*", "http://127.0.0.1:*", "http://localhost:*"}),
		BackendURL:         strings.TrimRight(getEnvOrDefault("CAYT_BACKEND_URL", "http://127.0.0.1:8000"), "/"),
		SourceLang:         getEnvOrDefault("CAYT_SOURCE_LANG", "en"),
		UseContext:         getEnvBoolOrDefault("CAYT_USE_CONTEXT", true),
		ForceSTT:           getEnvBoolOrDefault("CAYT_FORCE_STT", false),
		NoCache:            getEnvBoolOrDefault("CAYT_NO_CACHE", false),
		HealthTimeout:      getEnvMillisOrDefault("CAYT_HEALTH_TIMEOUT_MS", 5000, 500),
		CancelTimeout:      getEnvMillisOrDefault("CAYT_CANCEL_TIMEOUT_MS", 10000, 500),
		SettingsDB:         getEnvOrDefault("SUBTITLED_SETTINGS_DB", "data/settings.db"),
		LockFile:           getEnvOrDefault("SUBTITLED_LOCK_FILE", "data/subtitled.lock"),
		JournalDir:         getEnvOrDefault("SUBTITLED_JOURNAL_DIR", "data/journal"),
		NtfyEndpoint:       getEnvOrDefault("SUBTITLED_NTFY_ENDPOINT", ""),
		NtfyThreshold:      time.Duration(getEnvIntOrDefault("SUBTITLED_NTFY_THRESHOLD_S", 60)) * time.Second,
		PageRequestTimeout: getEnvMillisOrDefault("SUBTITLED_PAGE_TIMEOUT_MS", 5000, 500),
		Log:                loadLog("SUBTITLED", "logs/subtitled.log"),
	}
	return cfg, nil
}
