package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBackgroundDefaults(t *testing.T) {
	t.Setenv("CAYT_BACKEND_URL", "http://backend:8000/")
	t.Setenv("CAYT_HEALTH_TIMEOUT_MS", "10")

	cfg, err := LoadBackground()
	if err != nil {
		t.Fatalf("LoadBackground() error = %v", err)
	}
	if cfg.BackendURL != "http://backend:8000" {
		t.Fatalf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.HealthTimeout != 500*time.Millisecond {
		t.Fatalf("HealthTimeout = %v; want clamped to 500ms", cfg.HealthTimeout)
	}
	if !cfg.UseContext || cfg.SourceLang != "en" {
		t.Fatalf("UseContext=%v SourceLang=%q", cfg.UseContext, cfg.SourceLang)
	}
}

func TestPageHostURLs(t *testing.T) {
	t.Setenv("PAGES_BACKGROUND_URL", "https://daemon.local/")
	t.Setenv("CHROMIUM_CDP_PORT", "9333")

	cfg, err := LoadPageHost()
	if err != nil {
		t.Fatalf("LoadPageHost() error = %v", err)
	}
	if got, want := cfg.BridgeURL("12"), "wss://daemon.local/ws?tab_id=12"; got != want {
		t.Fatalf("BridgeURL() = %q; want %q", got, want)
	}
	if got, want := cfg.CDPURL(), "http://127.0.0.1:9333"; got != want {
		t.Fatalf("CDPURL() = %q; want %q", got, want)
	}
	if cfg.ReinitDelay != 1500*time.Millisecond || cfg.AdPollInterval != time.Second {
		t.Fatalf("ReinitDelay=%v AdPollInterval=%v", cfg.ReinitDelay, cfg.AdPollInterval)
	}
}

func TestLoadAdRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadAdRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadAdRules() error = %v", err)
	}
	if rules.Container != DefaultAdRules().Container || len(rules.Selectors) == 0 {
		t.Fatalf("rules = %+v; want defaults", rules)
	}
}

func TestLoadAdRulesOverridesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ad_rules.yaml")
	body := "selectors:\n  - .my-ad\ncontainer: \"#player\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadAdRules(path)
	if err != nil {
		t.Fatalf("LoadAdRules() error = %v", err)
	}
	if rules.Container != "#player" {
		t.Fatalf("Container = %q", rules.Container)
	}
	if len(rules.Selectors) != 1 || rules.Selectors[0] != ".my-ad" {
		t.Fatalf("Selectors = %v", rules.Selectors)
	}
	if rules.ModuleSelector != DefaultAdRules().ModuleSelector {
		t.Fatalf("ModuleSelector = %q; want default", rules.ModuleSelector)
	}
}

func TestLoadAdRulesRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ad_rules.yaml")
	if err := os.WriteFile(path, []byte("selectors: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAdRules(path); err == nil {
		t.Fatal("LoadAdRules() error = nil; want parse error")
	}
}
