package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// AdRules are the DOM checks whose OR decides whether an ad is playing.
type AdRules struct {
	// Container is the player element. While it is absent no check runs.
	Container string `yaml:"container"`
	// ContainerClasses mark the container itself during an ad.
	ContainerClasses []string `yaml:"container_classes"`
	// Selectors match ad-only elements anywhere in the player.
	Selectors []string `yaml:"selectors"`
	// ModuleSelector matches the ad module, which counts only with children.
	ModuleSelector string `yaml:"module_selector"`
}

// DefaultAdRules returns the built-in YouTube checks.
func DefaultAdRules() AdRules {
	return AdRules{
		Container:        "#movie_player",
		ContainerClasses: []string{"ad-showing", "ad-interrupting"},
		Selectors: []string{
			".ytp-ad-player-overlay",
			".ytp-ad-player-overlay-layout",
			".ytp-ad-skip-button",
			".ytp-ad-skip-button-modern",
			".ytp-skip-ad-button",
			".ytp-ad-badge",
			".ytp-ad-text",
		},
		ModuleSelector: ".video-ads.ytp-ad-module",
	}
}

// LoadAdRules reads the rules file at path. A missing file yields the
// defaults; fields left empty in the file keep their defaults.
func LoadAdRules(path string) (AdRules, error) {
	rules := DefaultAdRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rules, nil
		}
		return rules, fmt.Errorf("ad rules: %w", err)
	}

	var file AdRules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, fmt.Errorf("ad rules: %w", err)
	}
	if file.Container != "" {
		rules.Container = file.Container
	}
	if len(file.ContainerClasses) > 0 {
		rules.ContainerClasses = file.ContainerClasses
	}
	if len(file.Selectors) > 0 {
		rules.Selectors = file.Selectors
	}
	if file.ModuleSelector != "" {
		rules.ModuleSelector = file.ModuleSelector
	}
	for i, s := range rules.Selectors {
		if s == "" {
			return rules, fmt.Errorf("ad rules: selectors[%d] is empty", i)
		}
	}
	return rules, nil
}
