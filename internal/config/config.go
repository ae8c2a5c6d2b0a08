// Package config loads daemon and page-host settings from the environment,
// an optional .env file and the ad-detection rules file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

// LogConfig is shared by both processes.
type LogConfig struct {
	Level string
	File  string
}

func loadLog(prefix, defaultFile string) LogConfig {
	return LogConfig{
		Level: strings.ToLower(getEnvOrDefault(prefix+"_LOG_LEVEL", "info")),
		File:  getEnvOrDefault(prefix+"_LOG_FILE", defaultFile),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvMillisOrDefault reads a duration given in milliseconds, clamped to
// at least minMS.
func getEnvMillisOrDefault(key string, defaultMS, minMS int) time.Duration {
	ms := getEnvIntOrDefault(key, defaultMS)
	if ms < minMS {
		ms = minMS
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func cdpURL(address string, port int) string {
	return fmt.Sprintf("http://%s:%d", address, port)
}
