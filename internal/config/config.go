package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the migration copilot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL  string
	WorkspaceDir string

	AgentMode    string
	AgentCLIPath string

	CloneDepth   int
	CloneTimeout time.Duration
	// TurnTimeout caps one agent turn; 0 means no internal ceiling (the
	// turn runs until the agent completes or fails).
	TurnTimeout time.Duration

	TextFlushInterval  time.Duration
	LogPreviewInterval time.Duration
	EventHistoryLimit  int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "porterd"),
		AllowAnyOrigin:     false,
		DatabaseURL:        trimSpaceEnv("DATABASE_URL"),
		WorkspaceDir:       envOrDefault("APP_WORKSPACE_DIR", "./data/repos"),
		AgentMode:          envOrDefault("AGENT_MODE", "auto"),
		AgentCLIPath:       envOrDefault("AGENT_CLI_PATH", "acp-agent"),
		CloneDepth:         100,
		CloneTimeout:       5 * time.Minute,
		TurnTimeout:        0,
		TextFlushInterval:  150 * time.Millisecond,
		LogPreviewInterval: 2 * time.Second,
		EventHistoryLimit:  100,
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CloneTimeout, err = durationFromEnv("APP_CLONE_TIMEOUT", cfg.CloneTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("APP_TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TextFlushInterval, err = durationFromEnv("APP_TEXT_FLUSH_INTERVAL", cfg.TextFlushInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.LogPreviewInterval, err = durationFromEnv("APP_LOG_PREVIEW_INTERVAL", cfg.LogPreviewInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CloneDepth, err = intFromEnv("APP_CLONE_DEPTH", cfg.CloneDepth)
	if err != nil {
		return Config{}, err
	}
	cfg.EventHistoryLimit, err = intFromEnv("APP_EVENT_HISTORY_LIMIT", cfg.EventHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.CloneDepth <= 0 {
		return Config{}, fmt.Errorf("APP_CLONE_DEPTH must be positive")
	}
	if cfg.EventHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("APP_EVENT_HISTORY_LIMIT must be positive")
	}
	if cfg.TextFlushInterval <= 0 {
		return Config{}, fmt.Errorf("APP_TEXT_FLUSH_INTERVAL must be positive")
	}
	if cfg.LogPreviewInterval <= 0 {
		return Config{}, fmt.Errorf("APP_LOG_PREVIEW_INTERVAL must be positive")
	}
	if cfg.TurnTimeout < 0 {
		return Config{}, fmt.Errorf("APP_TURN_TIMEOUT must not be negative")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpaceEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
