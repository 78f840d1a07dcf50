package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the Parlo voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Flush debounce per transcript direction. Assistant speech flushes
	// faster than user speech: the assistant stream signals sentence
	// boundaries more eagerly.
	UserFlushDelay      time.Duration
	AssistantFlushDelay time.Duration

	// Realtime conversational endpoint. Empty URL selects the loopback
	// channel, which echoes speech locally for development.
	RealtimeWSURL  string
	RealtimeAPIKey string

	// Recap service. Empty URL selects the local heuristic generator.
	RecapHTTPURL string
	RecapTimeout time.Duration

	DatabaseURL string

	// Optional path to dump captured session audio as WAV on stop.
	CaptureDumpPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "parlo"),
		AllowAnyOrigin:      false,
		UserFlushDelay:      1200 * time.Millisecond,
		AssistantFlushDelay: 600 * time.Millisecond,
		RealtimeWSURL:       trimmedEnv("REALTIME_WS_URL"),
		RealtimeAPIKey:      trimmedEnv("REALTIME_API_KEY"),
		RecapHTTPURL:        trimmedEnv("RECAP_HTTP_URL"),
		RecapTimeout:        20 * time.Second,
		DatabaseURL:         trimmedEnv("DATABASE_URL"),
		CaptureDumpPath:     trimmedEnv("APP_CAPTURE_DUMP_PATH"),
		ShutdownTimeout:     15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UserFlushDelay, err = durationFromEnv("APP_USER_FLUSH_DELAY", cfg.UserFlushDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.AssistantFlushDelay, err = durationFromEnv("APP_ASSISTANT_FLUSH_DELAY", cfg.AssistantFlushDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.RecapTimeout, err = durationFromEnv("RECAP_TIMEOUT", cfg.RecapTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.UserFlushDelay <= 0 || cfg.UserFlushDelay > 2*time.Second {
		return Config{}, fmt.Errorf("APP_USER_FLUSH_DELAY must be in (0s, 2s]")
	}
	if cfg.AssistantFlushDelay <= 0 || cfg.AssistantFlushDelay > 2*time.Second {
		return Config{}, fmt.Errorf("APP_ASSISTANT_FLUSH_DELAY must be in (0s, 2s]")
	}
	if cfg.AssistantFlushDelay > cfg.UserFlushDelay {
		return Config{}, fmt.Errorf("APP_ASSISTANT_FLUSH_DELAY must not exceed APP_USER_FLUSH_DELAY")
	}
	if cfg.RecapTimeout < time.Second {
		return Config{}, fmt.Errorf("RECAP_TIMEOUT must be at least 1s")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
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
