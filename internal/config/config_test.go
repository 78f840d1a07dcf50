package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.UserFlushDelay != 1200*time.Millisecond {
		t.Fatalf("UserFlushDelay = %s, want 1.2s", cfg.UserFlushDelay)
	}
	if cfg.AssistantFlushDelay != 600*time.Millisecond {
		t.Fatalf("AssistantFlushDelay = %s, want 600ms", cfg.AssistantFlushDelay)
	}
	if cfg.AssistantFlushDelay > cfg.UserFlushDelay {
		t.Fatalf("assistant flush delay should not exceed user flush delay")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("APP_USER_FLUSH_DELAY", "nonsense")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want parse error")
	}
}

func TestLoadRejectsOversizedFlushDelay(t *testing.T) {
	t.Setenv("APP_USER_FLUSH_DELAY", "5s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want range error")
	}
}

func TestLoadRejectsInvertedFlushDelays(t *testing.T) {
	t.Setenv("APP_USER_FLUSH_DELAY", "500ms")
	t.Setenv("APP_ASSISTANT_FLUSH_DELAY", "900ms")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want ordering error")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")
	t.Setenv("RECAP_TIMEOUT", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.RecapTimeout != 30*time.Second {
		t.Fatalf("RecapTimeout = %s, want 30s", cfg.RecapTimeout)
	}
}
