package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATA_DIR", "LOG_LEVEL", "POLL_INTERVAL", "WS_HEARTBEAT_INTERVAL", "WS_BACKPRESSURE_HIGH", "WS_BACKPRESSURE_LOW", "EVENTS_RETENTION_DAYS", "SCROLLBACK_LINES"} {
		t.Setenv(key, "")
	}
	t.Setenv("DATA_DIR", t.TempDir())

	cfg := LoadConfig()
	if cfg.Port != 4011 {
		t.Fatalf("default port = %d, want 4011", cfg.Port)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("default poll interval = %v", cfg.PollInterval)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("default heartbeat interval = %v", cfg.HeartbeatInterval)
	}
	if cfg.BackpressureHigh != 64*1024 || cfg.BackpressureLow != 16*1024 {
		t.Fatalf("default watermarks = %d/%d", cfg.BackpressureHigh, cfg.BackpressureLow)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("default log level = %q", cfg.LogLevel)
	}
	if cfg.ScrollbackLines != 30 {
		t.Fatalf("default scrollback lines = %d", cfg.ScrollbackLines)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PORT", "5000")
	t.Setenv("POLL_INTERVAL", "100")
	t.Setenv("WS_BACKPRESSURE_HIGH", "1024")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig()
	if cfg.Port != 5000 {
		t.Fatalf("port = %d", cfg.Port)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.BackpressureHigh != 1024 {
		t.Fatalf("high watermark = %d", cfg.BackpressureHigh)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadConfig_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PORT", "not-a-number")
	t.Setenv("POLL_INTERVAL", "-5")

	cfg := LoadConfig()
	if cfg.Port != 4011 {
		t.Fatalf("port = %d, want fallback 4011", cfg.Port)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %v, want fallback", cfg.PollInterval)
	}
}

func TestOverrides_TOMLRoundTripAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PORT", "")
	t.Setenv("POLL_INTERVAL", "777")

	if err := SaveOverrides(dir, Overrides{Port: 4099, PollIntervalMs: 50}); err != nil {
		t.Fatalf("save overrides: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("config.toml missing: %v", err)
	}

	cfg := LoadConfig()
	if cfg.Port != 4099 {
		t.Fatalf("port = %d, want toml override 4099", cfg.Port)
	}
	// Env var beats the file when both are set.
	if cfg.PollInterval != 777*time.Millisecond {
		t.Fatalf("poll interval = %v, want env 777ms", cfg.PollInterval)
	}
}
