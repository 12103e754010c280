package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

type Config struct {
	Port                int
	DataDir             string
	LogLevel            string
	TmuxSocket          string
	PollInterval        time.Duration
	HeartbeatInterval   time.Duration
	BackpressureHigh    int
	BackpressureLow     int
	EventsRetentionDays int
	ScrollbackLines     int
	PatternVersion      string
	ControlMode         bool
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	cfg := Config{
		Port:                atoiOrDefault(os.Getenv("PORT"), 4011),
		DataDir:             os.Getenv("DATA_DIR"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		TmuxSocket:          os.Getenv("TMUX_SOCKET"),
		PollInterval:        msOrDefault(os.Getenv("POLL_INTERVAL"), 250*time.Millisecond),
		HeartbeatInterval:   msOrDefault(os.Getenv("WS_HEARTBEAT_INTERVAL"), 30*time.Second),
		BackpressureHigh:    atoiOrDefault(os.Getenv("WS_BACKPRESSURE_HIGH"), 64*1024),
		BackpressureLow:     atoiOrDefault(os.Getenv("WS_BACKPRESSURE_LOW"), 16*1024),
		EventsRetentionDays: atoiOrDefault(os.Getenv("EVENTS_RETENTION_DAYS"), 30),
		ScrollbackLines:     atoiOrDefault(os.Getenv("SCROLLBACK_LINES"), 30),
		PatternVersion:      os.Getenv("PATTERN_VERSION"),
		ControlMode:         os.Getenv("TMUX_CONTROL_MODE") == "1",
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if overrides, err := LoadOverrides(cfg.DataDir); err == nil {
		cfg = overrides.applyTo(cfg)
	}
	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean(".claude-rpg")
	}
	return filepath.Join(home, ".claude-rpg")
}

func msOrDefault(v string, fallback time.Duration) time.Duration {
	n := atoiOrDefault(v, 0)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func atoiOrDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	if n == 0 {
		return fallback
	}
	return n
}
