package config

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const overridesTOMLFileName = "config.toml"

// Overrides is the optional on-disk configuration in DATA_DIR/config.toml.
// Zero values mean "no override"; env vars win for values both set.
type Overrides struct {
	Port                int    `toml:"port,omitempty"`
	LogLevel            string `toml:"log_level,omitempty"`
	TmuxSocket          string `toml:"tmux_socket,omitempty"`
	PollIntervalMs      int    `toml:"poll_interval_ms,omitempty"`
	HeartbeatIntervalMs int    `toml:"ws_heartbeat_interval_ms,omitempty"`
	BackpressureHigh    int    `toml:"ws_backpressure_high,omitempty"`
	BackpressureLow     int    `toml:"ws_backpressure_low,omitempty"`
	EventsRetentionDays int    `toml:"events_retention_days,omitempty"`
	ScrollbackLines     int    `toml:"scrollback_lines,omitempty"`
	PatternVersion      string `toml:"pattern_version,omitempty"`
}

// OverridesPath returns the location of the optional config file inside a
// data directory.
func OverridesPath(dataDir string) string {
	return filepath.Join(dataDir, overridesTOMLFileName)
}

func LoadOverrides(dataDir string) (Overrides, error) {
	var out Overrides
	b, err := os.ReadFile(OverridesPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, err
	}
	if err := toml.Unmarshal(b, &out); err != nil {
		return Overrides{}, err
	}
	return out, nil
}

func SaveOverrides(dataDir string, o Overrides) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(o)
	if err != nil {
		return err
	}
	path := OverridesPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (o Overrides) applyTo(cfg Config) Config {
	if os.Getenv("PORT") == "" && o.Port > 0 {
		cfg.Port = o.Port
	}
	if os.Getenv("LOG_LEVEL") == "" && o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if os.Getenv("TMUX_SOCKET") == "" && o.TmuxSocket != "" {
		cfg.TmuxSocket = o.TmuxSocket
	}
	if os.Getenv("POLL_INTERVAL") == "" && o.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(o.PollIntervalMs) * time.Millisecond
	}
	if os.Getenv("WS_HEARTBEAT_INTERVAL") == "" && o.HeartbeatIntervalMs > 0 {
		cfg.HeartbeatInterval = time.Duration(o.HeartbeatIntervalMs) * time.Millisecond
	}
	if os.Getenv("WS_BACKPRESSURE_HIGH") == "" && o.BackpressureHigh > 0 {
		cfg.BackpressureHigh = o.BackpressureHigh
	}
	if os.Getenv("WS_BACKPRESSURE_LOW") == "" && o.BackpressureLow > 0 {
		cfg.BackpressureLow = o.BackpressureLow
	}
	if os.Getenv("EVENTS_RETENTION_DAYS") == "" && o.EventsRetentionDays > 0 {
		cfg.EventsRetentionDays = o.EventsRetentionDays
	}
	if os.Getenv("SCROLLBACK_LINES") == "" && o.ScrollbackLines > 0 {
		cfg.ScrollbackLines = o.ScrollbackLines
	}
	if os.Getenv("PATTERN_VERSION") == "" && o.PatternVersion != "" {
		cfg.PatternVersion = o.PatternVersion
	}
	return cfg
}
