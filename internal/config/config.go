// Package config loads the client daemon configuration from a TOML file.
// A missing file is not an error: every knob has a usable default.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration so values read as "30s" or "5m" in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration back in Go duration syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig points the client at the remote authority.
type ServerConfig struct {
	// URL is the base address of the sync server
	URL string `toml:"url"`
	// Timeout bounds a single HTTP exchange
	Timeout Duration `toml:"timeout"`
}

// ProbeConfig tunes connectivity detection.
type ProbeConfig struct {
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
	// FailureThreshold is how many probes must fail in a row before the
	// client considers itself offline
	FailureThreshold int `toml:"failure_threshold"`
}

// RetryConfig tunes the backoff between failed sync cycles.
type RetryConfig struct {
	BackoffBase Duration `toml:"backoff_base"`
	BackoffCap  Duration `toml:"backoff_cap"`
	// JitterPercent randomizes each delay by up to this percentage
	JitterPercent uint64 `toml:"jitter_percent"`
	// MaxAttempts is the per-operation retry budget before it goes dead
	MaxAttempts int `toml:"max_attempts"`
}

// StorageConfig places and bounds the local database.
type StorageConfig struct {
	// Path of the bbolt database file
	Path string `toml:"path"`
	// CeilingBytes caps local usage; zero disables the quota
	CeilingBytes int64 `toml:"ceiling_bytes"`
	// WatermarkPercent of the ceiling is the eviction target
	WatermarkPercent int `toml:"watermark_percent"`
}

// SyncConfig tunes the engine loop.
type SyncConfig struct {
	Workers   int      `toml:"workers"`
	BatchSize int      `toml:"batch_size"`
	Interval  Duration `toml:"interval"`
}

// ConflictsConfig selects resolution strategies.
type ConflictsConfig struct {
	// DefaultStrategy applies to modules without an explicit entry:
	// local-wins, server-wins, timestamp-wins or manual
	DefaultStrategy string `toml:"default_strategy"`
	// PerModule overrides the default for named modules
	PerModule map[string]string `toml:"per_module"`
	// SkewTolerance is how close two timestamps may be before
	// timestamp-wins refuses to order them
	SkewTolerance Duration `toml:"skew_tolerance"`
}

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Probe     ProbeConfig     `toml:"probe"`
	Retry     RetryConfig     `toml:"retry"`
	Storage   StorageConfig   `toml:"storage"`
	Sync      SyncConfig      `toml:"sync"`
	Conflicts ConflictsConfig `toml:"conflicts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost:8080",
			Timeout: Duration(30 * time.Second),
		},
		Probe: ProbeConfig{
			Interval:         Duration(30 * time.Second),
			Timeout:          Duration(10 * time.Second),
			FailureThreshold: 3,
		},
		Retry: RetryConfig{
			BackoffBase:   Duration(2 * time.Second),
			BackoffCap:    Duration(5 * time.Minute),
			JitterPercent: 20,
			MaxAttempts:   5,
		},
		Storage: StorageConfig{
			Path:             "offsync.db",
			WatermarkPercent: 90,
		},
		Sync: SyncConfig{
			Workers:   3,
			BatchSize: 32,
			Interval:  Duration(time.Minute),
		},
		Conflicts: ConflictsConfig{
			DefaultStrategy: "manual",
			SkewTolerance:   Duration(2 * time.Second),
		},
	}
}

// Load reads the configuration file at path over the defaults. A missing
// file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
