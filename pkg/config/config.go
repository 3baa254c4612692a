// Package config loads and validates vertexdb's runtime configuration: the
// three tunables spec.md §6 enumerates (schema lock timeout, isolation
// timeline window size, relation index threshold), the on-disk layout
// (data/WAL/checkpoint directories), and logging settings.
//
// Configuration is a YAML file with defaults applied for anything the file
// omits or that is absent entirely, then a handful of environment variables
// take final precedence — the same file/env layering untoldecay-BeadsLog's
// internal/config does with viper, done here directly against yaml.v3 since
// this repo carries no viper dependency to wire.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls pkg/log initialization.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	// DataDir holds the keyspace database file (component A).
	DataDir string `yaml:"data_dir"`
	// WALDir holds write-ahead log segments (component B).
	WALDir string `yaml:"wal_dir"`
	// CheckpointDir holds periodic snapshot checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// SchemaLockAcquireTimeout bounds how long a schema transaction waits
	// for concurrent writers/schemas to close before failing with a
	// timeout error.
	SchemaLockAcquireTimeout time.Duration `yaml:"schema_lock_acquire_timeout"`
	// TimelineWindowSize is the number of slots per isolation-manager
	// window.
	TimelineWindowSize uint64 `yaml:"timeline_window_size"`
	// RelationIndexThreshold is the max total player count for which a
	// role-player-index edge is maintained.
	RelationIndexThreshold uint32 `yaml:"relation_index_threshold"`

	// WALSegmentCapBytes rotates to a new WAL segment once the active one
	// exceeds this size. Zero selects pkg/wal's own default.
	WALSegmentCapBytes int64 `yaml:"wal_segment_cap_bytes"`

	Log LogConfig `yaml:"log"`
}

// Default returns the configuration used when no file is present and no
// field is overridden.
func Default() Config {
	return Config{
		DataDir:                  "./data",
		WALDir:                   "./data/wal",
		CheckpointDir:            "./data/checkpoints",
		SchemaLockAcquireTimeout: 5 * time.Second,
		TimelineWindowSize:       4096,
		RelationIndexThreshold:   8,
		WALSegmentCapBytes:       0,
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// envPrefix namespaces the environment variables Load consults, mirroring
// untoldecay-BeadsLog's BD_ prefix convention.
const envPrefix = "VERTEXDB_"

// Load reads path (if it exists) as YAML on top of Default(), then applies
// environment variable overrides, and returns the result. A missing file is
// not an error: defaults and environment variables still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envPrefix + "WAL_DIR"); v != "" {
		cfg.WALDir = v
	}
	if v := os.Getenv(envPrefix + "CHECKPOINT_DIR"); v != "" {
		cfg.CheckpointDir = v
	}
	if v := os.Getenv(envPrefix + "SCHEMA_LOCK_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SchemaLockAcquireTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "TIMELINE_WINDOW_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.TimelineWindowSize = n
		}
	}
	if v := os.Getenv(envPrefix + "RELATION_INDEX_THRESHOLD"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.RelationIndexThreshold = uint32(n)
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects configurations that would make components A-F
// unreachable or nonsensical.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if c.WALDir == "" {
		return fmt.Errorf("config: wal_dir must not be empty")
	}
	if c.SchemaLockAcquireTimeout <= 0 {
		return fmt.Errorf("config: schema_lock_acquire_timeout must be positive")
	}
	if c.TimelineWindowSize == 0 {
		return fmt.Errorf("config: timeline_window_size must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug/info/warn/error", c.Log.Level)
	}
	return nil
}

// LockPath returns the path of the advisory lock guarding DataDir against
// concurrent processes.
func (c Config) LockPath() string {
	return filepath.Join(c.DataDir, "LOCK")
}
