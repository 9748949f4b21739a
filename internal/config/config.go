// Package config provides indexkeeper configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the configuration file looked up in the data directory.
const ConfigFileName = "indexkeeper.yaml"

// Config represents the complete indexkeeper configuration.
type Config struct {
	Version     int              `yaml:"version" json:"version"`
	Storage     StorageConfig    `yaml:"storage" json:"storage"`
	Recovery    RecoveryConfig   `yaml:"recovery" json:"recovery"`
	Lifecycle   LifecycleConfig  `yaml:"lifecycle" json:"lifecycle"`
	Logging     LoggingConfig    `yaml:"logging" json:"logging"`
	Performance PerfConfig       `yaml:"performance" json:"performance"`
}

// StorageConfig configures the on-disk index layout and checkpoint retention.
type StorageConfig struct {
	// DataDir is the root directory holding one subdirectory per index.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// RunInMemory opens every eligible index as an in-memory store.
	RunInMemory bool `yaml:"run_in_memory" json:"run_in_memory"`

	// MaxCommitPoints is the retained checkpoint count per index.
	// Oldest checkpoints are pruned first. Default: 5.
	MaxCommitPoints int `yaml:"max_commit_points" json:"max_commit_points"`

	// StatsPath is the SQLite database holding durable index statistics.
	// Empty derives <data_dir>/indexkeeper-stats.db.
	StatsPath string `yaml:"stats_path" json:"stats_path"`
}

// RecoveryConfig configures startup recovery behavior.
type RecoveryConfig struct {
	// OpenWorkers bounds how many indexes are opened/recovered in parallel
	// at startup. Zero means runtime.NumCPU().
	OpenWorkers int `yaml:"open_workers" json:"open_workers"`

	// ResetIndexOnUncleanShutdown forces corruption-suspicious handling of
	// every index when the crash marker survives to the next startup.
	ResetIndexOnUncleanShutdown bool `yaml:"reset_on_unclean_shutdown" json:"reset_on_unclean_shutdown"`
}

// LifecycleConfig configures the periodic idle-detection sweep.
//
// The multiplier thresholds are empirically tuned values carried over from
// production; they are configuration, not derived quantities.
type LifecycleConfig struct {
	// SweepInterval is how often the scheduler inspects auto indexes.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// FlushInterval is how often the flush sweep persists write-idle
	// indexes and observed query timestamps.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`

	// IdleThreshold is the base query gap after which a Normal auto index
	// becomes a demotion candidate.
	IdleThreshold time.Duration `yaml:"idle_threshold" json:"idle_threshold"`

	// YoungAgeMultiplier scales IdleThreshold into the age under which a
	// Normal index still counts as young for the demotion heuristics.
	YoungAgeMultiplier float64 `yaml:"young_age_multiplier" json:"young_age_multiplier"`

	// AbandonThresholdMultiplier scales IdleThreshold into the unused gap
	// after which an Idle index is demoted to Abandoned.
	AbandonThresholdMultiplier float64 `yaml:"abandon_threshold_multiplier" json:"abandon_threshold_multiplier"`

	// DeleteUnusedYoungerThan: an Idle auto index younger than this and
	// unused longer than DeleteUnusedAfter is deleted outright.
	DeleteUnusedYoungerThan time.Duration `yaml:"delete_unused_younger_than" json:"delete_unused_younger_than"`
	DeleteUnusedAfter       time.Duration `yaml:"delete_unused_after" json:"delete_unused_after"`

	// MaxDemotionsPerSweep bounds Normal→Idle demotions per sweep.
	MaxDemotionsPerSweep int `yaml:"max_demotions_per_sweep" json:"max_demotions_per_sweep"`

	// WriteFlushAge is how long after the last write an index is flushed.
	WriteFlushAge time.Duration `yaml:"write_flush_age" json:"write_flush_age"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// PerfConfig configures performance tuning options.
type PerfConfig struct {
	// StatsCacheSize is the LRU capacity for cached index statistics reads.
	StatsCacheSize int `yaml:"stats_cache_size" json:"stats_cache_size"`

	// WatchIndexRoot enables the fsnotify watcher that evicts handles whose
	// directories were removed behind the engine's back.
	WatchIndexRoot bool `yaml:"watch_index_root" json:"watch_index_root"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:         DefaultDataDir(),
			RunInMemory:     false,
			MaxCommitPoints: 5,
		},
		Recovery: RecoveryConfig{
			OpenWorkers:                 runtime.NumCPU(),
			ResetIndexOnUncleanShutdown: false,
		},
		Lifecycle: LifecycleConfig{
			SweepInterval: time.Minute,
			FlushInterval: time.Minute,
			IdleThreshold: 10 * time.Minute,
			// Empirically tuned; no derivation beyond observed workloads.
			YoungAgeMultiplier:         2.5,
			AbandonThresholdMultiplier: 6,
			DeleteUnusedYoungerThan:    90 * time.Minute,
			DeleteUnusedAfter:          30 * time.Minute,
			MaxDemotionsPerSweep:       2,
			WriteFlushAge:              time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Performance: PerfConfig{
			StatsCacheSize: 1024,
			WatchIndexRoot: true,
		},
	}
}

// DefaultDataDir returns the data directory used when no explicit one is
// configured, and also where Load looks for the config file.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".indexkeeper"
	}
	return filepath.Join(home, ".indexkeeper")
}

// StatsPath returns the effective statistics database path.
func (c *Config) StatsPath() string {
	if c.Storage.StatsPath != "" {
		return c.Storage.StatsPath
	}
	return filepath.Join(c.Storage.DataDir, "indexkeeper-stats.db")
}

// AbandonThreshold returns the derived Idle→Abandoned gap.
func (c *Config) AbandonThreshold() time.Duration {
	return time.Duration(float64(c.Lifecycle.IdleThreshold) * c.Lifecycle.AbandonThresholdMultiplier)
}

// YoungAge returns the derived age under which a Normal index is young.
func (c *Config) YoungAge() time.Duration {
	return time.Duration(float64(c.Lifecycle.IdleThreshold) * c.Lifecycle.YoungAgeMultiplier)
}

// Load reads configuration from dir, falling back to defaults when no file
// exists. Environment overrides are applied last.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to dir as YAML.
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Storage.MaxCommitPoints < 1 {
		return fmt.Errorf("storage.max_commit_points must be at least 1, got %d", c.Storage.MaxCommitPoints)
	}
	if c.Recovery.OpenWorkers < 0 {
		return fmt.Errorf("recovery.open_workers must not be negative, got %d", c.Recovery.OpenWorkers)
	}
	if c.Lifecycle.IdleThreshold <= 0 {
		return fmt.Errorf("lifecycle.idle_threshold must be positive, got %s", c.Lifecycle.IdleThreshold)
	}
	if c.Lifecycle.YoungAgeMultiplier <= 0 {
		return fmt.Errorf("lifecycle.young_age_multiplier must be positive, got %f", c.Lifecycle.YoungAgeMultiplier)
	}
	if c.Lifecycle.AbandonThresholdMultiplier <= 0 {
		return fmt.Errorf("lifecycle.abandon_threshold_multiplier must be positive, got %f", c.Lifecycle.AbandonThresholdMultiplier)
	}
	if c.Lifecycle.MaxDemotionsPerSweep < 0 {
		return fmt.Errorf("lifecycle.max_demotions_per_sweep must not be negative, got %d", c.Lifecycle.MaxDemotionsPerSweep)
	}
	return nil
}

// applyEnvOverrides applies INDEXKEEPER_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INDEXKEEPER_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("INDEXKEEPER_RUN_IN_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.RunInMemory = b
		}
	}
	if v := os.Getenv("INDEXKEEPER_MAX_COMMIT_POINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Storage.MaxCommitPoints = n
		}
	}
	if v := os.Getenv("INDEXKEEPER_RESET_ON_UNCLEAN_SHUTDOWN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Recovery.ResetIndexOnUncleanShutdown = b
		}
	}
	if v := os.Getenv("INDEXKEEPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
