package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 5, cfg.Storage.MaxCommitPoints)
	assert.Equal(t, 10*time.Minute, cfg.Lifecycle.IdleThreshold)
	assert.Equal(t, 2, cfg.Lifecycle.MaxDemotionsPerSweep)
	assert.Equal(t, 90*time.Minute, cfg.Lifecycle.DeleteUnusedYoungerThan)
	assert.Equal(t, 30*time.Minute, cfg.Lifecycle.DeleteUnusedAfter)
	require.NoError(t, cfg.Validate())
}

func TestDerivedThresholds(t *testing.T) {
	cfg := NewConfig()
	cfg.Lifecycle.IdleThreshold = 10 * time.Minute
	cfg.Lifecycle.YoungAgeMultiplier = 2.5
	cfg.Lifecycle.AbandonThresholdMultiplier = 6

	assert.Equal(t, 25*time.Minute, cfg.YoungAge())
	assert.Equal(t, 60*time.Minute, cfg.AbandonThreshold())
}

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Storage.MaxCommitPoints)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
version: 1
storage:
  data_dir: /var/lib/indexkeeper
  max_commit_points: 3
lifecycle:
  idle_threshold: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/indexkeeper", cfg.Storage.DataDir)
	assert.Equal(t, 3, cfg.Storage.MaxCommitPoints)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.IdleThreshold)
	// Untouched fields keep defaults.
	assert.Equal(t, 2, cfg.Lifecycle.MaxDemotionsPerSweep)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not yaml"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INDEXKEEPER_DATA_DIR", "/tmp/idx-env")
	t.Setenv("INDEXKEEPER_MAX_COMMIT_POINTS", "9")
	t.Setenv("INDEXKEEPER_RUN_IN_MEMORY", "true")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/idx-env", cfg.Storage.DataDir)
	assert.Equal(t, 9, cfg.Storage.MaxCommitPoints)
	assert.True(t, cfg.Storage.RunInMemory)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"zero commit points", func(c *Config) { c.Storage.MaxCommitPoints = 0 }},
		{"negative workers", func(c *Config) { c.Recovery.OpenWorkers = -1 }},
		{"zero idle threshold", func(c *Config) { c.Lifecycle.IdleThreshold = 0 }},
		{"zero young multiplier", func(c *Config) { c.Lifecycle.YoungAgeMultiplier = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()

	cfg := NewConfig()
	cfg.Storage.DataDir = "/data/indexes"
	cfg.Storage.MaxCommitPoints = 7
	require.NoError(t, cfg.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/data/indexes", loaded.Storage.DataDir)
	assert.Equal(t, 7, loaded.Storage.MaxCommitPoints)
}

func TestStatsPath(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "indexkeeper-stats.db"), cfg.StatsPath())

	cfg.Storage.StatsPath = "/elsewhere/stats.db"
	assert.Equal(t, "/elsewhere/stats.db", cfg.StatsPath())
}
