package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 500, cfg.Scanner.BatchSize)
	assert.Equal(t, 256, cfg.Thumbnails.SizePx)
	assert.Equal(t, 30*time.Second, cfg.Watcher.QuietPeriod)
	assert.False(t, cfg.Watcher.Enabled)
	assert.Equal(t, 10, cfg.Tagging.MaxTags)
	assert.InDelta(t, 0.25, cfg.Tagging.Threshold, 0.001)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumina.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
jobs:
  max_concurrent: 4
  heartbeat_interval: 2s
watcher:
  enabled: true
  quiet_period: 5s
`), 0o644))

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	cfg := cm.GetConfig()
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Jobs.HeartbeatInterval)
	assert.True(t, cfg.Watcher.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Watcher.QuietPeriod)

	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 500, cfg.Scanner.BatchSize)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumina.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	t.Setenv("LUMINA_PORT", "9100")
	t.Setenv("LUMINA_MAX_JOB_WORKERS", "6")
	t.Setenv("LUMINA_WATCHER_QUIET_PERIOD", "10s")
	t.Setenv("LUMINA_IGNORE_PATTERNS", ".*, Thumbs.db , cache")

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	cfg := cm.GetConfig()
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Watcher.QuietPeriod)
	assert.Equal(t, []string{".*", "Thumbs.db", "cache"}, cfg.Scanner.IgnorePatterns)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")))

	cfg := cm.GetConfig()
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()

	badPort := filepath.Join(dir, "port.yaml")
	require.NoError(t, os.WriteFile(badPort, []byte("server:\n  port: 99999\n"), 0o644))
	require.Error(t, NewConfigManager().LoadConfig(badPort))

	badDB := filepath.Join(dir, "db.yaml")
	require.NoError(t, os.WriteFile(badDB, []byte("database:\n  type: oracle\n"), 0o644))
	require.Error(t, NewConfigManager().LoadConfig(badDB))

	badQuality := filepath.Join(dir, "quality.yaml")
	require.NoError(t, os.WriteFile(badQuality, []byte("thumbnails:\n  quality: 150\n"), 0o644))
	require.Error(t, NewConfigManager().LoadConfig(badQuality))
}

func TestDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumina.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  data_dir: /var/lib/lumina\n"), 0o644))

	cm := NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	cfg := cm.GetConfig()
	assert.Equal(t, filepath.Join("/var/lib/lumina", "lumina.db"), cfg.Database.DatabasePath)
	assert.Equal(t, filepath.Join("/var/lib/lumina", "thumbnails"), cfg.Thumbnails.Dir)
	assert.GreaterOrEqual(t, cfg.Scanner.WorkerCount, 1)
}
