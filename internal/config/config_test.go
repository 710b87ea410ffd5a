package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2000.0, cfg.Game.MapWidth)
	assert.Equal(t, 50, cfg.Game.MaxPlayers)
	assert.Equal(t, 10.0, cfg.Game.StartMass)
	assert.Equal(t, 50*time.Millisecond, cfg.Loops.TickInterval())
	assert.Equal(t, 2*time.Second, cfg.Loops.SpawnInterval())
	assert.Equal(t, 3, cfg.Loops.SpawnBatch)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, time.Duration(0), cfg.Server.IdleTimeout())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loops:
  spawn_batch: 7
storage:
  backend: badger
  badger:
    in_memory: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Loops.SpawnBatch)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.True(t, cfg.Storage.Badger.InMemory)
	// Незаданные поля остаются дефолтными
	assert.Equal(t, 50, cfg.Loops.TickIntervalMs)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_WS_ADDR", ":9999")
	t.Setenv("ARENA_TICK_MS", "100")
	t.Setenv("ARENA_SPAWN_MS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.WSAddr)
	assert.Equal(t, 100, cfg.Loops.TickIntervalMs)
	assert.Equal(t, 2000, cfg.Loops.SpawnIntervalMs)
}

func TestLoadComponentLogLevels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  components:
    network: debug
    api: warn
`), 0644))
	t.Setenv("ARENA_LOG_LEVELS", "api=error, world=trace,broken")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"network": "debug",
		"api":     "error",
		"world":   "trace",
	}, cfg.Logging.Components)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Loops.TickIntervalMs = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.EventBus.Backend = "kafka"
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
