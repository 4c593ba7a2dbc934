package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CONFIG_FILE", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, "@every 10m", cfg.ReconcileSchedule)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFileOverridesEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\nredis_url: redis://cache:6379/0\nshutdown_timeout: 3s\n"), 0o600))

	t.Setenv("PORT", "9090")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:           "8080",
		DBDriver:       "sqlite3",
		DatabaseURL:    "file::memory:",
		RateLimitRPS:   1,
		RateLimitBurst: 1,
		HistoryLimit:   100,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.DBDriver = "mysql"
	assert.Error(t, bad.Validate())

	bad = base
	bad.HistoryLimit = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.RateLimitBurst = -1
	assert.Error(t, bad.Validate())
}
