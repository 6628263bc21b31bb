package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7420", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "./extensions", cfg.Extensions.Dir)
	assert.Empty(t, cfg.Extensions.BuiltinDir)
	assert.Equal(t, "./extruntime", cfg.Runtime.Binary)
	assert.Equal(t, 10*time.Second, cfg.Runtime.StartupTimeout)
	assert.Equal(t, 30*time.Second, cfg.Runtime.ActivationTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXTHOST_PORT", "9999")
	t.Setenv("EXTHOST_EXTENSIONS_DIR", "/data/extensions")
	t.Setenv("EXTHOST_RUNTIME_STARTUP_TIMEOUT", "3s")
	t.Setenv("EXTHOST_LOG_DEV", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "/data/extensions", cfg.Extensions.Dir)
	assert.Equal(t, 3*time.Second, cfg.Runtime.StartupTimeout)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("EXTHOST_RUNTIME_STARTUP_TIMEOUT", "not-a-duration")

	cfg := LoadOrDefault()
	assert.Equal(t, 10*time.Second, cfg.Runtime.StartupTimeout)
}

func TestDefaultMatchesLoad(t *testing.T) {
	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
}
