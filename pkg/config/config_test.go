package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.True(t, cfg.AtStartup)
	assert.Equal(t, "sqlite", cfg.Controller)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.AllowCORS)
	assert.Equal(t, 30*time.Second, cfg.ControllerArgs.LeaseTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("ORCHESTRA_WORKER_POOL_SIZE", "8")
	t.Setenv("ORCHESTRA_CONTROLLER", "http")
	t.Setenv("ORCHESTRA_LOGLEVEL", "debug")
	t.Setenv("ALLOW_CORS", "true")
	t.Setenv("ORCHESTRA_CONTROLLER_ARGS", `{"baseUrl":"http://controller:8080","timeout":5000000000}`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.WorkerPoolSize)
	assert.Equal(t, "http", cfg.Controller)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.AllowCORS)
	assert.Equal(t, "http://controller:8080", cfg.ControllerArgs.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.ControllerArgs.Timeout)
}

func TestLoadWithNoEnvUsesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Controller)
	assert.Equal(t, "./data/orchestra.db", cfg.ControllerArgs.DataSource)
}

func TestValidateRejectsUnknownController(t *testing.T) {
	cfg := New()
	cfg.Controller = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := New()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsMalformedControllerArgs(t *testing.T) {
	t.Setenv("ORCHESTRA_CONTROLLER_ARGS", `{not json`)
	_, err := Load()
	assert.Error(t, err)
}
