package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()
	require.Equal(t, "default", cfg.Namespace)
	require.Equal(t, 1000, cfg.MaxReplayFields)
	require.Equal(t, 4<<20, cfg.MaxReplayBytes)
	require.Equal(t, 5, cfg.DefaultMaxAttempts)
	require.Equal(t, 2.0, cfg.DefaultBackoffCoefficient)
	require.Equal(t, time.Minute, cfg.DefaultMaximumInterval)
	require.Equal(t, 24*time.Hour, cfg.JobTTL)
	require.Equal(t, "durable:", cfg.KeyPrefix)
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Defaults(), cfg)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("DURABLE_NAMESPACE", "acme")
	t.Setenv("DURABLE_DEFAULT_MAX_ATTEMPTS", "9")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.Namespace)
	require.Equal(t, 9, cfg.DefaultMaxAttempts)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load("/no/such/config.yaml")
	require.Error(t, err)
}
