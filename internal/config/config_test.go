package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, defaultBind, cfg.Bind)
	require.Equal(t, defaultParallelFetches, cfg.ParallelFetches)
	require.Equal(t, 24*time.Hour, cfg.CacheTTL)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{"-port=8080", "-cache-ttl-days=2", "-start-ledger=100"})
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 48*time.Hour, cfg.CacheTTL)
	require.Equal(t, uint32(100), cfg.StartLedger)
}

func TestLoadInvalidPort(t *testing.T) {
	_, err := Load([]string{"-port=0"})
	require.Error(t, err)
}

func TestLoadInvalidParallelFetches(t *testing.T) {
	_, err := Load([]string{"-parallel-fetches=0"})
	require.Error(t, err)
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
}
