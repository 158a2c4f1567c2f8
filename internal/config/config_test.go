package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ESSENTIAL_RELAYER_ENABLED", "false")
	t.Setenv("ESSENTIAL_VALIDATION_ENABLED", "false")
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, InMemoryDBPath, cfg.DBPath)
	require.Equal(t, 4, cfg.ConnPoolSize)
	require.False(t, cfg.Relayer.Enabled)
	require.False(t, cfg.Validation.Enabled)
}

func TestLoadRejectsRelayerEnabledWithoutEndpoint(t *testing.T) {
	t.Setenv("ESSENTIAL_RELAYER_ENABLED", "true")
	t.Setenv("ESSENTIAL_RELAYER_ENDPOINT", "")
	t.Setenv("ESSENTIAL_VALIDATION_ENABLED", "false")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"conn_pool_size: 8\nrelayer:\n  enabled: false\nvalidation:\n  enabled: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.ConnPoolSize)
}

func TestLoadRejectsInvalidConnPoolSize(t *testing.T) {
	t.Setenv("ESSENTIAL_CONN_POOL_SIZE", "0")
	t.Setenv("ESSENTIAL_RELAYER_ENABLED", "false")
	t.Setenv("ESSENTIAL_VALIDATION_ENABLED", "false")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMaxBackoffBelowInitial(t *testing.T) {
	t.Setenv("ESSENTIAL_RETRY_INITIAL_BACKOFF", "5s")
	t.Setenv("ESSENTIAL_RETRY_MAX_BACKOFF", "1s")
	t.Setenv("ESSENTIAL_RELAYER_ENABLED", "false")
	t.Setenv("ESSENTIAL_VALIDATION_ENABLED", "false")

	_, err := Load("")
	require.Error(t, err)
}
