package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Quota.MaxQueues)
	assert.Equal(t, 30*1e9, float64(cfg.Deadlines.Admin()))
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("SERVER_PORT", "9191"))
	defer os.Unsetenv("SERVER_PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/brokerd.yaml"
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o644))
	require.NoError(t, os.Setenv("CONFIG_FILE", path))
	defer os.Unsetenv("CONFIG_FILE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}
