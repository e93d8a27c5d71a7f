package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "cjls", cfg.Name)
	assert.False(t, cfg.Logging.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cjls.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"logging:\n  enabled: true\n  level: debug\ncache_path: /tmp/cjls-cache\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Logging.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/cjls-cache", cfg.CachePath)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cjls", cfg.Name)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CANGJIE_PATH", "/opt/cangjie")
	t.Setenv("CANGJIE_HOME", "/opt/cangjie-home")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/opt/cangjie", cfg.CangjiePath)
	assert.Equal(t, "/opt/cangjie-home", cfg.CangjieHome)
	assert.Equal(t, "/opt/cangjie-home", cfg.CachePath, "cache root falls back to CANGJIE_HOME")
}
