package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "file", cfg.StateStore.Backend)
	assert.Equal(t, "memory", cfg.MessageFabric.Backend)
	assert.Equal(t, "analysis.progress", cfg.MessageFabric.ProgressTopic)
	assert.Equal(t, 2.0, cfg.CacheReuse.SleepMin)
	assert.Equal(t, 10.0, cfg.CacheReuse.SleepMax)
}

func TestConfigValidateRejectsUnknownBackends(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.StateStore.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.SetDefaults()
	cfg.MessageFabric.Backend = "broadcast"
	assert.Error(t, cfg.Validate(), "broadcast backend requires an address")
}

func TestParseCacheReuseMode(t *testing.T) {
	assert.Empty(t, ParseCacheReuseMode("false"))
	assert.Equal(t, map[string]bool{"all": true}, ParseCacheReuseMode("true"))
	assert.Equal(t, map[string]bool{
		"market_analyst": true,
		"bull_researcher": true,
	}, ParseCacheReuseMode("market, bull"))
}

func TestLoaderLoadsFileBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("state_store:\n  backend: file\n  dir: ${TASK_STATE_DIR:-./data/task_states}\nmessage_fabric:\n  backend: memory\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("TASK_STATE_DIR", "/tmp/custom-states")

	cfg, err := LoadConfig(LoaderOptions{Type: ConfigTypeFile, Path: path})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-states", cfg.StateStore.Dir)
	assert.Equal(t, "memory", cfg.MessageFabric.Backend)
}

func TestLoaderRejectsMissingPath(t *testing.T) {
	_, err := NewLoader(LoaderOptions{Type: ConfigTypeFile})
	assert.Error(t, err)
}
