package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.BackgroundGrace)
}

func TestLoadYamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte("port: 9999\nbackground_grace: 3s\nnats:\n  enabled: true\n  servers: [\"nats://n1:4222\"]\n")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.BackgroundGrace)
	assert.True(t, cfg.Nats.Enabled)
	assert.Equal(t, []string{"nats://n1:4222"}, cfg.Nats.Servers)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("GW_NODE_ID", "gw-env")
	t.Setenv("GW_REDIS_ADDR", "redis-env:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gw-env", cfg.NodeID)
	assert.Equal(t, "redis-env:6379", cfg.Redis.Addr)
}

func TestLoadRejectsBadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormClampsZeroTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("send_queue_size: -1\nfanout_workers: 0\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, 8, cfg.FanoutWorkers)
}
