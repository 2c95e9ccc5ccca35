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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Coordinator.NumShards)
	assert.Equal(t, "tcp://127.0.0.1:8081", cfg.Node.PublicAddr)
	assert.Equal(t, time.Second, cfg.Node.HeartbeatInterval)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yml := `
log:
  level: debug
coordinator:
  num_shards: 8
  replication_factor: 2
  health_interval: 2s
node:
  id: db-1
  workers: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("NODE_ID", "db-2")
	t.Setenv("HEARTBEAT_INTERVAL", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Coordinator.NumShards)
	assert.Equal(t, 2, cfg.Coordinator.ReplicationFactor)
	assert.Equal(t, 2*time.Second, cfg.Coordinator.HealthInterval)
	assert.Equal(t, 3, cfg.Node.Workers)
	assert.Equal(t, "db-2", cfg.Node.ID, "env overrides file")
	assert.Equal(t, 250*time.Millisecond, cfg.Node.HeartbeatInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero shards", map[string]string{"NUM_SHARDS": "0"}},
		{"bad int", map[string]string{"NODE_WORKERS": "many"}},
		{"bad duration", map[string]string{"TOPOLOGY_TTL": "soon"}},
		{"composite node id", map[string]string{"NODE_ID": "a,b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
