package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
cluster:
  id: prod-cluster
  primary:
    id: ep-primary
    address: primary.db.internal:5432
  standby:
    id: ep-standby
    address: standby.db.internal:5432
pool:
  max_size: 32
  min_idle: 4
health:
  poll_interval: 3s
  bad_threshold: 3
cache:
  backend: redis
  redis:
    addr: cache.internal:6379
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdsguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "prod-cluster", cfg.Cluster.ID)
	require.NotNil(t, cfg.Cluster.Standby)
	assert.Equal(t, "standby.db.internal:5432", cfg.Cluster.Standby.Address)
	assert.Equal(t, 32, cfg.Pool.MaxSize)
	assert.Equal(t, 3*time.Second, cfg.Health.PollInterval.Std())
	assert.Equal(t, "redis", cfg.Cache.Backend)

	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Failover.FailoverDeadline.Std())
}

func TestLoadRequiresClusterID(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
cluster:
  primary:
    address: db:5432
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster.id")
}

func TestLoadRejectsUnknownCacheBackend(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
cluster:
  id: c1
  primary:
    address: db:5432
cache:
  backend: memcached
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.backend")
}

func TestLoadRejectsMinIdleAboveMax(t *testing.T) {
	_, err := Load(writeTempConfig(t, `
cluster:
  id: c1
  primary:
    address: db:5432
pool:
  max_size: 2
  min_idle: 5
`))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RDSGUARD_PORT", "7070")
	t.Setenv("RDSGUARD_CLUSTER_ID", "env-cluster")
	t.Setenv("RDSGUARD_PRIMARY_ADDR", "env.db:5432")
	t.Setenv("RDSGUARD_REDIS_ADDR", "env-redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-cluster", cfg.Cluster.ID)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "env-redis:6379", cfg.Cache.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
