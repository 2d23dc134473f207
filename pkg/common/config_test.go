package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

func TestConfigManager_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, 1993, cfg.Gateway.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.Gateway.ShutdownTimeout)
	assert.Equal(t, types.ContentBackendGitHub, cfg.Content.Backend)
	assert.Equal(t, "index", cfg.Index.DefaultIndexName)
	assert.Equal(t, 10, cfg.Index.BatchSize)
	assert.Equal(t, 1000, cfg.Index.MaxAllocAttempts)
	assert.False(t, cfg.Database.Redis.IsConfigured())
	assert.Contains(t, cfg.Gateway.HTTP.CORS.AllowedHeaders, "Authorization")
}

func TestConfigManager_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	t.Setenv("CONCEPTSTORE_GATEWAY_HTTP_PORT", "8080")
	t.Setenv("CONCEPTSTORE_GITHUB_OAUTH_CLIENTID", "abc123")
	t.Setenv("CONCEPTSTORE_DATABASE_REDIS_ADDRS", "localhost:6379,localhost:6380")
	t.Setenv("CONCEPTSTORE_AUTH_STATETTL", "2m")

	cm, err := NewConfigManager[types.AppConfig]()
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, 8080, cfg.Gateway.HTTP.Port)
	assert.Equal(t, "abc123", cfg.GitHub.OAuth.ClientID)
	assert.Equal(t, []string{"localhost:6379", "localhost:6380"}, cfg.Database.Redis.Addrs)
	assert.Equal(t, 2*time.Minute, cfg.Auth.StateTTL)
}

func TestConfigManager_FileLayer(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("index:\n  batchSize: 25\ncontent:\n  backend: memory\n"), 0644))
		t.Setenv(ConfigPathEnv, path)

		cm, err := NewConfigManager[types.AppConfig]()
		require.NoError(t, err)

		cfg := cm.GetConfig()
		assert.Equal(t, 25, cfg.Index.BatchSize)
		assert.Equal(t, types.ContentBackendMemory, cfg.Content.Backend)
		assert.Equal(t, "index", cfg.Index.DefaultIndexName)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"github":{"branch":"main"}}`), 0644))
		t.Setenv(ConfigPathEnv, path)

		cm, err := NewConfigManager[types.AppConfig]()
		require.NoError(t, err)
		assert.Equal(t, "main", cm.GetConfig().GitHub.Branch)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(ConfigPathEnv, filepath.Join(dir, "nope.yaml"))

		_, err := NewConfigManager[types.AppConfig]()
		assert.Error(t, err)
	})
}
