package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Load()
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, "localhost:6379", cfg.RedisAddress)
	assert.Equal(t, "300s", cfg.CacheTTL)
	assert.Equal(t, "templates", cfg.CacheNamespace)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, "90", cfg.UsageLogRetentionDays)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TEMPLATE_CACHE_ENABLED", "false")
	t.Setenv("REDIS_POOL_SIZE", "25")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, "25", cfg.RedisPoolSize)
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("invalid port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = "not-a-port"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid database type", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseType = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres requires host", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseType = "postgres"
		cfg.PostgresHost = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid redis db", func(t *testing.T) {
		cfg := validConfig()
		cfg.RedisDB = "42"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid socket timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.RedisSocketTimeout = "soon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid cache ttl", func(t *testing.T) {
		cfg := validConfig()
		cfg.CacheTTL = "five minutes"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid retention", func(t *testing.T) {
		cfg := validConfig()
		cfg.UsageLogRetentionDays = "0"
		assert.Error(t, cfg.Validate())
	})
}

func TestDurationAccessors(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "5s", cfg.RedisSocketTimeoutDuration().String())
	assert.Equal(t, "5m0s", cfg.CacheTTLDuration().String())
	assert.Equal(t, "1m0s", cfg.CacheSyncIntervalDuration().String())
	assert.Equal(t, "5s", cfg.RenderTimeoutDuration().String())
}
