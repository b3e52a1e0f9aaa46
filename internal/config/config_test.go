package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := Load()

	assert.Equal(t, StoragePostgres, cfg.Storage.Backend)
	assert.Equal(t, LockMemory, cfg.Lock.Backend)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.Assignment.StaleAfter)
	assert.Equal(t, "reservation_events", cfg.Events.Exchange)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com, https://app.example.com,")
	t.Setenv("ASSIGNMENT_STALE_AFTER", "90s")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, 3*time.Second, cfg.Lock.TTL)
	assert.Equal(t, []string{"https://ops.example.com", "https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.Assignment.StaleAfter)
	assert.Equal(t, 0, cfg.Redis.DB, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Redis:      RedisConfig{Enabled: true},
			Storage:    StorageConfig{Backend: StorageMemory},
			Lock:       LockConfig{Backend: LockMemory, TTL: time.Second},
			Auth:       AuthConfig{JWTSecret: "secret"},
			Assignment: AssignmentConfig{StaleAfter: time.Minute, ScanInterval: time.Second},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"redis lock without redis", func(c *Config) { c.Lock.Backend = LockRedis; c.Redis.Enabled = false }},
		{"redis lock without ttl", func(c *Config) { c.Lock.Backend = LockRedis; c.Lock.TTL = 0 }},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero stale threshold", func(c *Config) { c.Assignment.StaleAfter = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
