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

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, "redis", cfg.MQ.Driver)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.NotEmpty(t, cfg.Auth.JWTSecret, "development falls back to a dev secret")
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
environment: staging
db:
  driver: postgres
  host: db.internal
auth:
  jwt_secret: from-file
  token_ttl: 1h
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Run("file values", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "staging", cfg.Environment)
		assert.Equal(t, "postgres", cfg.DB.Driver)
		assert.Equal(t, "db.internal", cfg.DB.Host)
		assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("DB_HOST", "db.override")
		t.Setenv("SERVER_PORT", "9999")
		t.Setenv("RATELIMIT_ENABLED", "true")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "db.override", cfg.DB.Host)
		assert.Equal(t, "9999", cfg.Server.Port)
		assert.True(t, cfg.RateLimit.Enabled)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: "production",
			DB:          DatabaseConfig{Driver: "mysql"},
			MQ:          MQConfig{Driver: "redis"},
			Auth:        AuthConfig{JWTSecret: "s3cret", TokenTTL: time.Hour},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown db driver", func(c *Config) { c.DB.Driver = "oracle" }, "unsupported db driver"},
		{"unknown mq driver", func(c *Config) { c.MQ.Driver = "kafka" }, "unsupported mq driver"},
		{"missing secret in production", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret is required"},
		{"non-positive ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token_ttl"},
		{"zero rate while enabled", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true}
		}, "rate limits"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
