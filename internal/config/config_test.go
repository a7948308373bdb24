package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"visitorstats/internal/config"
)

func loadConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()

	t.Setenv("VISITORSTATS_ENV", config.Test)
	for k, v := range env {
		t.Setenv(k, v)
	}
	config.Reset()
	t.Cleanup(config.Reset)
	return config.GetConfig()
}

func TestSessionSecret(t *testing.T) {
	t.Run("is generated apart from the salt", func(t *testing.T) {
		cfg := loadConfig(t, map[string]string{"VISITORSTATS_SALT": "hash-salt"})

		assert.Len(t, cfg.GetSessionSecret(), 64)
		assert.NotEqual(t, cfg.Salt, cfg.GetSessionSecret())
	})

	t.Run("uses the configured value", func(t *testing.T) {
		cfg := loadConfig(t, map[string]string{
			"VISITORSTATS_SALT":           "hash-salt",
			"VISITORSTATS_SESSION_SECRET": "session-key",
		})

		assert.Equal(t, "session-key", cfg.GetSessionSecret())
		assert.Equal(t, "hash-salt", cfg.Salt)
	})
}

func TestDefaults(t *testing.T) {
	cfg := loadConfig(t, nil)

	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, int64(60), int64(cfg.CacheTTL().Seconds()))
	assert.Equal(t, config.CacheBackendDatabase, cfg.CacheBackend)
	assert.True(t, cfg.IsTest())
}
