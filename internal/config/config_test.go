package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("duration helpers convert units", func(t *testing.T) {
		cfg := &Config{
			ServiceTokenTTLMinutes:   15,
			FloodWaitBufferSeconds:   300,
			PeerFloodSuspensionHours: 24,
			DefaultLeaseMinutes:      30,
			MaxLeaseMinutes:          120,
		}
		assert.Equal(t, 15*time.Minute, cfg.ServiceTokenTTL())
		assert.Equal(t, 5*time.Minute, cfg.FloodWaitBuffer())
		assert.Equal(t, 24*time.Hour, cfg.PeerFloodSuspension())
		assert.Equal(t, 30*time.Minute, cfg.DefaultLeaseTimeout())
		assert.Equal(t, 2*time.Hour, cfg.MaxLeaseTimeout())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                 os.Getenv("PORT"),
		"DATABASE_URL":         os.Getenv("DATABASE_URL"),
		"REDIS_URL":            os.Getenv("REDIS_URL"),
		"DAILY_INVITE_LIMIT":   os.Getenv("DAILY_INVITE_LIMIT"),
		"CHANNEL_INVITE_LIMIT": os.Getenv("CHANNEL_INVITE_LIMIT"),
		"LOG_LEVEL":            os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("DAILY_INVITE_LIMIT")
		os.Unsetenv("CHANNEL_INVITE_LIMIT")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 40, cfg.DailyInviteLimit)
		assert.Equal(t, 80, cfg.DailyMessageLimit)
		assert.Equal(t, 15, cfg.ChannelInviteLimit)
		assert.Equal(t, 30, cfg.DefaultLeaseMinutes)
		assert.Equal(t, 3, cfg.MaxInProgressRetries)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "9090")
		os.Setenv("DAILY_INVITE_LIMIT", "10")
		os.Setenv("CHANNEL_INVITE_LIMIT", "5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 10, cfg.DailyInviteLimit)
		assert.Equal(t, 5, cfg.ChannelInviteLimit)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DailyInviteLimit:    40,
			DailyMessageLimit:   80,
			DailyContactLimit:   30,
			DefaultLeaseMinutes: 30,
			MaxLeaseMinutes:     120,
			ServiceTokenSecret:  strings.Repeat("x", 32),
		}
	}

	t.Run("accepts valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate(true))
	})

	t.Run("rejects non-positive daily limits", func(t *testing.T) {
		cfg := valid()
		cfg.DailyInviteLimit = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects max lease below default lease", func(t *testing.T) {
		cfg := valid()
		cfg.MaxLeaseMinutes = 10
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects short token secret in production", func(t *testing.T) {
		cfg := valid()
		cfg.ServiceTokenSecret = "short"
		assert.Error(t, cfg.Validate(true))
		assert.NoError(t, cfg.Validate(false), "development skips the secret check")
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		cfg := valid()
		cfg.ServiceTokenSecret = "change-me"
		assert.Error(t, cfg.Validate(true))
	})
}
