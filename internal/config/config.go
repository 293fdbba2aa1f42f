package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Single signing authority for worker service tokens.
	ServiceTokenSecret     string `env:"SERVICE_TOKEN_SECRET"`
	ServiceTokenTTLMinutes int    `env:"SERVICE_TOKEN_TTL_MINUTES" envDefault:"15"`

	PlatformBaseURL string `env:"PLATFORM_BASE_URL"`
	SecretStoreURL  string `env:"SECRET_STORE_URL"`
	Platform        string `env:"PLATFORM" envDefault:"tg"`

	// Daily budgets per account.
	DailyInviteLimit  int `env:"DAILY_INVITE_LIMIT" envDefault:"40"`
	DailyMessageLimit int `env:"DAILY_MESSAGE_LIMIT" envDefault:"80"`
	DailyContactLimit int `env:"DAILY_CONTACT_LIMIT" envDefault:"30"`

	// Hourly budgets per account.
	HourlyInviteLimit  int `env:"HOURLY_INVITE_LIMIT" envDefault:"10"`
	HourlyMessageLimit int `env:"HOURLY_MESSAGE_LIMIT" envDefault:"20"`
	HourlyContactLimit int `env:"HOURLY_CONTACT_LIMIT" envDefault:"10"`

	// Per-destination cap for invites into the same channel.
	ChannelInviteLimit int `env:"CHANNEL_INVITE_LIMIT" envDefault:"15"`

	// Penalty tuning. The buffer absorbs clock skew and platform imprecision.
	FloodWaitBufferSeconds   int `env:"FLOOD_WAIT_BUFFER_SECONDS" envDefault:"300"`
	PeerFloodSuspensionHours int `env:"PEER_FLOOD_SUSPENSION_HOURS" envDefault:"24"`

	// Lease tuning.
	DefaultLeaseMinutes int `env:"DEFAULT_LEASE_MINUTES" envDefault:"30"`
	MaxLeaseMinutes     int `env:"MAX_LEASE_MINUTES" envDefault:"120"`

	// How many times a target may cycle through "in progress" before it is
	// treated as a true failure.
	MaxInProgressRetries int `env:"MAX_IN_PROGRESS_RETRIES" envDefault:"3"`

	// Local pacing of adapter calls, per process.
	SendRatePerMinute int `env:"SEND_RATE_PER_MINUTE" envDefault:"20"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ServiceTokenTTL() time.Duration {
	return time.Duration(c.ServiceTokenTTLMinutes) * time.Minute
}

func (c *Config) FloodWaitBuffer() time.Duration {
	return time.Duration(c.FloodWaitBufferSeconds) * time.Second
}

func (c *Config) PeerFloodSuspension() time.Duration {
	return time.Duration(c.PeerFloodSuspensionHours) * time.Hour
}

func (c *Config) DefaultLeaseTimeout() time.Duration {
	return time.Duration(c.DefaultLeaseMinutes) * time.Minute
}

func (c *Config) MaxLeaseTimeout() time.Duration {
	return time.Duration(c.MaxLeaseMinutes) * time.Minute
}

func (c *Config) Validate(isProduction bool) error {
	if c.DailyInviteLimit <= 0 || c.DailyMessageLimit <= 0 || c.DailyContactLimit <= 0 {
		return fmt.Errorf("daily limits must be positive")
	}
	if c.MaxLeaseMinutes < c.DefaultLeaseMinutes {
		return fmt.Errorf("MAX_LEASE_MINUTES must be >= DEFAULT_LEASE_MINUTES")
	}

	if isProduction {
		if err := validateSecret("SERVICE_TOKEN_SECRET", c.ServiceTokenSecret); err != nil {
			return err
		}
		if c.PlatformBaseURL == "" {
			log.Warn().Msg("PLATFORM_BASE_URL is empty in production: adapter calls will fail")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
