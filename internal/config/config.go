// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	CredDBPath    string
	DeviceDBPath  string
	TelegramToken string

	RateLimit RateLimitConfig
	Batch     BatchConfig
	Reconnect ReconnectConfig
}

// RateLimitConfig controls the per-tenant request quota.
type RateLimitConfig struct {
	Window   time.Duration
	Quota    int
	Cooldown time.Duration
}

// BatchConfig controls batch lookup dispatch.
type BatchConfig struct {
	Workers   int
	ItemDelay time.Duration
}

// ReconnectConfig controls automatic reconnection.
type ReconnectConfig struct {
	Backoff time.Duration
	// MaxRetries caps consecutive reconnect attempts; 0 retries forever.
	MaxRetries int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		CredDBPath:    getEnv("CRED_DB_PATH", "./data/credentials.db"),
		DeviceDBPath:  getEnv("DEVICE_DB_PATH", "./data/devices.db"),
		TelegramToken: getEnv("TG_TOKEN", ""),
		RateLimit: RateLimitConfig{
			Window:   getEnvDuration("RATE_WINDOW", 24*time.Hour),
			Quota:    getEnvInt("RATE_QUOTA", 200),
			Cooldown: getEnvDuration("RATE_COOLDOWN", 2*time.Second),
		},
		Batch: BatchConfig{
			Workers:   getEnvInt("BATCH_WORKERS", 10),
			ItemDelay: getEnvDuration("BATCH_ITEM_DELAY", 600*time.Millisecond),
		},
		Reconnect: ReconnectConfig{
			Backoff:    getEnvDuration("RECONNECT_BACKOFF", 4*time.Second),
			MaxRetries: getEnvInt("RECONNECT_MAX_RETRIES", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.CredDBPath == "" {
		return fmt.Errorf("CRED_DB_PATH cannot be empty")
	}
	if c.DeviceDBPath == "" {
		return fmt.Errorf("DEVICE_DB_PATH cannot be empty")
	}
	if c.RateLimit.Quota <= 0 {
		return fmt.Errorf("RATE_QUOTA must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_WINDOW must be > 0")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be > 0")
	}
	if c.Reconnect.Backoff <= 0 {
		return fmt.Errorf("RECONNECT_BACKOFF must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
