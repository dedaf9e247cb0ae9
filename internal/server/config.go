// Package server implements the hub's HTTP and websocket surface.
package server

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration from environment variables.
type Config struct {
	// Server
	ListenAddr string

	// Authentication
	Token     string // bearer token that socket clients must provide
	AdminHash string // optional bcrypt hash guarding /status

	// Profiles
	ProfilePath string

	// Database
	DatabasePath string

	// Security
	AllowedOrigins []string // optional, for WebSocket origin validation

	// Webhook policy
	WebhookPeriod       time.Duration // minimum time between calls per session
	WebhookSizeLimit    int64         // response size cap in bytes
	WebhookFailureLimit int           // consecutive failures before cutoff
	WebhookTimeout      time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnv("PINHUB_LISTEN", ":8080"),
		Token:          os.Getenv("PINHUB_TOKEN"),
		AdminHash:      os.Getenv("PINHUB_ADMIN_HASH"), // optional
		ProfilePath:    getEnv("PINHUB_PROFILE_PATH", "profiles.json"),
		DatabasePath:   getEnv("PINHUB_DB_PATH", "pinhub.db"),
		AllowedOrigins: parseOrigins("PINHUB_ALLOWED_ORIGINS"),

		WebhookPeriod:       parseDuration("PINHUB_WEBHOOK_PERIOD", time.Second),
		WebhookSizeLimit:    parseInt64("PINHUB_WEBHOOK_SIZE_LIMIT", 1024),
		WebhookFailureLimit: parseInt("PINHUB_WEBHOOK_FAILURE_LIMIT", 10),
		WebhookTimeout:      parseDuration("PINHUB_WEBHOOK_TIMEOUT", 5*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string

	if c.Token == "" {
		errs = append(errs, "PINHUB_TOKEN is required")
	}
	if c.WebhookFailureLimit <= 0 {
		errs = append(errs, "PINHUB_WEBHOOK_FAILURE_LIMIT must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseOrigins(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
