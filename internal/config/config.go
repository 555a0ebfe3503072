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
	Port        string
	FrontendURL string
	DBPath      string

	// PingInterval is the cadence clients are expected to ping at;
	// HeartbeatTimeout is how long a participant survives without one.
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration

	// CursorTTL bounds how long a stationary cursor stays visible.
	CursorTTL time.Duration

	// SessionIdleTTL is how long an empty session lingers before its
	// coordinator is destroyed.
	SessionIdleTTL time.Duration

	// SweepInterval is the cadence of presence eviction and cursor purges.
	SweepInterval time.Duration

	// HistoryWindow is how many accepted operations each session retains
	// for transforming late edits. Older bases force a resync.
	HistoryWindow int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	ping := getEnvDuration("PING_INTERVAL", 54*time.Second)

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/collab.db"),
		PingInterval:     ping,
		HeartbeatTimeout: getEnvDuration("HEARTBEAT_TIMEOUT", 3*ping),
		CursorTTL:        getEnvDuration("CURSOR_TTL", 60*time.Second),
		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 10*time.Minute),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 15*time.Second),
		HistoryWindow:    getEnvInt("HISTORY_WINDOW", 1024),
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("PING_INTERVAL must be > 0")
	}
	if c.HeartbeatTimeout <= c.PingInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must exceed PING_INTERVAL")
	}
	if c.CursorTTL <= 0 {
		return fmt.Errorf("CURSOR_TTL must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("HISTORY_WINDOW must be >= 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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
