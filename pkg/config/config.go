// Package config loads runtime configuration from the environment, with a
// .env file as optional local override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the event backbone.
type Config struct {
	// ProjectID tags every emitted event.
	ProjectID string

	// HTTPAddr is the dashboard API listen address.
	HTTPAddr string
	// OTLPAddr is the OTLP/HTTP metrics listen address.
	OTLPAddr string

	// StatePath is the watched pane state document.
	StatePath string
	// StreamDir is the directory holding events-<pane>.jsonl stream files.
	StreamDir string
	// TerminalCommand is the external CLI invoked as `<cmd> -p <pane>`.
	TerminalCommand string

	// DatabasePath is the SQLite file; empty disables persistence.
	DatabasePath string
	MaxAgeDays   int
	MaxEvents    int

	PollInterval time.Duration
	RingCapacity int

	// BacklogOnConnect sends the full ring log to every new client.
	BacklogOnConnect bool
}

// LoadFromEnv builds a Config from environment variables, applying defaults
// for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ProjectID:        getEnv("PROJECT_ID", "default"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8420"),
		OTLPAddr:         getEnv("OTLP_ADDR", ":4318"),
		StatePath:        getEnv("STATE_PATH", "./state/panes.json"),
		StreamDir:        getEnv("STREAM_DIR", "./state/streams"),
		TerminalCommand:  getEnv("TERMINAL_COMMAND", "terminal-read"),
		DatabasePath:     getEnv("DATABASE_PATH", "./data/events.db"),
		BacklogOnConnect: true,
	}

	var err error
	if cfg.MaxAgeDays, err = getEnvInt("MAX_AGE_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.MaxEvents, err = getEnvInt("MAX_EVENTS", 10000); err != nil {
		return nil, err
	}
	if cfg.RingCapacity, err = getEnvInt("RING_CAPACITY", 1000); err != nil {
		return nil, err
	}

	pollMS, err := getEnvInt("POLL_INTERVAL_MS", 150)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(pollMS) * time.Millisecond

	if raw := os.Getenv("HUB_BACKLOG_ON_CONNECT"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid HUB_BACKLOG_ON_CONNECT %q: %w", raw, err)
		}
		cfg.BacklogOnConnect = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID must not be empty")
	}
	if c.TerminalCommand == "" {
		return fmt.Errorf("TERMINAL_COMMAND must not be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("STATE_PATH must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if c.RingCapacity <= 0 {
		return fmt.Errorf("RING_CAPACITY must be positive")
	}
	if c.MaxAgeDays <= 0 {
		return fmt.Errorf("MAX_AGE_DAYS must be positive")
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("MAX_EVENTS must be positive")
	}
	return nil
}

// PersistenceEnabled reports whether a database path is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabasePath != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
