package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.ProjectID)
	assert.Equal(t, ":8420", cfg.HTTPAddr)
	assert.Equal(t, ":4318", cfg.OTLPAddr)
	assert.Equal(t, "terminal-read", cfg.TerminalCommand)
	assert.Equal(t, 150*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 1000, cfg.RingCapacity)
	assert.Equal(t, 30, cfg.MaxAgeDays)
	assert.Equal(t, 10000, cfg.MaxEvents)
	assert.True(t, cfg.BacklogOnConnect)
	assert.True(t, cfg.PersistenceEnabled())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PROJECT_ID", "demo")
	t.Setenv("POLL_INTERVAL_MS", "500")
	t.Setenv("RING_CAPACITY", "50")
	t.Setenv("HUB_BACKLOG_ON_CONNECT", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.ProjectID)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 50, cfg.RingCapacity)
	assert.False(t, cfg.BacklogOnConnect)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "fast")
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_InvalidBacklogFlag(t *testing.T) {
	t.Setenv("HUB_BACKLOG_ON_CONNECT", "maybe")
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	cfg.TerminalCommand = ""
	assert.Error(t, cfg.Validate())

	cfg.TerminalCommand = "terminal-read"
	cfg.RingCapacity = 0
	assert.Error(t, cfg.Validate())
}
