package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(10), cfg.ReconnectMaxRetries)
	assert.Equal(t, ":8093", cfg.OpsAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("RECONNECT_MAX_RETRIES", "3")
	t.Setenv("SESSION_TOKEN", "tok")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(3), cfg.ReconnectMaxRetries)
	assert.Equal(t, "tok", cfg.Token)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "not-a-duration")
	t.Setenv("POLL_MAX_FAILURES", "many")
	t.Setenv("RECONNECT_MAX_RETRIES", "-1")

	cfg := Load()
	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Zero(t, cfg.PollMaxFailures)
	assert.Equal(t, uint64(10), cfg.ReconnectMaxRetries, "negative retry counts must not wrap around")
}
