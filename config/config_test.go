package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 4, cfg.MaxAgentsPerRequest)
	assert.Equal(t, 1, cfg.DemoMaxQueries)
	assert.Equal(t, 5000, cfg.MaxInstructionLength)
	assert.Equal(t, 10*time.Minute, cfg.AgentTimeout)
	assert.Equal(t, 30*time.Second, cfg.BrowserTimeout)
	assert.Equal(t, "cloud", cfg.BrowserTier)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("APP_ENV", "production")
	t.Setenv("MAX_AGENTS_PER_REQUEST", "2")
	t.Setenv("AGENT_TIMEOUT_MS", "1000")

	cfg := Load()
	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2, cfg.MaxAgentsPerRequest)
	assert.Equal(t, time.Second, cfg.AgentTimeout)
}

func TestLoadIgnoresMalformedInt(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
}
