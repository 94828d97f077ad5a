package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
server:
  port: "9090"
llm:
  provider: openai
  api_key: ${OPENAI_API_KEY}
  model: gpt-4o-mini
  temperature: 0.5
  timeout: 20s
calendar:
  provider: mcp
  url: http://calendar-mcp:8000
  timeout: 5s
meeting:
  send_notifications: true
`

func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	for _, key := range []string{
		"LLM_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LLM_BASE_URL",
		"DEFAULT_MODEL", "DEFAULT_TEMPERATURE", "CALENDAR_PROVIDER", "CALENDAR_URL",
		"CALENDAR_ID", "DB_HOST", "MQ_URL", "SERVER_PORT",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestLoadFrom_BaseAndDefaults(t *testing.T) {
	dir := writeConfig(t, map[string]string{
		"base.yaml":   baseYAML,
		"secrets.env": "OPENAI_API_KEY=sk-test\n",
	})

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 20*time.Second, cfg.LLM.Timeout)
	assert.InDelta(t, 0.5, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 5*time.Second, cfg.Calendar.Timeout)

	assert.Equal(t, "+02:00", cfg.Meeting.UTCOffset)
	assert.Equal(t, "Europe/Warsaw", cfg.Meeting.TimeZone)
	assert.Equal(t, "Google Meet", cfg.Meeting.Location)
	assert.True(t, cfg.Meeting.SendNotifications)

	assert.Equal(t, "email.reply.q", cfg.Worker.Queue)
	assert.Equal(t, int64(5), cfg.Worker.MaxRetries)
	assert.False(t, cfg.DB.Enabled())
	assert.False(t, cfg.MQ.Enabled())
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	dir := writeConfig(t, map[string]string{"base.yaml": baseYAML})

	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("DEFAULT_MODEL", "claude-3-5-haiku-latest")
	t.Setenv("DEFAULT_TEMPERATURE", "0.2")
	t.Setenv("CALENDAR_URL", "http://localhost:8000")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "ak-test", cfg.LLM.APIKey)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, "http://localhost:8000", cfg.Calendar.URL)

	engine := cfg.Engine()
	assert.Equal(t, "claude-3-5-haiku-latest", engine.Model)
	assert.InDelta(t, 0.2, engine.ReplyTemperature, 1e-6)
}

func TestLoadFrom_TemperatureDefaultsToHalf(t *testing.T) {
	dir := writeConfig(t, map[string]string{"base.yaml": "llm:\n  provider: openai\n"})

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), cfg.Engine().ReplyTemperature)
}

func TestLoadFrom_ShippedConfigReplyTemperature(t *testing.T) {
	writeConfig(t, nil)
	for _, env := range []string{"local", "production"} {
		t.Run(env, func(t *testing.T) {
			cfg, err := LoadFrom(env, "../../config")
			require.NoError(t, err)
			assert.Equal(t, float32(0.5), cfg.Engine().ReplyTemperature)
		})
	}
}

func TestLoadFrom_InvalidTemperature(t *testing.T) {
	dir := writeConfig(t, map[string]string{"base.yaml": baseYAML})
	t.Setenv("DEFAULT_TEMPERATURE", "warm")

	_, err := LoadFrom("local", dir)
	assert.Error(t, err)
}

func TestLoadFrom_EnvFileOverridesBase(t *testing.T) {
	dir := writeConfig(t, map[string]string{
		"base.yaml":       baseYAML,
		"production.yaml": "meeting:\n  timezone: Europe/Berlin\nrate_limit:\n  requests_per_minute: 30\n",
	})

	cfg, err := LoadFrom("production", dir)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Meeting.TimeZone)
	assert.True(t, cfg.Meeting.SendNotifications)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
}
