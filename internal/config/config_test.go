package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json5")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60, cfg.Daemon.IntervalSeconds)
	assert.Equal(t, DefaultUserID, cfg.Daemon.UserID)
	assert.Equal(t, "http://localhost:11434", cfg.Providers.Local.BaseURL)
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("ORIONMIND_TELEGRAM_TOKEN", "tok-123")
	t.Setenv("ORIONMIND_DAEMON_INTERVAL_SECONDS", "30")

	cfg, err := Load("/nonexistent/path/config.json5")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Channels.Telegram.Token)
	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, 30, cfg.Daemon.IntervalSeconds)
}

func TestReplaceFromAtomicSwap(t *testing.T) {
	cfg := Default()
	other := Default()
	other.Daemon.IntervalSeconds = 120

	cfg.ReplaceFrom(other)

	assert.Equal(t, 120, cfg.Daemon.IntervalSeconds)
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	b.Daemon.IntervalSeconds = 999

	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSaveNeverWritesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.json"

	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-super-secret"
	cfg.Channels.Telegram.Token = "bot-token"

	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-super-secret")
	assert.NotContains(t, string(data), "bot-token")
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, home+"/foo", ExpandHome("~/foo"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}
