package providers

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/orionmind/internal/auth"
	"github.com/nextlevelbuilder/orionmind/internal/config"
)

func TestRegistryBuildsOneEngineForEveryConfiguredProvider(t *testing.T) {
	cfg := &config.Config{}
	broker := auth.New(t.TempDir(), "http://127.0.0.1:1", slog.Default())

	r := New(cfg, broker, slog.Default())

	for _, name := range []string{"anthropic", "openai", "gemini", "openrouter", "groq", "mistral", "local"} {
		e, ok := r.Get(name)
		if assert.True(t, ok, "missing engine %q", name) {
			assert.Equal(t, name, e.Name())
		}
	}
	assert.Len(t, r.All(), 7)
}

func TestRegistryGetUnknownProviderReturnsFalse(t *testing.T) {
	cfg := &config.Config{}
	broker := auth.New(t.TempDir(), "http://127.0.0.1:1", slog.Default())
	r := New(cfg, broker, slog.Default())

	_, ok := r.Get("nonexistent")
	assert.False(t, ok)
}
