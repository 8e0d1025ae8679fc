package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			VectorBackend: VectorBackendConfig{
				EmbeddedPath: "./chroma_data",
			},
			EmbeddingModel:    "text-embedding-3-small",
			HistoryLimit:      20,
			CompressAfterDays: 30,
		},
		Auth: AuthConfig{
			Dir: ".orionmind/auth",
		},
		Policy: PolicyFileConfig{
			Path: "policy.yaml",
		},
		Triggers: TriggersFileConfig{
			Path: "background/triggers.yaml",
		},
		Daemon: DaemonConfig{
			IntervalSeconds: 60,
			UserID:          DefaultUserID,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "orionmind",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env overrides are used instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only source for secrets.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ORIONMIND_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ORIONMIND_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("ORIONMIND_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("ORIONMIND_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("ORIONMIND_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("ORIONMIND_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("ORIONMIND_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("ORIONMIND_LOCAL_BASE_URL", &c.Providers.Local.BaseURL)
	if c.Providers.Local.BaseURL == "" {
		c.Providers.Local.BaseURL = "http://localhost:11434"
	}

	envStr("ORIONMIND_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("ORIONMIND_TELEGRAM_STT_API_KEY", &c.Channels.Telegram.STTAPIKey)
	envStr("ORIONMIND_DISCORD_TOKEN", &c.Channels.Discord.Token)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("ORIONMIND_DATABASE_DSN", &c.Database.DSN)
	envStr("ORIONMIND_DATABASE_DRIVER", &c.Database.Driver)

	envStr("ORIONMIND_VECTOR_HOSTED_URL", &c.Memory.VectorBackend.HostedURL)
	envStr("ORIONMIND_VECTOR_HOSTED_KEY", &c.Memory.VectorBackend.HostedKey)

	envStr("ORIONMIND_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ORIONMIND_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("ORIONMIND_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ORIONMIND_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("ORIONMIND_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("ORIONMIND_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("ORIONMIND_TSNET_DIR", &c.Tailscale.StateDir)

	if v := os.Getenv("ORIONMIND_DAEMON_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Daemon.IntervalSeconds = n
		}
	}
	envStr("ORIONMIND_USER_ID", &c.Daemon.UserID)
	envStr("ORIONMIND_POLICY_PATH", &c.Policy.Path)
	envStr("ORIONMIND_TRIGGERS_PATH", &c.Triggers.Path)
	envStr("ORIONMIND_AUTH_DIR", &c.Auth.Dir)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after replacing config data to restore runtime secrets
// that are never persisted to the config file.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secrets (API keys, tokens, DSNs)
// carry the `json:"-"` tag and are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
