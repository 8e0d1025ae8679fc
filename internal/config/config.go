// Package config loads and exposes the typed settings for the orionmind
// companion runtime.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// DefaultUserID is the companion's default (and, for a single-user
// deployment, only) user identity.
const DefaultUserID = "owner"

// Config is the root configuration for the orionmind companion runtime.
type Config struct {
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Database  DatabaseConfig  `json:"database"`
	Memory    MemoryConfig    `json:"memory"`
	Auth      AuthConfig      `json:"auth"`
	Policy    PolicyFileConfig `json:"policy"`
	Triggers  TriggersFileConfig `json:"triggers"`
	Daemon    DaemonConfig    `json:"daemon"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	mu        sync.RWMutex
}

// ProviderCredential is the shared shape of a single LLM provider's
// configuration: an API key (overridden by env), an optional base URL
// override, and a default model.
type ProviderCredential struct {
	APIKey  string `json:"-"` // never persisted; env var only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ProvidersConfig holds per-provider settings for every Provider Engine (C9).
type ProvidersConfig struct {
	Anthropic  ProviderCredential `json:"anthropic,omitempty"`
	OpenAI     ProviderCredential `json:"openai,omitempty"`
	Gemini     ProviderCredential `json:"gemini,omitempty"`
	OpenRouter ProviderCredential `json:"openrouter,omitempty"`
	Groq       ProviderCredential `json:"groq,omitempty"`
	Mistral    ProviderCredential `json:"mistral,omitempty"`
	Local      LocalProviderConfig `json:"local,omitempty"`
}

// LocalProviderConfig configures the Ollama-like local HTTP backend.
type LocalProviderConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default "http://localhost:11434"
	Model   string `json:"model,omitempty"`
}

// ChannelsConfig configures the Messaging Channel (C15) transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the Telegram bot transport.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"-"` // env only
	WebhookURL string `json:"webhook_url,omitempty"` // empty = long-polling mode

	// STT proxy used to transcribe voice notes, gating the Permission
	// Policy's voice capability. Empty STTProxyURL disables transcription.
	STTProxyURL       string `json:"stt_proxy_url,omitempty"`
	STTAPIKey         string `json:"-"` // env only
	STTTenantID       string `json:"stt_tenant_id,omitempty"`
	STTTimeoutSeconds int    `json:"stt_timeout_seconds,omitempty"`
}

// DiscordConfig configures the Discord bot transport.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env only
}

// DatabaseConfig configures the Relational Store (C4).
type DatabaseConfig struct {
	Driver string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	DSN    string `json:"-"`                // env only; sqlite file path or postgres connection string
}

// MemoryConfig configures the Memory Facade (C6), RAG Ingest (C7), and the
// Vector Store's (C5) embedder selection.
type MemoryConfig struct {
	VectorBackend    VectorBackendConfig `json:"vector_backend"`
	EmbeddingModel   string              `json:"embedding_model,omitempty"` // default "text-embedding-3-small"
	HistoryLimit     int                 `json:"history_limit,omitempty"`   // default 20, matches Context Assembler
	CompressAfterDays int                `json:"compress_after_days,omitempty"` // default 30
}

// VectorBackendConfig selects between the hosted and embedded Vector Store
// variants per SPEC_FULL §4.3: a hosted URL+key pair wins when both are
// set, otherwise the embedded local backend under EmbeddedPath is used.
type VectorBackendConfig struct {
	HostedURL   string `json:"hosted_url,omitempty"`
	HostedKey   string `json:"-"` // env only
	EmbeddedPath string `json:"embedded_path,omitempty"` // default "./chroma_data"
}

// AuthConfig configures the Auth Broker's (C8) persisted OAuth state.
type AuthConfig struct {
	Dir string `json:"dir,omitempty"` // default ".orionmind/auth"
}

// PolicyFileConfig configures the Permission Policy's (C2) YAML file.
type PolicyFileConfig struct {
	Path string `json:"path,omitempty"` // default "policy.yaml"
}

// TriggersFileConfig configures the Trigger Engine's (C13) YAML file.
type TriggersFileConfig struct {
	Path string `json:"path,omitempty"` // default "background/triggers.yaml"
}

// DaemonConfig configures the Daemon's (C14) periodic cycle.
type DaemonConfig struct {
	IntervalSeconds int    `json:"interval_seconds,omitempty"` // default 60
	UserID          string `json:"user_id,omitempty"`          // default config.DefaultUserID
}

// TelemetryConfig holds OpenTelemetry export settings. They are loaded from
// the config file and env, but no code creates a tracer or exporter from them.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "orionmind"
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig holds Tailscale tsnet settings. They are loaded from the
// config file and env, but no code starts a tsnet listener from them.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // env only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// This is the atomic hot-reload-swap idiom readers rely on: a reader holding
// an RLock during ReplaceFrom either sees the whole old config or the whole
// new one, never a partial mix.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Providers = src.Providers
	c.Channels = src.Channels
	c.Database = src.Database
	c.Memory = src.Memory
	c.Auth = src.Auth
	c.Policy = src.Policy
	c.Triggers = src.Triggers
	c.Daemon = src.Daemon
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// Snapshot returns a copy of the config data safe to read without holding
// the lock afterward.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Providers: c.Providers,
		Channels:  c.Channels,
		Database:  c.Database,
		Memory:    c.Memory,
		Auth:      c.Auth,
		Policy:    c.Policy,
		Triggers:  c.Triggers,
		Daemon:    c.Daemon,
		Telemetry: c.Telemetry,
		Tailscale: c.Tailscale,
	}
}
