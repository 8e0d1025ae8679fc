package auth

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// ProviderStatus is a point-in-time auth/reachability snapshot for a single
// provider, surfaced by the "auth status" CLI command.
type ProviderStatus struct {
	Available bool   `json:"available"`
	AuthType  string `json:"auth_type"` // "oauth", "api_key", "local"
	Model     string `json:"model"`
}

// Broker resolves provider credentials: OAuth device-code tokens, API keys
// read from environment variables, and local-engine reachability. It never
// persists API keys; those stay in the process environment only.
type Broker struct {
	authDir    string
	logger     *slog.Logger
	openai     *deviceCodeFlow
	gemini     *deviceCodeFlow
	localBase  string
	httpClient *http.Client
}

// New creates a Broker. authDir is the directory OAuth credential files are
// stored under (e.g. ".orionmind/auth"); localBase is the local provider's
// base URL, used for the reachability probe.
func New(authDir, localBase string, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if localBase == "" {
		localBase = "http://localhost:11434"
	}
	return &Broker{
		authDir:    authDir,
		logger:     logger,
		openai:     newOpenAIFlow(authDir),
		gemini:     newGeminiFlow(authDir),
		localBase:  localBase,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// isLocalReachable reports whether the local engine's base endpoint answers
// within the probe timeout with a non-5xx status.
func (b *Broker) isLocalReachable() bool {
	resp, err := b.httpClient.Get(b.localBase)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// GetToken resolves a usable credential for the named provider: a bearer
// token for OAuth-backed providers when logged in, else an API key from the
// environment, else "" if nothing is configured.
func (b *Broker) GetToken(provider string) string {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	b.logger.Debug("resolving provider token", "provider", normalized)

	switch normalized {
	case "openai":
		if t := b.openai.getToken(); t != "" {
			return "Bearer " + t
		}
		return env("ORIONMIND_OPENAI_API_KEY")
	case "gemini":
		if t := b.gemini.getToken(); t != "" {
			return "Bearer " + t
		}
		return env("ORIONMIND_GEMINI_API_KEY")
	case "anthropic", "claude":
		return env("ORIONMIND_ANTHROPIC_API_KEY")
	case "openrouter":
		return env("ORIONMIND_OPENROUTER_API_KEY")
	case "groq":
		return env("ORIONMIND_GROQ_API_KEY")
	case "mistral":
		return env("ORIONMIND_MISTRAL_API_KEY")
	case "ollama", "local":
		return "local"
	default:
		b.logger.Warn("unknown provider requested for token resolution", "provider", provider)
		return ""
	}
}

// AvailableProviders returns the providers that currently have valid auth or
// local connectivity.
func (b *Broker) AvailableProviders() []string {
	var available []string

	if env("ORIONMIND_ANTHROPIC_API_KEY") != "" {
		available = append(available, "anthropic")
	}
	if b.openai.isLoggedIn() || env("ORIONMIND_OPENAI_API_KEY") != "" {
		available = append(available, "openai")
	}
	if b.gemini.isLoggedIn() || env("ORIONMIND_GEMINI_API_KEY") != "" {
		available = append(available, "gemini")
	}
	if env("ORIONMIND_OPENROUTER_API_KEY") != "" {
		available = append(available, "openrouter")
	}
	if env("ORIONMIND_GROQ_API_KEY") != "" {
		available = append(available, "groq")
	}
	if env("ORIONMIND_MISTRAL_API_KEY") != "" {
		available = append(available, "mistral")
	}
	if b.isLocalReachable() {
		available = append(available, "local")
	}

	b.logger.Info("available providers", "providers", available)
	return available
}

// Status returns auth/reachability metadata for every supported provider.
func (b *Broker) Status() map[string]ProviderStatus {
	openaiOAuth := b.openai.isLoggedIn()
	openaiAPI := env("ORIONMIND_OPENAI_API_KEY") != ""
	geminiOAuth := b.gemini.isLoggedIn()
	geminiAPI := env("ORIONMIND_GEMINI_API_KEY") != ""
	localUp := b.isLocalReachable()

	authTypeFor := func(oauth bool) string {
		if oauth {
			return "oauth"
		}
		return "api_key"
	}

	return map[string]ProviderStatus{
		"anthropic": {
			Available: env("ORIONMIND_ANTHROPIC_API_KEY") != "",
			AuthType:  "api_key",
			Model:     "claude-opus-4-6",
		},
		"openai": {
			Available: openaiOAuth || openaiAPI,
			AuthType:  authTypeFor(openaiOAuth),
			Model:     "gpt-5.2",
		},
		"gemini": {
			Available: geminiOAuth || geminiAPI,
			AuthType:  authTypeFor(geminiOAuth),
			Model:     "gemini-3.1-pro",
		},
		"openrouter": {
			Available: env("ORIONMIND_OPENROUTER_API_KEY") != "",
			AuthType:  "api_key",
			Model:     "openrouter/auto",
		},
		"groq": {
			Available: env("ORIONMIND_GROQ_API_KEY") != "",
			AuthType:  "api_key",
			Model:     "llama-3.3-70b",
		},
		"mistral": {
			Available: env("ORIONMIND_MISTRAL_API_KEY") != "",
			AuthType:  "api_key",
			Model:     "mistral-large",
		},
		"local": {
			Available: localUp,
			AuthType:  "local",
			Model:     "auto-detect",
		},
	}
}

// Login starts the OAuth device-code flow for providers that support it.
// onPrompt is called once with the verification URL and user code to show
// the user before the broker blocks on polling; it may be nil.
func (b *Broker) Login(provider string, onPrompt func(verificationURL, userCode string)) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	switch normalized {
	case "openai":
		token, err := b.openai.login(onPrompt)
		return token != "", err
	case "gemini":
		token, err := b.gemini.login(onPrompt)
		return token != "", err
	default:
		return false, nil
	}
}

// Logout clears stored OAuth credentials for a provider. No-op for
// API-key-only providers.
func (b *Broker) Logout(provider string) error {
	normalized := strings.ToLower(strings.TrimSpace(provider))
	switch normalized {
	case "openai":
		return b.openai.deleteCredentials()
	case "gemini":
		return b.gemini.deleteCredentials()
	default:
		return nil
	}
}
