package providers

import (
	"log/slog"

	"github.com/nextlevelbuilder/orionmind/internal/auth"
	"github.com/nextlevelbuilder/orionmind/internal/config"
)

// Registry holds one lazily-usable Engine per configured provider, keyed by
// name. The Orchestrator (C10) walks it by task-type priority list.
type Registry struct {
	engines map[string]Engine
	order   []string
}

// New builds a Registry for every provider named in cfg.Providers, resolving
// credentials through broker so OAuth-backed and API-key-backed providers
// are handled uniformly.
func New(cfg *config.Config, broker *auth.Broker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{engines: map[string]Engine{}}

	add := func(name string, engine Engine) {
		r.engines[name] = engine
		r.order = append(r.order, name)
	}

	add("anthropic", NewAnthropicEngine(broker.GetToken("anthropic"), cfg.Providers.Anthropic.APIBase, cfg.Providers.Anthropic.Model, logger))
	add("openai", NewOpenAIEngine(broker.GetToken("openai"), cfg.Providers.OpenAI.APIBase, cfg.Providers.OpenAI.Model, logger))
	add("gemini", NewGeminiEngine(broker.GetToken("gemini"), cfg.Providers.Gemini.APIBase, cfg.Providers.Gemini.Model, logger))
	add("openrouter", NewOpenRouterEngine(broker.GetToken("openrouter"), cfg.Providers.OpenRouter.APIBase, cfg.Providers.OpenRouter.Model, logger))
	add("groq", NewGroqEngine(broker.GetToken("groq"), cfg.Providers.Groq.APIBase, cfg.Providers.Groq.Model, logger))
	add("mistral", NewMistralEngine(broker.GetToken("mistral"), cfg.Providers.Mistral.APIBase, cfg.Providers.Mistral.Model, logger))
	add("local", NewLocalEngine(cfg.Providers.Local.BaseURL, cfg.Providers.Local.Model, logger))

	return r
}

// NewRegistry builds an empty Registry that engines can be added to via
// Register. Used by tests and by any caller composing engines outside the
// config/auth-backed New constructor.
func NewRegistry() *Registry {
	return &Registry{engines: map[string]Engine{}}
}

// Register adds or replaces the named engine.
func (r *Registry) Register(name string, engine Engine) {
	if _, exists := r.engines[name]; !exists {
		r.order = append(r.order, name)
	}
	r.engines[name] = engine
}

// Get returns the named engine, or false if no such provider is configured.
func (r *Registry) Get(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// All returns every registered engine in configuration order.
func (r *Registry) All() []Engine {
	out := make([]Engine, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.engines[name])
	}
	return out
}

// Names returns every registered engine name in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
