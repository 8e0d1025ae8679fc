package providers

import "log/slog"

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-5.2"
)

// NewOpenAIEngine builds the OpenAI engine.
func NewOpenAIEngine(apiKey, apiBase, model string, logger *slog.Logger) Engine {
	if apiBase == "" {
		apiBase = openAIDefaultBase
	}
	if model == "" {
		model = openAIDefaultModel
	}
	return newOpenAICompatibleEngine("openai", apiKey, apiBase, model, nil, logger)
}

const (
	groqDefaultBase  = "https://api.groq.com/openai/v1"
	groqDefaultModel = "llama-3.3-70b"
)

// NewGroqEngine builds the Groq engine (OpenAI-compatible wire format).
func NewGroqEngine(apiKey, apiBase, model string, logger *slog.Logger) Engine {
	if apiBase == "" {
		apiBase = groqDefaultBase
	}
	if model == "" {
		model = groqDefaultModel
	}
	return newOpenAICompatibleEngine("groq", apiKey, apiBase, model, nil, logger)
}

const (
	openRouterDefaultBase  = "https://openrouter.ai/api/v1"
	openRouterDefaultModel = "openrouter/auto"
	openRouterReferer      = "https://orionmind.local"
)

// NewOpenRouterEngine builds the OpenRouter engine. OpenRouter requires an
// HTTP-Referer header identifying the calling application.
func NewOpenRouterEngine(apiKey, apiBase, model string, logger *slog.Logger) Engine {
	if apiBase == "" {
		apiBase = openRouterDefaultBase
	}
	if model == "" {
		model = openRouterDefaultModel
	}
	return newOpenAICompatibleEngine("openrouter", apiKey, apiBase, model, map[string]string{
		"HTTP-Referer": openRouterReferer,
	}, logger)
}

const (
	mistralDefaultBase  = "https://api.mistral.ai/v1"
	mistralDefaultModel = "mistral-large"
)

// NewMistralEngine builds the Mistral engine. Mistral's native REST API is
// OpenAI-shaped, so it reuses the same compatible engine.
func NewMistralEngine(apiKey, apiBase, model string, logger *slog.Logger) Engine {
	if apiBase == "" {
		apiBase = mistralDefaultBase
	}
	if model == "" {
		model = mistralDefaultModel
	}
	return newOpenAICompatibleEngine("mistral", apiKey, apiBase, model, nil, logger)
}
