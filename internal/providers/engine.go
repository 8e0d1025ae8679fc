// Package providers implements the Provider Engines (C9): one Engine per
// LLM backend, behind a uniform generate/stream/is_available surface so the
// Orchestrator can compose them blindly. Grounded on the net/http + SSE
// scanning idiom of vanducng-goclaw's internal/providers package, stripped
// of its tool-calling and extended-thinking machinery, which has no home in
// a companion runtime.
package providers

import "context"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history, in the canonical
// provider-agnostic wire format every Engine translates to its own.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Engine is the capability set every Provider Engine implements. Generate
// and Stream never return an error: any failure is surfaced as content
// prefixed "[Error] " so the Orchestrator can treat every engine uniformly.
type Engine interface {
	// Generate produces a complete response for prompt given history.
	Generate(ctx context.Context, prompt string, history []Message) string

	// Stream produces a response incrementally, invoking onChunk with each
	// non-empty content delta as it arrives. onChunk is never called with
	// an empty string.
	Stream(ctx context.Context, prompt string, history []Message, onChunk func(string))

	// IsAvailable probes whether the engine is currently usable (valid
	// credentials and, where applicable, reachable endpoint).
	IsAvailable(ctx context.Context) bool

	// Name returns the engine identifier, e.g. "anthropic", "openai".
	Name() string

	// FormatMessages assembles the canonical message list for a turn:
	// system messages first, then history, then prompt as the final user
	// message.
	FormatMessages(prompt string, history []Message) []Message
}

// formatMessages is the shared implementation of FormatMessages, reused by
// every concrete engine.
func formatMessages(history []Message, prompt string) []Message {
	out := make([]Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	for _, m := range history {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	out = append(out, Message{Role: RoleUser, Content: prompt})
	return out
}

// errString formats a failure for the "[Error] ..." content contract.
func errString(prefix string, err error) string {
	return "[Error] " + prefix + ": " + err.Error()
}
