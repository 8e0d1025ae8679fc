// Package contextassembler implements the Context Assembler (C11): bounded
// assembly of the message list handed to a Provider Engine before every
// turn, grounded on original_source/core/context.go's block ordering and
// build_context/truncate_context heuristic.
package contextassembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/orionmind/internal/memory"
	"github.com/nextlevelbuilder/orionmind/internal/providers"
	"github.com/nextlevelbuilder/orionmind/internal/rag"
	"github.com/nextlevelbuilder/orionmind/internal/store"
)

const systemPrompt = `You are Orion, a Persistent AI Companion System.

WHO YOU ARE:
- An AI that lives in the background, always aware and ready to help
- You remember ALL conversations permanently across sessions
- You can proactively reach out to the user when needed
- You have system access within a fully configurable permission sandbox
- Every capability you have is toggleable by the user

YOUR CAPABILITIES (when enabled by user permissions):
- Browse the web autonomously and extract information
- Read, write, and manage files on the user's system
- Execute terminal commands with user confirmation
- Control applications and system settings
- Access calendar and schedule events
- See through camera or screen capture (when enabled)
- Process voice input and respond with voice

YOUR PERSONALITY:
- Warm, helpful, and genuinely interested in the user's wellbeing
- Proactive but not pushy — you suggest, don't demand
- Honest about your capabilities and limitations
- You remember context from previous conversations naturally
- You follow up on past topics when relevant

BEHAVIOR GUIDELINES:
- Never claim capabilities you don't have or aren't permitted
- Always respect the permission sandbox — it keeps both you and the user safe
- If you need to perform a restricted action, ask for confirmation first
- Reference past conversations naturally: "Last time we discussed..."
- Be concise but thorough — don't waste tokens on filler
- When uncertain, ask clarifying questions rather than guessing

You are not a chatbot. You are a persistent AI companion that the user doesn't need to "go to" — you come to them when needed, and you're always there when they reach out.`

const (
	historyLimit     = 20
	relevantTopK     = 3
	relevantMinScore = 0.5
	relevantMaxChars = 200
	defaultMaxTokens = 4000
	charsPerToken    = 4
)

// SystemPrompt returns the fixed persona prompt.
func SystemPrompt() string {
	return systemPrompt
}

// Assembler builds bounded message lists for Provider Engine calls,
// composing the RAG Pipeline (C7) and Memory Facade (C6). A subsystem
// failure degrades gracefully: the affected block is omitted and the turn
// proceeds.
type Assembler struct {
	mem    *memory.Facade
	rag    *rag.Pipeline
	logger *slog.Logger
}

func New(mem *memory.Facade, pipeline *rag.Pipeline, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{mem: mem, rag: pipeline, logger: logger}
}

// Build assembles the message list for a turn: persona system message,
// optional RAG context, optional relevant-past-conversation context, the
// last 20 chat messages ascending, then the current user turn.
func (a *Assembler) Build(ctx context.Context, userID, prompt, taskType string) []providers.Message {
	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: systemPrompt},
	}

	if a.rag != nil {
		ragContext, err := a.rag.BuildContext(ctx, prompt, userID)
		if err != nil {
			a.logger.Warn("context: failed to fetch rag context", "error", err)
		} else if ragContext != "" {
			messages = append(messages, providers.Message{
				Role: providers.RoleSystem,
				Content: fmt.Sprintf(
					"RELEVANT CONTEXT FROM KNOWLEDGE BASE:\n%s\n\nUse this context to inform your response if relevant.",
					ragContext,
				),
			})
			a.logger.Debug("context: injected rag context", "chars", len(ragContext))
		}
	}

	if a.mem != nil {
		relevant, err := a.mem.GetRelevantContext(ctx, userID, prompt, relevantTopK)
		if err != nil {
			a.logger.Warn("context: failed to fetch relevant context", "error", err)
		} else if lines := relevantLines(relevant); len(lines) > 0 {
			messages = append(messages, providers.Message{
				Role: providers.RoleSystem,
				Content: fmt.Sprintf(
					"RELEVANT PAST CONVERSATION:\n%s\n\nReference this if relevant to the current query.",
					strings.Join(lines, "\n"),
				),
			})
			a.logger.Debug("context: injected relevant context", "items", len(lines))
		}
	}

	if a.mem != nil {
		history, err := a.mem.GetHistory(ctx, userID, historyLimit)
		if err != nil {
			a.logger.Warn("context: failed to fetch history", "error", err)
		} else {
			for _, msg := range history {
				if (msg.Role == store.RoleUser || msg.Role == store.RoleAssistant) && msg.Content != "" {
					messages = append(messages, providers.Message{
						Role:    providers.Role(msg.Role),
						Content: msg.Content,
					})
				}
			}
			a.logger.Debug("context: injected history", "messages", len(history))
		}
	}

	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: prompt})

	a.logger.Info("built context", "user_id", userID, "messages", len(messages), "task_type", taskType)
	return messages
}

// BuildBounded is Build followed by Truncate at defaultMaxTokens.
func (a *Assembler) BuildBounded(ctx context.Context, userID, prompt, taskType string) []providers.Message {
	return Truncate(a.Build(ctx, userID, prompt, taskType), defaultMaxTokens)
}

func relevantLines(relevant []memory.Message) []string {
	lines := make([]string, 0, len(relevant))
	for _, r := range relevant {
		if r.Content == "" || r.Score <= relevantMinScore {
			continue
		}
		content := r.Content
		if len(content) > relevantMaxChars {
			content = content[:relevantMaxChars]
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", r.Role, content))
	}
	return lines
}

// Truncate fits messages within maxTokens using a chars/4 ≈ tokens
// heuristic. System messages always stay in front; conversation messages
// are kept starting from the most recent until the remaining budget is
// exhausted. If system messages alone exceed the budget, only the first
// system message survives.
func Truncate(messages []providers.Message, maxTokens int) []providers.Message {
	if len(messages) == 0 {
		return messages
	}

	maxChars := maxTokens * charsPerToken

	var systemMessages, conversation []providers.Message
	for _, m := range messages {
		if m.Role == providers.RoleSystem {
			systemMessages = append(systemMessages, m)
		} else {
			conversation = append(conversation, m)
		}
	}

	systemChars := 0
	for _, m := range systemMessages {
		systemChars += len(m.Content)
	}
	remaining := maxChars - systemChars
	if remaining <= 0 {
		if len(systemMessages) > 0 {
			return systemMessages[:1]
		}
		return nil
	}

	var kept []providers.Message
	total := 0
	for i := len(conversation) - 1; i >= 0; i-- {
		chars := len(conversation[i].Content)
		if total+chars > remaining {
			break
		}
		kept = append([]providers.Message{conversation[i]}, kept...)
		total += chars
	}

	return append(append([]providers.Message{}, systemMessages...), kept...)
}
