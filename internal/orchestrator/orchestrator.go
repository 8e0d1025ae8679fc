// Package orchestrator implements the Orchestrator (C10): task-type-based
// provider routing and agent-category keyword routing, grounded bit-exact
// on original_source/core/orchestrator.py's _PRIORITY_MAP/_AGENT_KEYWORDS
// and lazy-cached engine construction.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/orionmind/internal/providers"
)

// priorityLists mirrors _PRIORITY_MAP: for each task type, the provider
// names to try in order. Unlisted task types fall back to "reasoning".
var priorityLists = map[string][]string{
	"reasoning":  {"anthropic", "openai", "gemini", "openrouter", "groq", "local"},
	"code":       {"openai", "anthropic", "groq", "openrouter", "local"},
	"fast":       {"groq", "gemini", "local", "anthropic"},
	"multimodal": {"gemini", "openai", "anthropic"},
	"vision":     {"gemini", "openai", "anthropic"},
	"local":      {"local"},
	"voice":      {"openai", "anthropic", "gemini", "local"},
	"browser":    {"openai", "anthropic", "openrouter", "local"},
	"agent":      {"anthropic", "openai", "gemini", "local"},
}

// agentKeywords mirrors _AGENT_KEYWORDS: keyword lists scored against a
// task description to pick an agent category for route_to_agent.
var agentKeywords = map[string][]string{
	"research":  {"research", "find information", "look up", "search for", "investigate"},
	"browsing":  {"browse", "navigate to", "visit website", "open url", "go to"},
	"file":      {"create file", "edit file", "delete file", "read file", "write file"},
	"calendar":  {"schedule", "meeting", "appointment", "calendar", "event"},
	"system":    {"run command", "execute", "terminal", "open app", "launch"},
	"code":      {"write code", "implement", "debug", "refactor", "fix bug"},
	"analysis":  {"analyze", "compare", "evaluate", "assess", "review"},
}

var aliases = map[string]string{
	"claude": "anthropic",
	"ollama": "local",
}

func normalizeEngineName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := aliases[n]; ok {
		return canon
	}
	return n
}

// Orchestrator routes tasks to the best available Provider Engine and
// routes free-text task descriptions to an agent category. Availability is
// probed once per engine and cached until Refresh is called, mirroring
// the teacher's module-level _ENGINE_INSTANCES cache.
type Orchestrator struct {
	registry *providers.Registry
	logger   *slog.Logger

	mu        sync.Mutex
	available map[string]bool
	probed    bool
}

func New(registry *providers.Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{registry: registry, logger: logger}
}

// availableEngines probes every registered engine's IsAvailable once and
// caches the result; subsequent calls reuse the cache within the process.
func (o *Orchestrator) availableEngines(ctx context.Context) map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.probed {
		return o.available
	}

	available := make(map[string]bool)
	for _, name := range o.registry.Names() {
		engine, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		available[name] = engine.IsAvailable(ctx)
	}
	o.probed = true
	o.available = available

	var names []string
	for name, ok := range available {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	o.logger.Info("available engines", "engines", names)
	return available
}

// Refresh clears the availability cache so the next Route call re-probes
// every engine.
func (o *Orchestrator) Refresh() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probed = false
	o.available = nil
}

// Route walks taskType's priority list (falling back to "reasoning" for an
// unknown task type) and returns the first available engine. "local" always
// tries the local engine directly first, matching the teacher's
// task_type == "local" fast path. If nothing in the priority list is
// available, every registered engine is walked once more before giving up.
func (o *Orchestrator) Route(ctx context.Context, taskType string) (providers.Engine, error) {
	normalized := strings.ToLower(strings.TrimSpace(taskType))

	if normalized == "local" {
		if engine, ok := o.registry.Get("local"); ok {
			return engine, nil
		}
	}

	available := o.availableEngines(ctx)
	priorities, ok := priorityLists[normalized]
	if !ok {
		priorities = priorityLists["reasoning"]
	}

	for _, name := range priorities {
		canonical := normalizeEngineName(name)
		if available[canonical] {
			engine, _ := o.registry.Get(canonical)
			o.logger.Info("routed task", "task_type", taskType, "engine", canonical)
			return engine, nil
		}
	}

	for _, name := range o.registry.Names() {
		if available[name] {
			engine, _ := o.registry.Get(name)
			o.logger.Info("routed task via fallback roster", "task_type", taskType, "engine", name)
			return engine, nil
		}
	}

	return nil, fmt.Errorf("no LLM engines are available for task type %q: %s", taskType, diagnostic(available))
}

func diagnostic(available map[string]bool) string {
	var missing []string
	for name, ok := range available {
		if !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		return "no providers configured"
	}
	return "missing credentials/providers: " + strings.Join(missing, ", ")
}

const summarizePromptPrefix = "Summarize the following conversation in 2-3 concise sentences, preserving names, decisions, and open threads:\n\n"

// Summarize routes a "reasoning" task to produce a short transcript
// summary. This satisfies internal/memory.Summarizer, letting the Memory
// Facade's compression pass call back into the Orchestrator without Memory
// importing this package.
func (o *Orchestrator) Summarize(ctx context.Context, transcript string) (string, error) {
	engine, err := o.Route(ctx, "reasoning")
	if err != nil {
		return "", err
	}
	result := engine.Generate(ctx, summarizePromptPrefix+transcript, nil)
	if strings.HasPrefix(result, "[Error]") {
		return "", fmt.Errorf("summarize: %s", result)
	}
	return result, nil
}

// RouteToAgent scores task's text against agentKeywords and returns the
// highest-scoring agent category, or "general" if nothing matches.
func RouteToAgent(task string) string {
	lower := strings.ToLower(task)

	var categories []string
	for category := range agentKeywords {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	best := "general"
	bestScore := 0
	for _, category := range categories {
		score := 0
		for _, keyword := range agentKeywords[category] {
			if strings.Contains(lower, keyword) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = category
		}
	}
	return best
}
