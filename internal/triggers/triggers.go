// Package triggers implements the Trigger Engine (C13): proactive-outreach
// conditions loaded from a YAML file, evaluated against a daemon-cycle
// snapshot. Grounded on original_source/background/triggers.py, with its
// five condition-specific evaluators (time_based/schedule/pattern all do
// hand-rolled hour/minute/weekday comparisons) collapsed into one
// cron-expression evaluator backed by adhocore/gronx — the teacher's own
// dependency earmarked for exactly this purpose.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/orionmind/internal/store"
)

// Type is a trigger's evaluation strategy.
type Type string

const (
	// TypeSchedule fires when Schedule (a cron expression) is due and at
	// least Cooldown has passed since the trigger last fired. Covers the
	// original time_based, schedule, and pattern condition types, all of
	// which reduce to "is now a cron-matching instant".
	TypeSchedule Type = "schedule"
	// TypeInactivity fires when Cooldown has elapsed since the last user
	// message, and at least Cooldown has elapsed since this trigger's own
	// last fire (the same duration serves both roles, matching the
	// original's dual use of condition.hours).
	TypeInactivity Type = "inactivity"
	// TypeKeyword fires when any recent message contains one of Pattern's
	// comma-separated keywords. Never cooldown-gated.
	TypeKeyword Type = "keyword"
)

const defaultCooldown = 4 * time.Hour

// Definition is one trigger's YAML-persisted configuration.
type Definition struct {
	Name      string     `yaml:"id"`
	Type      Type       `yaml:"type"`
	Schedule  string     `yaml:"schedule,omitempty"`
	Pattern   string     `yaml:"pattern,omitempty"`
	Message   string     `yaml:"message_template"`
	Cooldown  string     `yaml:"cooldown"`
	Enabled   bool       `yaml:"enabled"`
	LastFired *time.Time `yaml:"last_fired,omitempty"`
}

func (d Definition) cooldownDuration() time.Duration {
	if d.Cooldown == "" {
		return defaultCooldown
	}
	dur, err := time.ParseDuration(d.Cooldown)
	if err != nil {
		return defaultCooldown
	}
	return dur
}

func (d Definition) keywords() []string {
	var out []string
	for _, k := range strings.Split(d.Pattern, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Snapshot is the daemon-cycle context a trigger is evaluated against.
type Snapshot struct {
	CurrentTime     time.Time
	LastMessageTime *time.Time
	RecentMessages  []string
}

type fileFormat struct {
	Triggers []Definition `yaml:"triggers"`
}

func defaultDefinitions() []Definition {
	return []Definition{
		{
			Name:     "morning_checkin",
			Type:     TypeSchedule,
			Schedule: "0 8 * * 1-5",
			Message:  "Good morning! It's {time}. How can I help you today?",
			Cooldown: "23h",
			Enabled:  true,
		},
		{
			Name:     "inactivity_reminder",
			Type:     TypeInactivity,
			Message:  "It's been {hours} hours since we last talked. Anything on your mind?",
			Cooldown: "4h",
			Enabled:  true,
		},
		{
			Name:     "end_of_day_summary",
			Type:     TypeSchedule,
			Schedule: "0 18 * * 1-5",
			Message:  "End of day check: {date}. Any tasks to wrap up before tomorrow?",
			Cooldown: "23h",
			Enabled:  true,
		},
	}
}

// Engine loads, evaluates, and persists trigger Definitions.
type Engine struct {
	mu       sync.Mutex
	logger   *slog.Logger
	gron     gronx.Gronx
	path     string
	triggers []Definition
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, gron: gronx.New()}
}

// Load reads Definitions from path, writing a default set if the file does
// not exist.
func (e *Engine) Load(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		e.logger.Info("creating default triggers file", "path", path)
		e.triggers = defaultDefinitions()
		return e.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("load triggers: parse %s: %w", path, err)
	}
	e.triggers = parsed.Triggers
	e.logger.Info("loaded triggers", "count", len(e.triggers), "path", path)
	return nil
}

// List returns a snapshot of all currently loaded Definitions.
func (e *Engine) List() []Definition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Definition, len(e.triggers))
	copy(out, e.triggers)
	return out
}

// Add appends a new Definition, rejecting a duplicate name, an unknown
// Type, or an invalid cron Schedule.
func (e *Engine) Add(def Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if def.Name == "" {
		return fmt.Errorf("add trigger: name is required")
	}
	for _, t := range e.triggers {
		if t.Name == def.Name {
			return fmt.Errorf("add trigger: %q already exists", def.Name)
		}
	}
	switch def.Type {
	case TypeSchedule:
		if !e.gron.IsValid(def.Schedule) {
			return fmt.Errorf("add trigger: invalid cron schedule %q", def.Schedule)
		}
	case TypeInactivity, TypeKeyword:
	default:
		return fmt.Errorf("add trigger: unknown type %q", def.Type)
	}
	if def.Cooldown != "" {
		if _, err := time.ParseDuration(def.Cooldown); err != nil {
			return fmt.Errorf("add trigger: invalid cooldown %q: %w", def.Cooldown, err)
		}
	}

	e.triggers = append(e.triggers, def)
	return nil
}

// Remove deletes the named Definition.
func (e *Engine) Remove(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.triggers {
		if t.Name == name {
			e.triggers = append(e.triggers[:i], e.triggers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove trigger: %q not found", name)
}

// Save persists the full trigger list to path.
func (e *Engine) Save(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = path
	return e.saveLocked()
}

func (e *Engine) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return fmt.Errorf("save triggers: %w", err)
	}
	out, err := yaml.Marshal(fileFormat{Triggers: e.triggers})
	if err != nil {
		return fmt.Errorf("save triggers: %w", err)
	}
	if err := os.WriteFile(e.path, out, 0o644); err != nil {
		return fmt.Errorf("save triggers: %w", err)
	}
	return nil
}

// evaluate reports whether def should fire given snap. A panic inside a
// single evaluation (e.g. a malformed Schedule slipping past Add) is
// recovered so one bad trigger never prevents others from evaluating.
func (e *Engine) evaluate(def Definition, snap Snapshot) (fired bool) {
	if !def.Enabled {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("trigger evaluation panicked", "trigger", def.Name, "error", r)
			fired = false
		}
	}()

	switch def.Type {
	case TypeSchedule:
		due, err := e.gron.IsDue(def.Schedule, snap.CurrentTime)
		if err != nil || !due {
			return false
		}
		cooldown := def.cooldownDuration()
		if def.LastFired != nil && snap.CurrentTime.Sub(*def.LastFired) < cooldown {
			return false
		}
		return true

	case TypeInactivity:
		if snap.LastMessageTime == nil {
			return false
		}
		threshold := def.cooldownDuration()
		if snap.CurrentTime.Sub(*snap.LastMessageTime) < threshold {
			return false
		}
		if def.LastFired != nil && snap.CurrentTime.Sub(*def.LastFired) < threshold {
			return false
		}
		return true

	case TypeKeyword:
		keywords := def.keywords()
		for _, msg := range snap.RecentMessages {
			lower := strings.ToLower(msg)
			for _, kw := range keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					return true
				}
			}
		}
		return false
	}
	return false
}

// GetFiredTriggers evaluates every enabled Definition against snap and
// returns those that fire.
func (e *Engine) GetFiredTriggers(snap Snapshot) []Definition {
	e.mu.Lock()
	triggers := make([]Definition, len(e.triggers))
	copy(triggers, e.triggers)
	e.mu.Unlock()

	var fired []Definition
	for _, t := range triggers {
		if e.evaluate(t, snap) {
			e.logger.Info("trigger fired", "trigger", t.Name, "type", t.Type)
			fired = append(fired, t)
		}
	}
	return fired
}

// BuildMessage substitutes {time}, {date}, {day}, and {hours} in def's
// message template.
func BuildMessage(def Definition, snap Snapshot) string {
	now := snap.CurrentTime
	if now.IsZero() {
		now = time.Now()
	}

	hours := int(def.cooldownDuration().Hours())
	if snap.LastMessageTime != nil {
		hours = int(now.Sub(*snap.LastMessageTime).Hours())
	}

	replacer := strings.NewReplacer(
		"{time}", now.Format("03:04 PM"),
		"{date}", now.Format("2006-01-02"),
		"{day}", now.Format("Monday"),
		"{hours}", fmt.Sprintf("%d", hours),
	)
	return replacer.Replace(def.Message)
}

// MarkFired stamps the named Definition's LastFired, persists the whole
// list back to disk, and appends a best-effort TriggerLog row.
func (e *Engine) MarkFired(ctx context.Context, name string, st store.Store, userID string) error {
	e.mu.Lock()
	now := time.Now()
	found := false
	for i := range e.triggers {
		if e.triggers[i].Name == name {
			e.triggers[i].LastFired = &now
			found = true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return fmt.Errorf("mark fired: %q not found", name)
	}
	def := e.triggers[indexOf(e.triggers, name)]
	saveErr := e.saveLocked()
	e.mu.Unlock()

	if saveErr != nil {
		return fmt.Errorf("mark fired: %w", saveErr)
	}

	if st != nil {
		user, err := st.GetOrCreateUser(ctx, userID)
		if err != nil {
			e.logger.Warn("trigger log: failed to resolve user", "error", err)
			return nil
		}
		if err := st.AppendTriggerLog(ctx, &store.TriggerLog{
			UserID:      user.ID,
			TriggerType: string(def.Type),
			Reason:      def.Name,
			Urgency:     "normal",
			ActedOn:     true,
		}); err != nil {
			e.logger.Warn("trigger log: append failed", "trigger", name, "error", err)
		}
	}
	return nil
}

func indexOf(defs []Definition, name string) int {
	for i, d := range defs {
		if d.Name == name {
			return i
		}
	}
	return -1
}
