// Package sandbox implements the Permission Sandbox (C3): a decision point
// gating every tagged action against the Permission Policy, with an
// out-of-band confirmation round-trip when a section requires it.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/policy"
)

// Action is a typed, tagged system action the sandbox can rule on.
type Action string

const (
	ActionFileRead        Action = "file.read"
	ActionFileWrite       Action = "file.write"
	ActionFileDelete      Action = "file.delete"
	ActionTerminalRun     Action = "terminal.run"
	ActionAppOpen         Action = "app.open"
	ActionInputControl    Action = "input.control"
	ActionCalendarRead    Action = "calendar.read"
	ActionCalendarWrite   Action = "calendar.write"
	ActionBrowserNavigate Action = "browser.navigate"
	ActionBrowserSearch   Action = "browser.search"
	ActionSystemInfo      Action = "system.info"
	ActionProactiveMessage Action = "proactive.message"
)

// actionSection maps each action to exactly one policy section.
var actionSection = map[Action]string{
	ActionFileRead:         "file_system",
	ActionFileWrite:        "file_system",
	ActionFileDelete:       "file_system",
	ActionTerminalRun:      "terminal",
	ActionAppOpen:          "app_control",
	ActionInputControl:     "input_control",
	ActionCalendarRead:     "calendar",
	ActionCalendarWrite:    "calendar",
	ActionBrowserNavigate:  "browsing",
	ActionBrowserSearch:    "search",
	ActionSystemInfo:       "system_info",
	ActionProactiveMessage: "proactive",
}

// Decision is the outcome of a single check() call.
type Decision struct {
	Allowed        bool
	RequiresConfirm bool
	Reason         string
	Action         Action
}

// Confirmer is the narrow slice of the Messaging Channel (C15) the sandbox
// needs to run an out-of-band confirmation round-trip.
type Confirmer interface {
	SendAndAwaitReply(ctx context.Context, recipient, text string, timeout time.Duration) (*string, error)
}

// Sandbox decides allow/deny/confirm for tagged actions.
type Sandbox struct {
	policy *policy.Engine
	logger *slog.Logger
}

// New creates a Sandbox backed by the given policy engine.
func New(p *policy.Engine, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{policy: p, logger: logger}
}

// Check rules on a single action. It never panics: any internal failure is
// logged and treated as a denial (fail-closed), per SPEC_FULL §4.2.
func (s *Sandbox) Check(action Action, details map[string]string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{Action: action, Allowed: false, Reason: fmt.Sprintf("internal error: %v", r)}
		}
		s.logger.Info("sandbox decision",
			"action", action, "details", details,
			"allowed", d.Allowed, "requires_confirm", d.RequiresConfirm, "reason", d.Reason,
		)
	}()

	section, known := actionSection[action]
	if !known {
		return Decision{Action: action, Allowed: false, Reason: "unknown action"}
	}

	sec, ok := s.policy.Get(section)
	if !ok {
		return Decision{Action: action, Allowed: false, Reason: "policy section not loaded"}
	}
	if !sec.Enabled {
		return Decision{Action: action, Allowed: false, Reason: "section disabled"}
	}

	if reason, ok := checkFineGrain(action, details, sec); !ok {
		return Decision{Action: action, Allowed: false, Reason: reason}
	}

	return Decision{Action: action, Allowed: true, RequiresConfirm: sec.RequireConfirm}
}

// checkFineGrain applies the per-action fine-grained rules of SPEC_FULL §4.2.
func checkFineGrain(action Action, details map[string]string, sec policy.Section) (reason string, ok bool) {
	boolField := func(key string) bool {
		v, present := sec.Extra[key]
		if !present {
			return false
		}
		b, _ := v.(bool)
		return b
	}

	switch action {
	case ActionFileRead:
		if !boolField("read") {
			return "file_system.read disabled", false
		}
		return checkPath(details["path"], sec)
	case ActionFileWrite:
		if !boolField("write") {
			return "file_system.write disabled", false
		}
		return checkPath(details["path"], sec)
	case ActionFileDelete:
		if !boolField("delete") {
			return "file_system.delete disabled", false
		}
		return checkPath(details["path"], sec)
	case ActionTerminalRun:
		cmd := details["command"]
		for _, blocked := range sec.BlockedCommands {
			if blocked != "" && strings.Contains(cmd, blocked) {
				return fmt.Sprintf("command matches blocked_commands entry %q", blocked), false
			}
		}
		return "", true
	case ActionAppOpen:
		app := strings.ToLower(details["app"])
		if len(sec.AllowedApps) > 0 && !containsFold(sec.AllowedApps, app) {
			return "app not in allowed_apps", false
		}
		return "", true
	case ActionCalendarRead:
		if !boolField("read") {
			return "calendar.read disabled", false
		}
		return "", true
	case ActionCalendarWrite:
		if !boolField("write") {
			return "calendar.write disabled", false
		}
		return "", true
	case ActionBrowserNavigate:
		url := details["url"]
		for _, blocked := range sec.BlockedDomains {
			if blocked != "" && strings.Contains(url, blocked) {
				return fmt.Sprintf("url matches blocked_domains entry %q", blocked), false
			}
		}
		if len(sec.AllowedDomains) > 0 && !containsSubstring(sec.AllowedDomains, url) {
			return "url does not match allowed_domains", false
		}
		return "", true
	default:
		return "", true
	}
}

func checkPath(path string, sec policy.Section) (string, bool) {
	if path == "" {
		return "", true
	}
	expanded := expandHome(path)
	for _, blocked := range sec.BlockedPaths {
		if blocked != "" && strings.HasPrefix(expanded, expandHome(blocked)) {
			return fmt.Sprintf("path matches blocked_paths prefix %q", blocked), false
		}
	}
	if len(sec.AllowedPaths) > 0 {
		for _, allowed := range sec.AllowedPaths {
			if strings.HasPrefix(expanded, expandHome(allowed)) {
				return "", true
			}
		}
		return "path does not match allowed_paths", false
	}
	return "", true
}

func containsFold(list []string, needle string) bool {
	for _, v := range list {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func containsSubstring(list []string, haystack string) bool {
	for _, v := range list {
		if v != "" && strings.Contains(haystack, v) {
			return true
		}
	}
	return false
}

// RequestConfirm renders a human-readable confirmation prompt, sends it via
// the Messaging Channel, and blocks on a bounded-wait yes/no reply.
// Transport failure, a timeout, or any reply other than case-insensitive
// "yes" is treated as denial (fail-closed), per P5.
func (s *Sandbox) RequestConfirm(ctx context.Context, confirmer Confirmer, recipient string, action Action, details map[string]string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	message := renderConfirmPrompt(action, details)

	reply, err := confirmer.SendAndAwaitReply(ctx, recipient, message, timeout)
	allowed := err == nil && reply != nil && strings.EqualFold(strings.TrimSpace(*reply), "yes")

	s.logger.Info("sandbox confirm",
		"action", action, "details", details, "allowed", allowed, "error", err,
	)
	return allowed
}

func renderConfirmPrompt(action Action, details map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirm action %q?", action)
	for k, v := range details {
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	b.WriteString(" Reply yes or no.")
	return b.String()
}
