// Package policy implements the Permission Policy (C2): a declarative YAML
// document describing what the companion is allowed to do, with schema
// validation and hot reload.
package policy

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// requiredSections lists every top-level section that must be present.
var requiredSections = []string{
	"browsing", "search", "file_system", "terminal", "app_control",
	"input_control", "calendar", "system_info", "camera", "voice", "proactive",
}

// requiredFieldsPerSection lists the fields each section must declare at minimum.
var requiredFieldsPerSection = map[string][]string{
	"browsing":      {"enabled"},
	"search":        {"enabled", "engine"},
	"file_system":   {"enabled", "read", "write", "delete"},
	"terminal":      {"enabled"},
	"app_control":   {"enabled"},
	"input_control": {"enabled"},
	"calendar":      {"enabled", "read", "write"},
	"system_info":   {"enabled"},
	"camera":        {"enabled", "mode"},
	"voice":         {"enabled", "tts_engine", "stt_engine"},
	"proactive":     {"enabled", "max_messages_per_hour"},
}

// Section is one top-level policy section. Fields beyond the common ones are
// stored in Extra so section-specific fields (read/write/engine/...) survive
// a decode without a dozen near-identical structs.
type Section struct {
	Enabled        bool                   `yaml:"enabled"`
	RequireConfirm bool                   `yaml:"require_confirm,omitempty"`
	AllowedPaths   []string               `yaml:"allowed_paths,omitempty"`
	BlockedPaths   []string               `yaml:"blocked_paths,omitempty"`
	BlockedCommands []string              `yaml:"blocked_commands,omitempty"`
	AllowedApps    []string               `yaml:"allowed_apps,omitempty"`
	AllowedDomains []string               `yaml:"allowed_domains,omitempty"`
	BlockedDomains []string               `yaml:"blocked_domains,omitempty"`
	QuietHours     *QuietHours            `yaml:"quiet_hours,omitempty"`
	Extra          map[string]interface{} `yaml:",inline"`
}

// QuietHours is an HH:MM interval during which proactive outreach is denied.
type QuietHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Document is the full parsed permissions.yaml.
type Document struct {
	Browsing      Section `yaml:"browsing"`
	Search        Section `yaml:"search"`
	FileSystem    Section `yaml:"file_system"`
	Terminal      Section `yaml:"terminal"`
	AppControl    Section `yaml:"app_control"`
	InputControl  Section `yaml:"input_control"`
	Calendar      Section `yaml:"calendar"`
	SystemInfo    Section `yaml:"system_info"`
	Camera        Section `yaml:"camera"`
	Voice         Section `yaml:"voice"`
	Proactive     Section `yaml:"proactive"`
}

// sectionByName indexes a Document's sections by their YAML key, so
// validation and Get() can share one table instead of a type switch.
func (d *Document) sectionByName(name string) *Section {
	switch name {
	case "browsing":
		return &d.Browsing
	case "search":
		return &d.Search
	case "file_system":
		return &d.FileSystem
	case "terminal":
		return &d.Terminal
	case "app_control":
		return &d.AppControl
	case "input_control":
		return &d.InputControl
	case "calendar":
		return &d.Calendar
	case "system_info":
		return &d.SystemInfo
	case "camera":
		return &d.Camera
	case "voice":
		return &d.Voice
	case "proactive":
		return &d.Proactive
	default:
		return nil
	}
}

// rawDocument decodes into a generic map first so validation can report
// every missing section/field in one error, the way the Python loader does.
type rawDocument map[string]map[string]interface{}

// Engine loads, validates, caches, and hot-reloads the permission policy.
// Thread-safe: reload() swaps the cached snapshot atomically under a
// sync.RWMutex, so concurrent readers always see a complete document.
type Engine struct {
	mu     sync.RWMutex
	doc    *Document
	path   string
	logger *slog.Logger
}

// NewEngine creates a policy engine. Call Load before using it.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Load parses, validates, and caches the policy document at path.
func (e *Engine) Load(path string) error {
	doc, raw, err := loadAndValidate(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.doc = doc
	e.path = path
	e.mu.Unlock()
	e.logger.Info("permission policy loaded", "path", path, "sections", len(raw))
	return nil
}

// Reload re-reads and re-validates the previously loaded path. If validation
// fails, the previous snapshot is retained and the error is returned.
func (e *Engine) Reload() error {
	e.mu.RLock()
	path := e.path
	e.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("policy: reload called before load")
	}

	doc, _, err := loadAndValidate(path)
	if err != nil {
		e.logger.Warn("permission policy reload failed, keeping previous snapshot", "path", path, "error", err)
		return err
	}

	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()
	e.logger.Info("permission policy reloaded", "path", path)
	return nil
}

// Get returns a defensive copy of the named section.
func (e *Engine) Get(name string) (Section, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.doc == nil {
		return Section{}, false
	}
	s := e.doc.sectionByName(name)
	if s == nil {
		return Section{}, false
	}
	return copySection(*s), true
}

// Snapshot returns the full current document, suitable for passing to the
// Sandbox's check() as the `policy_snapshot` half of its purity contract.
func (e *Engine) Snapshot() *Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.doc == nil {
		return nil
	}
	d := *e.doc
	return &d
}

func copySection(s Section) Section {
	cp := s
	cp.AllowedPaths = append([]string(nil), s.AllowedPaths...)
	cp.BlockedPaths = append([]string(nil), s.BlockedPaths...)
	cp.BlockedCommands = append([]string(nil), s.BlockedCommands...)
	cp.AllowedApps = append([]string(nil), s.AllowedApps...)
	cp.AllowedDomains = append([]string(nil), s.AllowedDomains...)
	cp.BlockedDomains = append([]string(nil), s.BlockedDomains...)
	return cp
}

func loadAndValidate(path string) (*Document, rawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: config file not found: %w", err)
	}

	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("policy: invalid yaml: %w", err)
	}

	if err := validate(raw); err != nil {
		return nil, nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("policy: decode: %w", err)
	}

	// `~` expansion on path lists, matching the spec's file_system/section contract.
	expandHomeList(doc.FileSystem.AllowedPaths)
	expandHomeList(doc.FileSystem.BlockedPaths)

	return &doc, raw, nil
}

// validate reports every missing section and field in a single error, the
// way PermissionConfigLoader._validate does.
func validate(raw rawDocument) error {
	var missingSections []string
	var missingFields []string

	for _, section := range requiredSections {
		fields, ok := raw[section]
		if !ok {
			missingSections = append(missingSections, section)
			continue
		}
		for _, field := range requiredFieldsPerSection[section] {
			if _, ok := fields[field]; !ok {
				missingFields = append(missingFields, section+"."+field)
			}
		}
	}

	if len(missingSections) == 0 && len(missingFields) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("policy: invalid permissions document:")
	if len(missingSections) > 0 {
		b.WriteString(" missing sections: " + strings.Join(missingSections, ", ") + ";")
	}
	if len(missingFields) > 0 {
		b.WriteString(" missing fields: " + strings.Join(missingFields, ", "))
	}
	return fmt.Errorf("%s", b.String())
}

func expandHomeList(paths []string) {
	for i, p := range paths {
		if strings.HasPrefix(p, "~") {
			home, _ := os.UserHomeDir()
			paths[i] = home + strings.TrimPrefix(p, "~")
		}
	}
}
