// Package daemon implements the Daemon (C14): the single long-running
// process that owns every other component, handles inbound turns from the
// Messaging Channel, and runs the periodic proactive-outreach cycle.
// Grounded on the teacher's cancellable-context + done-channel start/stop
// idiom (internal/channel/telegram's Start/Stop) adapted into the
// snapshot -> triggers -> sandbox -> dispatch -> follow-ups cycle shape.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/auth"
	"github.com/nextlevelbuilder/orionmind/internal/bus"
	"github.com/nextlevelbuilder/orionmind/internal/channel"
	"github.com/nextlevelbuilder/orionmind/internal/channel/discord"
	"github.com/nextlevelbuilder/orionmind/internal/channel/telegram"
	"github.com/nextlevelbuilder/orionmind/internal/config"
	"github.com/nextlevelbuilder/orionmind/internal/contextassembler"
	"github.com/nextlevelbuilder/orionmind/internal/memory"
	"github.com/nextlevelbuilder/orionmind/internal/orchestrator"
	"github.com/nextlevelbuilder/orionmind/internal/policy"
	"github.com/nextlevelbuilder/orionmind/internal/providers"
	"github.com/nextlevelbuilder/orionmind/internal/rag"
	"github.com/nextlevelbuilder/orionmind/internal/sandbox"
	"github.com/nextlevelbuilder/orionmind/internal/store"
	"github.com/nextlevelbuilder/orionmind/internal/store/sqlstore"
	"github.com/nextlevelbuilder/orionmind/internal/threads"
	"github.com/nextlevelbuilder/orionmind/internal/triggers"
	"github.com/nextlevelbuilder/orionmind/internal/vectorstore"
)

// defaultTaskType is the Orchestrator task type an ordinary conversational
// turn routes on. A live chat message isn't one of RouteToAgent's agent
// categories (that axis picks a tool-calling persona, not an engine); it
// gets the same general-purpose routing as Summarize.
const defaultTaskType = "reasoning"

const followUpMessage = "Just checking in — still around, whenever you're ready."

// Health is a point-in-time status snapshot, per the health() operation.
type Health struct {
	Running       bool
	UptimeSeconds float64
	CycleCount    int64
	LastTrigger   string
	QuietHours    *policy.QuietHours
	ActiveThreads int
}

// Daemon wires every other component together and runs the companion
// process: channel turn-handling plus the periodic proactive cycle.
type Daemon struct {
	cfg    *config.Config
	policy *policy.Engine
	logger *slog.Logger

	store   store.Store
	vec     vectorstore.Store
	mem     *memory.Facade
	rag     *rag.Pipeline
	auth    *auth.Broker
	engines *providers.Registry
	orch    *orchestrator.Orchestrator
	ctxasm  *contextassembler.Assembler
	threads *threads.Manager
	trig    *triggers.Engine
	box     *sandbox.Sandbox
	chans   *channel.Registry

	interval time.Duration
	userID   string

	mu          sync.Mutex
	running     bool
	startedAt   time.Time
	cycleCount  int64
	lastTrigger string

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New builds a Daemon from cfg and an already-loaded policy Engine,
// constructing the Relational Store, Vector Store, Memory Facade, RAG
// Pipeline, Auth Broker, Provider Registry, Orchestrator, Context Assembler,
// Thread Manager, Trigger Engine, Permission Sandbox, and Messaging Channel
// Registry.
func New(cfg *config.Config, pol *policy.Engine, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	vec, err := vectorstore.New(cfg, logger.With("component", "vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	mem := memory.New(st, vec, logger.With("component", "memory"))
	pipeline := rag.New(vec, logger.With("component", "rag"))

	broker := auth.New(config.ExpandHome(cfg.Auth.Dir), cfg.Providers.Local.BaseURL, logger.With("component", "auth"))
	registry := providers.New(cfg, broker, logger.With("component", "providers"))
	orch := orchestrator.New(registry, logger.With("component", "orchestrator"))
	asm := contextassembler.New(mem, pipeline, logger.With("component", "contextassembler"))
	threadMgr := threads.New(st, logger.With("component", "threads"))

	trig := triggers.NewEngine(logger.With("component", "triggers"))
	if err := trig.Load(config.ExpandHome(cfg.Triggers.Path)); err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}

	box := sandbox.New(pol, logger.With("component", "sandbox"))

	chans := channel.NewRegistry()
	if cfg.Channels.Telegram.Enabled {
		t, err := telegram.New(telegram.Config{
			Token:             cfg.Channels.Telegram.Token,
			Webhook:           cfg.Channels.Telegram.WebhookURL,
			STTProxyURL:       cfg.Channels.Telegram.STTProxyURL,
			STTAPIKey:         cfg.Channels.Telegram.STTAPIKey,
			STTTenantID:       cfg.Channels.Telegram.STTTenantID,
			STTTimeoutSeconds: cfg.Channels.Telegram.STTTimeoutSeconds,
		}, logger.With("component", "channel.telegram"))
		if err != nil {
			return nil, fmt.Errorf("build telegram channel: %w", err)
		}
		chans.Register("telegram", t)
	}
	if cfg.Channels.Discord.Enabled {
		d, err := discord.New(discord.Config{Token: cfg.Channels.Discord.Token}, logger.With("component", "channel.discord"))
		if err != nil {
			return nil, fmt.Errorf("build discord channel: %w", err)
		}
		chans.Register("discord", d)
	}

	interval := time.Duration(cfg.Daemon.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	userID := cfg.Daemon.UserID
	if userID == "" {
		userID = config.DefaultUserID
	}

	return &Daemon{
		cfg:      cfg,
		policy:   pol,
		logger:   logger,
		store:    st,
		vec:      vec,
		mem:      mem,
		rag:      pipeline,
		auth:     broker,
		engines:  registry,
		orch:     orch,
		ctxasm:   asm,
		threads:  threadMgr,
		trig:     trig,
		box:      box,
		chans:    chans,
		interval: interval,
		userID:   userID,
	}, nil
}

// Run starts every registered channel's turn-handling and the proactive
// cycle loop, then blocks until ctx is cancelled, at which point it stops
// both and returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.chans.StartAll(ctx, d.handleInbound); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.running = true
	d.startedAt = time.Now()
	d.loopCancel = cancel
	d.loopDone = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.loop(loopCtx)
	}()

	<-ctx.Done()
	d.stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	d.chans.StopAll(stopCtx)

	return d.store.Close()
}

// stop cancels the proactive loop and waits for it to exit, with a timeout
// so a wedged cycle can never block process shutdown forever.
func (d *Daemon) stop() {
	d.mu.Lock()
	cancel := d.loopCancel
	done := d.loopDone
	d.running = false
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.logger.Warn("proactive loop did not stop within timeout")
	}
}

// Health returns a point-in-time status snapshot.
func (d *Daemon) Health() Health {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := Health{
		Running:     d.running,
		CycleCount:  d.cycleCount,
		LastTrigger: d.lastTrigger,
	}
	if d.running {
		h.UptimeSeconds = time.Since(d.startedAt).Seconds()
	}
	if sec, ok := d.policy.Get("proactive"); ok {
		h.QuietHours = sec.QuietHours
	}
	if pending, err := d.threads.GetPendingThreads(context.Background(), d.userID); err == nil {
		h.ActiveThreads = len(pending)
	}
	return h
}

// loop runs the periodic proactive cycle until ctx is cancelled.
func (d *Daemon) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycleSafely(ctx)
		}
	}
}

// runCycleSafely traps any panic inside a single cycle so the loop never
// dies from one bad iteration.
func (d *Daemon) runCycleSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("daemon cycle panicked", "error", r)
		}
	}()

	start := time.Now()
	fired, followUps := d.runCycle(ctx)

	d.mu.Lock()
	d.cycleCount++
	if fired != "" {
		d.lastTrigger = fired
	}
	d.mu.Unlock()

	d.logger.Info("daemon cycle complete",
		"duration", time.Since(start),
		"fired", fired,
		"follow_ups", followUps,
	)
}

// runCycle runs one iteration of the snapshot -> triggers -> sandbox ->
// dispatch -> follow-ups pipeline, per SPEC_FULL's daemon cycle. It returns
// the last trigger id fired (empty if none) and the follow-up count, for
// logging.
func (d *Daemon) runCycle(ctx context.Context) (lastFired string, followUpCount int) {
	snap, recent := d.buildSnapshot(ctx)

	if !d.inQuietHours(snap.CurrentTime) {
		for _, def := range d.trig.GetFiredTriggers(snap) {
			decision := d.box.Check(sandbox.ActionProactiveMessage, map[string]string{
				"trigger_id":   def.Name,
				"trigger_type": string(def.Type),
			})
			if !decision.Allowed {
				d.logger.Info("proactive trigger denied by sandbox", "trigger", def.Name, "reason", decision.Reason)
				continue
			}

			if _, err := d.threads.OpenThread(ctx, d.userID, "Trigger: "+def.Name); err != nil {
				d.logger.Error("open thread for trigger failed", "trigger", def.Name, "error", err)
				continue
			}

			message := triggers.BuildMessage(def, snap)
			if d.sendToAllChannels(ctx, message) {
				if err := d.trig.MarkFired(ctx, def.Name, d.store, d.userID); err != nil {
					d.logger.Error("mark trigger fired failed", "trigger", def.Name, "error", err)
				}
				lastFired = def.Name
			}
		}
	} else {
		d.logger.Info("quiet hours active, skipping trigger firing")
	}

	for _, th := range recent.pending {
		if th.State != store.ThreadWaiting {
			continue
		}
		follow, err := d.threads.ShouldFollowUp(ctx, th.ID)
		if err != nil {
			d.logger.Error("should follow up check failed", "thread", th.ID, "error", err)
			continue
		}
		if !follow {
			continue
		}
		if d.sendToAllChannels(ctx, followUpMessage) {
			followUpCount++
		}
	}

	return lastFired, followUpCount
}

type snapshotExtras struct {
	pending []store.Thread
}

// buildSnapshot assembles the context snapshot a daemon cycle evaluates
// triggers and follow-ups against.
func (d *Daemon) buildSnapshot(ctx context.Context) (triggers.Snapshot, snapshotExtras) {
	now := time.Now()
	snap := triggers.Snapshot{CurrentTime: now}

	if last, err := d.mem.GetHistory(ctx, d.userID, 1); err != nil {
		d.logger.Warn("snapshot: get last message failed", "error", err)
	} else if len(last) > 0 {
		ts := last[len(last)-1].Timestamp
		snap.LastMessageTime = &ts
	}

	if recent, err := d.mem.GetHistory(ctx, d.userID, 5); err != nil {
		d.logger.Warn("snapshot: get recent messages failed", "error", err)
	} else {
		for _, m := range recent {
			snap.RecentMessages = append(snap.RecentMessages, m.Content)
		}
	}

	var extras snapshotExtras
	pending, err := d.threads.GetPendingThreads(ctx, d.userID)
	if err != nil {
		d.logger.Warn("snapshot: get pending threads failed", "error", err)
	} else {
		extras.pending = pending
	}

	return snap, extras
}

// inQuietHours reports whether now falls inside the proactive section's
// configured quiet_hours window. If quiet_hours isn't set, the proactive
// section is disabled, or the times don't parse, outreach is never
// considered quiet.
func (d *Daemon) inQuietHours(now time.Time) bool {
	sec, ok := d.policy.Get("proactive")
	if !ok || !sec.Enabled || sec.QuietHours == nil {
		return false
	}
	start, ok1 := parseHHMM(sec.QuietHours.Start)
	end, ok2 := parseHHMM(sec.QuietHours.End)
	if !ok1 || !ok2 {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// parseHHMM parses an "HH:MM" string into minutes since midnight.
func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// sendToAllChannels delivers text to recipient d.userID on every registered
// channel, returning true if at least one transport accepted it.
func (d *Daemon) sendToAllChannels(ctx context.Context, text string) bool {
	sent := false
	for _, name := range d.chans.Names() {
		t, ok := d.chans.Get(name)
		if !ok {
			continue
		}
		if err := t.Send(ctx, d.userID, text); err != nil {
			d.logger.Error("proactive send failed", "channel", name, "error", err)
			continue
		}
		sent = true
	}
	return sent
}

// handleInbound is the MessageHandler passed to every channel's Start: it
// runs a single conversational turn (Memory.save -> ContextAssembler.build
// -> Orchestrator.route -> Engine.generate -> Memory.save) and replies on
// the originating channel.
func (d *Daemon) handleInbound(msg bus.InboundMessage) {
	ctx := context.Background()

	if _, err := d.mem.SaveMessage(ctx, msg.UserID, store.RoleUser, msg.Content, nil); err != nil {
		d.logger.Error("save inbound message failed", "error", err)
	}

	reply := d.generateReply(ctx, msg.UserID, msg.Content)

	if _, err := d.mem.SaveMessage(ctx, msg.UserID, store.RoleAssistant, reply, nil); err != nil {
		d.logger.Error("save reply failed", "error", err)
	}

	t, ok := d.chans.Get(msg.Channel)
	if !ok {
		d.logger.Error("reply: unknown channel", "channel", msg.Channel)
		return
	}
	recipient := msg.ChatID
	if recipient == "" {
		recipient = msg.UserID
	}
	if err := t.Send(ctx, recipient, reply); err != nil {
		d.logger.Error("send reply failed", "channel", msg.Channel, "error", err)
	}
}

// generateReply assembles bounded context and routes it to an available
// Provider Engine, turning a routing failure into the same uniform
// "[Error] ..." surface the engines themselves use for transport failures.
func (d *Daemon) generateReply(ctx context.Context, userID, prompt string) string {
	messages := d.ctxasm.BuildBounded(ctx, userID, prompt, defaultTaskType)

	engine, err := d.orch.Route(ctx, defaultTaskType)
	if err != nil {
		d.logger.Error("route turn failed", "error", err)
		return fmt.Sprintf("[Error] %v", err)
	}

	history, current := splitCurrentTurn(messages, prompt)
	return engine.Generate(ctx, current, history)
}

// splitCurrentTurn separates the assembled message list into history (every
// message but the trailing current-turn user message) and the current
// prompt, since Engine.Generate takes them as separate arguments.
func splitCurrentTurn(messages []providers.Message, fallbackPrompt string) ([]providers.Message, string) {
	if len(messages) == 0 {
		return nil, fallbackPrompt
	}
	last := messages[len(messages)-1]
	if last.Role == providers.RoleUser {
		return messages[:len(messages)-1], last.Content
	}
	return messages, fallbackPrompt
}
