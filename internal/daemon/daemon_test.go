package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/orionmind/internal/bus"
	"github.com/nextlevelbuilder/orionmind/internal/channel"
	"github.com/nextlevelbuilder/orionmind/internal/channel/fake"
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

// stubEngine is a Provider Engine double that always returns a fixed
// response, letting tests assert on the reply a turn produces without a
// live LLM.
type stubEngine struct {
	response string
}

func (s *stubEngine) Name() string { return "stub" }
func (s *stubEngine) FormatMessages(prompt string, history []providers.Message) []providers.Message {
	return append(append([]providers.Message{}, history...), providers.Message{Role: providers.RoleUser, Content: prompt})
}
func (s *stubEngine) Generate(ctx context.Context, prompt string, history []providers.Message) string {
	return s.response
}
func (s *stubEngine) Stream(ctx context.Context, prompt string, history []providers.Message, onChunk func(string)) {
	onChunk(s.response)
}
func (s *stubEngine) IsAvailable(ctx context.Context) bool { return true }

// fakeVectorStore is an in-memory vectorstore.Store double, mirroring the
// one in internal/contextassembler's tests.
type fakeVectorStore struct {
	entries map[string]vectorstore.Entry
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{entries: map[string]vectorstore.Entry{}}
}

func (f *fakeVectorStore) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (f *fakeVectorStore) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["text"] = text
	f.entries[id] = vectorstore.Entry{ID: id, Score: 0.9, Metadata: meta}
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, vec []float32, topK int, filter map[string]any) ([]vectorstore.Entry, error) {
	var out []vectorstore.Entry
	for _, e := range f.entries {
		match := true
		for k, v := range filter {
			if e.Metadata[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeVectorStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return vectorstore.Stats{Backend: "fake", TotalVectors: len(f.entries)}, nil
}
func (f *fakeVectorStore) Close() error { return nil }

func policyYAMLWithQuietHours(start, end string) string {
	if start == "" {
		return sprintfPolicy("")
	}
	return sprintfPolicy(", quiet_hours: {start: \"" + start + "\", end: \"" + end + "\"}")
}

func sprintfPolicy(extra string) string {
	return "browsing: {enabled: false}\n" +
		"search: {enabled: false, engine: \"none\"}\n" +
		"file_system: {enabled: false, read: false, write: false, delete: false}\n" +
		"terminal: {enabled: false}\n" +
		"app_control: {enabled: false}\n" +
		"input_control: {enabled: false}\n" +
		"calendar: {enabled: false, read: false, write: false}\n" +
		"system_info: {enabled: false}\n" +
		"camera: {enabled: false, mode: \"off\"}\n" +
		"voice: {enabled: false, tts_engine: \"none\", stt_engine: \"none\"}\n" +
		"proactive: {enabled: true, max_messages_per_hour: 10" + extra + "}\n"
}

// testDaemon builds a Daemon by hand, bypassing New's config-driven
// construction (which dials real provider credentials), wiring an
// in-memory fake.Transport, a real sqlite-backed store, and a fake vector
// store, so turn-handling and the proactive cycle can be exercised without
// any network access.
func testDaemon(t *testing.T, policyYAML string, response string) (*Daemon, *fake.Transport) {
	t.Helper()
	logger := slog.Default()

	st, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vec := newFakeVectorStore()
	mem := memory.New(st, vec, logger)
	pipeline := rag.New(vec, logger)

	registry := providers.NewRegistry()
	registry.Register("anthropic", &stubEngine{response: response})

	orch := orchestrator.New(registry, logger)
	asm := contextassembler.New(mem, pipeline, logger)
	threadMgr := threads.New(st, logger)

	trig := triggers.NewEngine(logger)
	require.NoError(t, trig.Load(filepath.Join(t.TempDir(), "triggers.yaml")))

	polPath := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(polPath, []byte(policyYAML), 0o644))
	pol := policy.NewEngine(logger)
	require.NoError(t, pol.Load(polPath))

	box := sandbox.New(pol, logger)

	transport := fake.New()
	chans := channel.NewRegistry()
	chans.Register("fake", transport)

	d := &Daemon{
		policy:   pol,
		logger:   logger,
		store:    st,
		vec:      vec,
		mem:      mem,
		rag:      pipeline,
		engines:  registry,
		orch:     orch,
		ctxasm:   asm,
		threads:  threadMgr,
		trig:     trig,
		box:      box,
		chans:    chans,
		interval: time.Hour,
		userID:   "owner",
	}
	return d, transport
}

func TestHandleInboundSavesBothTurnsAndReplies(t *testing.T) {
	d, transport := testDaemon(t, sprintfPolicy(""), "hello back")
	ctx := context.Background()

	transport.Deliver(bus.InboundMessage{
		Channel: "fake",
		UserID:  "owner",
		ChatID:  "owner",
		Content: "hi there",
	})

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "owner", sent[0].Recipient)
	assert.Equal(t, "hello back", sent[0].Text)

	user, err := d.store.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)
	history, err := d.store.RecentMessages(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, "hi there", history[0].Content)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello back", history[1].Content)
}

func TestHandleInboundRepliesOnOriginatingChannel(t *testing.T) {
	_, transport := testDaemon(t, sprintfPolicy(""), "reply")

	transport.Deliver(bus.InboundMessage{
		Channel: "fake",
		UserID:  "owner",
		ChatID:  "chat-42",
		Content: "ping",
	})

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "chat-42", sent[0].Recipient)
}

func TestRunCycleFiresKeywordTriggerAndMarksFired(t *testing.T) {
	d, transport := testDaemon(t, sprintfPolicy(""), "")
	ctx := context.Background()

	_, err := d.mem.SaveMessage(ctx, "owner", store.RoleUser, "this is urgent, please help", nil)
	require.NoError(t, err)

	require.NoError(t, d.trig.Remove("morning_checkin"))
	require.NoError(t, d.trig.Remove("end_of_day_summary"))
	require.NoError(t, d.trig.Remove("inactivity_reminder"))
	require.NoError(t, d.trig.Add(triggers.Definition{
		Name:    "urgent-kw",
		Type:    triggers.TypeKeyword,
		Pattern: "urgent",
		Message: "Noticed something urgent, want to talk?",
		Enabled: true,
	}))

	fired, followUps := d.runCycle(ctx)
	assert.Equal(t, "urgent-kw", fired)
	assert.Equal(t, 0, followUps)

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Noticed something urgent, want to talk?", sent[0].Text)

	var found bool
	for _, def := range d.trig.List() {
		if def.Name == "urgent-kw" {
			found = def.LastFired != nil
		}
	}
	assert.True(t, found)
}

func TestRunCycleSkipsDeniedTriggerWhenSandboxDisabled(t *testing.T) {
	policyYAML := "browsing: {enabled: false}\n" +
		"search: {enabled: false, engine: \"none\"}\n" +
		"file_system: {enabled: false, read: false, write: false, delete: false}\n" +
		"terminal: {enabled: false}\n" +
		"app_control: {enabled: false}\n" +
		"input_control: {enabled: false}\n" +
		"calendar: {enabled: false, read: false, write: false}\n" +
		"system_info: {enabled: false}\n" +
		"camera: {enabled: false, mode: \"off\"}\n" +
		"voice: {enabled: false, tts_engine: \"none\", stt_engine: \"none\"}\n" +
		"proactive: {enabled: false, max_messages_per_hour: 10}\n"

	d, transport := testDaemon(t, policyYAML, "")
	require.NoError(t, d.trig.Add(triggers.Definition{
		Name:    "always",
		Type:    triggers.TypeKeyword,
		Pattern: "anything",
		Message: "hi",
		Enabled: true,
	}))
	_, err := d.mem.SaveMessage(context.Background(), "owner", store.RoleUser, "anything goes", nil)
	require.NoError(t, err)

	fired, _ := d.runCycle(context.Background())
	assert.Equal(t, "", fired)
	assert.Empty(t, transport.Sent())
}

func TestRunCycleSkipsTriggersDuringQuietHoursButStillFollowsUp(t *testing.T) {
	d, transport := testDaemon(t, policyYAMLWithQuietHours("00:00", "23:59"), "")
	ctx := context.Background()

	require.NoError(t, d.trig.Add(triggers.Definition{
		Name:    "always-on",
		Type:    triggers.TypeKeyword,
		Pattern: "hello",
		Message: "hi",
		Enabled: true,
	}))
	_, err := d.mem.SaveMessage(ctx, "owner", store.RoleUser, "hello there", nil)
	require.NoError(t, err)

	threadID, err := d.threads.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)
	require.NoError(t, d.threads.UpdateState(ctx, threadID, store.ThreadWaiting))

	stale := &backdatingStoreForTest{Store: d.store, updatedAt: time.Now().Add(-2 * time.Hour)}
	d.threads = threads.New(stale, d.logger)

	fired, followUps := d.runCycle(ctx)
	assert.Equal(t, "", fired)
	assert.Equal(t, 1, followUps)

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, followUpMessage, sent[0].Text)
}

func TestInQuietHoursHandlesWraparoundWindow(t *testing.T) {
	d, _ := testDaemon(t, policyYAMLWithQuietHours("22:00", "06:00"), "")

	late := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	early := time.Date(2026, 7, 31, 5, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC)

	assert.True(t, d.inQuietHours(late))
	assert.True(t, d.inQuietHours(early))
	assert.False(t, d.inQuietHours(midday))
}

func TestInQuietHoursHandlesNonWrappingWindow(t *testing.T) {
	d, _ := testDaemon(t, policyYAMLWithQuietHours("01:00", "05:00"), "")

	inside := time.Date(2026, 7, 31, 2, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	assert.True(t, d.inQuietHours(inside))
	assert.False(t, d.inQuietHours(outside))
}

func TestInQuietHoursFalseWhenNoneConfigured(t *testing.T) {
	d, _ := testDaemon(t, sprintfPolicy(""), "")
	assert.False(t, d.inQuietHours(time.Now()))
}

func TestParseHHMMRejectsMalformedInput(t *testing.T) {
	_, ok := parseHHMM("not-a-time")
	assert.False(t, ok)
	_, ok = parseHHMM("25:00")
	assert.False(t, ok)
	m, ok := parseHHMM("08:30")
	assert.True(t, ok)
	assert.Equal(t, 8*60+30, m)
}

func TestHealthReportsRunningStateAndActiveThreads(t *testing.T) {
	d, _ := testDaemon(t, sprintfPolicy(""), "")
	ctx := context.Background()

	h := d.Health()
	assert.False(t, h.Running)
	assert.Equal(t, 0, h.ActiveThreads)

	_, err := d.threads.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)

	d.mu.Lock()
	d.running = true
	d.startedAt = time.Now().Add(-time.Minute)
	d.cycleCount = 3
	d.lastTrigger = "morning_checkin"
	d.mu.Unlock()

	h = d.Health()
	assert.True(t, h.Running)
	assert.Equal(t, int64(3), h.CycleCount)
	assert.Equal(t, "morning_checkin", h.LastTrigger)
	assert.Equal(t, 1, h.ActiveThreads)
	assert.GreaterOrEqual(t, h.UptimeSeconds, 0.0)
}

// backdatingStoreForTest wraps a real store.Store and reports a fixed,
// stale UpdatedAt for GetThread, so follow-up due logic can be exercised
// without sleeping an hour.
type backdatingStoreForTest struct {
	store.Store
	updatedAt time.Time
}

func (b *backdatingStoreForTest) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	thread, err := b.Store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	thread.UpdatedAt = b.updatedAt
	return thread, nil
}
