package contextassembler

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/orionmind/internal/memory"
	"github.com/nextlevelbuilder/orionmind/internal/providers"
	"github.com/nextlevelbuilder/orionmind/internal/rag"
	"github.com/nextlevelbuilder/orionmind/internal/store"
	"github.com/nextlevelbuilder/orionmind/internal/store/sqlstore"
	"github.com/nextlevelbuilder/orionmind/internal/vectorstore"
)

type fakeVec struct {
	entries map[string]vectorstore.Entry
}

func newFakeVec() *fakeVec { return &fakeVec{entries: map[string]vectorstore.Entry{}} }

func (f *fakeVec) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (f *fakeVec) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["text"] = text
	f.entries[id] = vectorstore.Entry{ID: id, Score: metaScore(metadata), Metadata: meta}
	return nil
}

func metaScore(metadata map[string]any) float64 {
	if s, ok := metadata["score"].(float64); ok {
		return s
	}
	return 0.9
}

func (f *fakeVec) Search(ctx context.Context, vec []float32, topK int, filter map[string]any) ([]vectorstore.Entry, error) {
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

func (f *fakeVec) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeVec) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return vectorstore.Stats{Backend: "fake", TotalVectors: len(f.entries)}, nil
}
func (f *fakeVec) Close() error { return nil }

func newTestAssembler(t *testing.T) (*Assembler, *memory.Facade, *rag.Pipeline, *fakeVec, *sqlstore.Store) {
	t.Helper()
	st, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vec := newFakeVec()
	mem := memory.New(st, vec, slog.Default())
	pipeline := rag.New(vec, slog.Default())
	return New(mem, pipeline, slog.Default()), mem, pipeline, vec, st
}

func TestBuildStartsWithPersonaSystemMessage(t *testing.T) {
	a, _, _, _, _ := newTestAssembler(t)
	messages := a.Build(context.Background(), "owner", "hello", "reasoning")

	require.NotEmpty(t, messages)
	assert.Equal(t, providers.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Orion")
}

func TestBuildAppendsCurrentTurnAsLastUserMessage(t *testing.T) {
	a, _, _, _, _ := newTestAssembler(t)
	messages := a.Build(context.Background(), "owner", "what did we discuss", "reasoning")

	last := messages[len(messages)-1]
	assert.Equal(t, providers.RoleUser, last.Role)
	assert.Equal(t, "what did we discuss", last.Content)
}

func TestBuildIncludesHistoryInAscendingOrder(t *testing.T) {
	a, mem, _, _, _ := newTestAssembler(t)
	ctx := context.Background()

	_, err := mem.SaveMessage(ctx, "owner", store.RoleUser, "first message", nil)
	require.NoError(t, err)
	_, err = mem.SaveMessage(ctx, "owner", store.RoleAssistant, "second message", nil)
	require.NoError(t, err)

	messages := a.Build(ctx, "owner", "what's next", "reasoning")

	var historyContents []string
	for _, m := range messages {
		if m.Role != providers.RoleSystem && m.Content != "what's next" {
			historyContents = append(historyContents, m.Content)
		}
	}
	require.Len(t, historyContents, 2)
	assert.Equal(t, "first message", historyContents[0])
	assert.Equal(t, "second message", historyContents[1])
}

func TestBuildInjectsRagContextWhenNonEmpty(t *testing.T) {
	a, _, pipeline, _, _ := newTestAssembler(t)
	ctx := context.Background()

	_, err := pipeline.Ingest(ctx, "the capital of France is Paris and it is on the Seine river", "doc", "owner", nil)
	require.NoError(t, err)

	messages := a.Build(ctx, "owner", "capital of France", "reasoning")

	found := false
	for _, m := range messages {
		if m.Role == providers.RoleSystem && strings.Contains(m.Content, "KNOWLEDGE BASE") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildOmitsRelevantContextBelowScoreThreshold(t *testing.T) {
	a, _, _, vec, st := newTestAssembler(t)
	ctx := context.Background()

	user, err := st.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	vec.entries["low"] = vectorstore.Entry{
		ID:    "low",
		Score: 0.1,
		Metadata: map[string]any{
			"role": "user", "text": "irrelevant aside", "user_id": user.ID,
		},
	}

	messages := a.Build(ctx, "owner", "anything", "reasoning")
	for _, m := range messages {
		assert.NotContains(t, m.Content, "irrelevant aside")
	}
}

func TestRelevantLinesTruncatesAndFiltersLowScore(t *testing.T) {
	long := strings.Repeat("x", 500)
	lines := relevantLines([]memory.Message{
		{Role: store.RoleUser, Content: long, Score: 0.9},
		{Role: store.RoleAssistant, Content: "skip me", Score: 0.2},
	})

	require.Len(t, lines, 1)
	assert.Len(t, lines[0], relevantMaxChars+len("[user] "))
}

func TestTruncateKeepsAllSystemMessagesAndTrimsOldConversation(t *testing.T) {
	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: strings.Repeat("s", 40)},
		{Role: providers.RoleUser, Content: strings.Repeat("a", 100)},
		{Role: providers.RoleAssistant, Content: strings.Repeat("b", 100)},
		{Role: providers.RoleUser, Content: strings.Repeat("c", 10)},
	}

	// budget: 50 tokens * 4 chars = 200 chars; system uses 40, leaving 160.
	result := Truncate(messages, 50)

	require.Len(t, result, 3)
	assert.Equal(t, providers.RoleSystem, result[0].Role)
	assert.Equal(t, strings.Repeat("b", 100), result[1].Content)
	assert.Equal(t, strings.Repeat("c", 10), result[2].Content)
}

func TestTruncateReturnsOnlyFirstSystemMessageWhenSystemAloneExceedsBudget(t *testing.T) {
	messages := []providers.Message{
		{Role: providers.RoleSystem, Content: strings.Repeat("s", 1000)},
		{Role: providers.RoleSystem, Content: strings.Repeat("t", 1000)},
		{Role: providers.RoleUser, Content: "hi"},
	}

	result := Truncate(messages, 10)
	require.Len(t, result, 1)
	assert.Equal(t, strings.Repeat("s", 1000), result[0].Content)
}

func TestTruncateOfEmptyMessagesReturnsEmpty(t *testing.T) {
	assert.Empty(t, Truncate(nil, 100))
}

func TestBuildBoundedAppliesDefaultTokenBudget(t *testing.T) {
	a, mem, _, _, _ := newTestAssembler(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := mem.SaveMessage(ctx, "owner", store.RoleUser, strings.Repeat("m", 50), nil)
		require.NoError(t, err)
	}

	messages := a.BuildBounded(ctx, "owner", "current question", "reasoning")
	assert.NotEmpty(t, messages)
	assert.Equal(t, providers.RoleSystem, messages[0].Role)
}
