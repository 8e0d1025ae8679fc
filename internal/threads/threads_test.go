package threads

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/orionmind/internal/store"
	"github.com/nextlevelbuilder/orionmind/internal/store/sqlstore"
)

func newTestManager(t *testing.T) (*Manager, *sqlstore.Store) {
	t.Helper()
	st, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, slog.Default()), st
}

func TestOpenThreadCreatesOpenState(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	id, err := m.OpenThread(ctx, "owner", "Trigger: morning-checkin")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	thread, err := st.GetThread(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.ThreadOpen, thread.State)
	assert.Equal(t, "Trigger: morning-checkin", thread.Trigger)
}

func TestUpdateStateAllowsLegalTransition(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	id, err := m.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)

	require.NoError(t, m.UpdateState(ctx, id, store.ThreadWaiting))

	thread, err := st.GetThread(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.ThreadWaiting, thread.State)
}

func TestUpdateStateRejectsIllegalTransition(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)
	require.NoError(t, m.UpdateState(ctx, id, store.ThreadResolved))

	err = m.UpdateState(ctx, id, store.ThreadOpen)
	assert.Error(t, err)
}

func TestUpdateStateRejectsUnknownState(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)

	err = m.UpdateState(ctx, id, store.ThreadState("archived"))
	assert.Error(t, err)
}

func TestGetPendingThreadsExcludesResolvedAndOrdersNewestFirst(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.OpenThread(ctx, "owner", "first")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.OpenThread(ctx, "owner", "second")
	require.NoError(t, err)
	third, err := m.OpenThread(ctx, "owner", "third")
	require.NoError(t, err)
	require.NoError(t, m.UpdateState(ctx, third, store.ThreadResolved))

	pending, err := m.GetPendingThreads(ctx, "owner")
	require.NoError(t, err)

	require.Len(t, pending, 2)
	assert.Equal(t, second, pending[0].ID)
	assert.Equal(t, first, pending[1].ID)
}

func TestShouldFollowUpFalseWhenNotWaiting(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)

	follow, err := m.ShouldFollowUp(ctx, id)
	require.NoError(t, err)
	assert.False(t, follow)
}

func TestShouldFollowUpFalseWhenRecentlyUpdated(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)
	require.NoError(t, m.UpdateState(ctx, id, store.ThreadWaiting))

	follow, err := m.ShouldFollowUp(ctx, id)
	require.NoError(t, err)
	assert.False(t, follow)
}

// backdatingStore wraps a real store.Store and reports a fixed, stale
// UpdatedAt for GetThread so ShouldFollowUp's hour threshold can be tested
// without sleeping or touching sqlstore internals.
type backdatingStore struct {
	store.Store
	updatedAt time.Time
}

func (b *backdatingStore) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	thread, err := b.Store.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	thread.UpdatedAt = b.updatedAt
	return thread, nil
}

func TestShouldFollowUpTrueAfterAnHourWaiting(t *testing.T) {
	_, st := newTestManager(t)
	ctx := context.Background()

	plain := New(st, slog.Default())
	id, err := plain.OpenThread(ctx, "owner", "test")
	require.NoError(t, err)
	require.NoError(t, plain.UpdateState(ctx, id, store.ThreadWaiting))

	stale := &backdatingStore{Store: st, updatedAt: time.Now().Add(-2 * time.Hour)}
	m := New(stale, slog.Default())

	follow, err := m.ShouldFollowUp(ctx, id)
	require.NoError(t, err)
	assert.True(t, follow)
}
