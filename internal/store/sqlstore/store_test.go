package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/orionmind/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateUserIsIdempotentByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)
	u2, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	assert.Equal(t, u1.ID, u2.ID)
}

func TestGetOrCreateOpenSessionReusesOpenSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	sess1, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)
	sess2, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)

	assert.Equal(t, sess1.ID, sess2.ID)
}

func TestGetOrCreateOpenSessionNewAfterEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	sess1, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, s.EndSession(ctx, sess1.ID))

	sess2, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)

	assert.NotEqual(t, sess1.ID, sess2.ID)
}

func TestInsertMessageIncrementsSessionMessageCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)
	sess, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := s.InsertMessage(ctx, &store.Message{
			UserID:    u.ID,
			SessionID: &sess.ID,
			Role:      store.RoleUser,
			Content:   "hi",
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
}

func TestRecentMessagesReturnsAscendingOrderWithinLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertMessage(ctx, &store.Message{
			UserID:    u.ID,
			Role:      store.RoleUser,
			Content:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := s.RecentMessages(ctx, u.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "d", msgs[1].Content)
	assert.Equal(t, "e", msgs[2].Content)
}

func TestCompressSessionDeletesMessagesAndStampsSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)
	sess, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertMessage(ctx, &store.Message{
			UserID:    u.ID,
			SessionID: &sess.ID,
			Role:      store.RoleUser,
			Content:   "msg",
			Timestamp: time.Now(),
		}))
	}
	require.NoError(t, s.EndSession(ctx, sess.ID))

	mem := &store.CompressedMemory{
		UserID:               u.ID,
		SessionID:            sess.ID,
		Summary:              "summary text",
		OriginalMessageCount: 5,
		DateRangeStart:       time.Now().Add(-time.Hour),
		DateRangeEnd:         time.Now(),
	}
	require.NoError(t, s.CompressSession(ctx, mem))

	msgs, err := s.SessionMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "summary text", *got.Summary)
}

func TestThreadStateMachineRejectsIllegalTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	th, err := s.CreateThread(ctx, &store.Thread{UserID: u.ID, Trigger: "manual check-in"})
	require.NoError(t, err)
	assert.Equal(t, store.ThreadOpen, th.State)

	require.NoError(t, s.UpdateThreadState(ctx, th.ID, store.ThreadWaiting))
	require.NoError(t, s.UpdateThreadState(ctx, th.ID, store.ThreadResolved))

	err = s.UpdateThreadState(ctx, th.ID, store.ThreadOpen)
	assert.Error(t, err)
}

func TestPendingThreadsExcludesResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	open, err := s.CreateThread(ctx, &store.Thread{UserID: u.ID, Trigger: "a"})
	require.NoError(t, err)
	resolved, err := s.CreateThread(ctx, &store.Thread{UserID: u.ID, Trigger: "b"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateThreadState(ctx, resolved.ID, store.ThreadResolved))

	pending, err := s.PendingThreads(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)
}

func TestAppendTriggerLogPersistsActedOnFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	err = s.AppendTriggerLog(ctx, &store.TriggerLog{
		UserID:      u.ID,
		TriggerType: "time_based",
		Reason:      "morning check-in",
		Urgency:     "low",
		ActedOn:     true,
	})
	require.NoError(t, err)

	var actedOn int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT acted_on FROM trigger_logs WHERE user_id = ?`, u.ID).Scan(&actedOn))
	assert.Equal(t, 1, actedOn)
}

func TestSessionsEndedBeforeExcludesAlreadySummarized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, "owner")
	require.NoError(t, err)

	sess, err := s.GetOrCreateOpenSession(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, s.EndSession(ctx, sess.ID))

	cutoff := time.Now().Add(time.Hour)
	candidates, err := s.SessionsEndedBefore(ctx, u.ID, cutoff)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	require.NoError(t, s.CompressSession(ctx, &store.CompressedMemory{
		UserID:               u.ID,
		SessionID:            sess.ID,
		Summary:              "done",
		OriginalMessageCount: 0,
		DateRangeStart:       time.Now(),
		DateRangeEnd:         time.Now(),
	}))

	candidates, err = s.SessionsEndedBefore(ctx, u.ID, cutoff)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
