// Package sqlstore implements the Relational Store (C4) over database/sql,
// with Postgres and SQLite backends sharing a single portable schema and
// query set. Timestamps are stored as UTC RFC3339 text with a fixed nine-digit
// fraction (lexically sortable)
// and opaque maps as JSON text, so the same migrations and queries serve
// both engines.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/orionmind/internal/store"
)

// Store implements store.Store over a *sql.DB for either the "postgres" or
// "sqlite" dialect.
type Store struct {
	db      *sql.DB
	dialect string
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Store) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	q := s.q(query)
	if tx != nil {
		return tx.ExecContext(ctx, q, args...)
	}
	return s.db.ExecContext(ctx, q, args...)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func marshalMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetOrCreateUser resolves a User by name, creating one if absent.
func (s *Store) GetOrCreateUser(ctx context.Context, name string) (*store.User, error) {
	u, err := s.userByName(ctx, name)
	if err == nil {
		return u, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	u = &store.User{ID: newID(), Name: name, CreatedAt: now, Settings: map[string]any{}}
	_, err = s.exec(ctx, nil,
		`INSERT INTO users (id, name, created_at, settings) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, formatTime(now), marshalMap(u.Settings),
	)
	if err != nil {
		// Lost a create race to another writer; fetch what won.
		if existing, getErr := s.userByName(ctx, name); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) userByName(ctx context.Context, name string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, created_at, settings FROM users WHERE name = ?`), name)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, created_at, settings FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	var createdAt, settings string
	if err := row.Scan(&u.ID, &u.Name, &createdAt, &settings); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.Settings = unmarshalMap(settings)
	return &u, nil
}

// GetOrCreateOpenSession resolves the user's open session, creating one if
// none exists.
func (s *Store) GetOrCreateOpenSession(ctx context.Context, userID string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, started_at, ended_at, message_count, summary
		 FROM sessions WHERE user_id = ? AND ended_at IS NULL`), userID)
	sess, err := scanSession(row)
	if err == nil {
		return sess, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	sess = &store.Session{ID: newID(), UserID: userID, StartedAt: now}
	_, err = s.exec(ctx, nil,
		`INSERT INTO sessions (id, user_id, started_at, message_count) VALUES (?, ?, ?, 0)`,
		sess.ID, sess.UserID, formatTime(now),
	)
	if err != nil {
		if existing, getErr := s.GetOrCreateOpenSession(ctx, userID); getErr == nil && existing.ID != sess.ID {
			return existing, nil
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, started_at, ended_at, message_count, summary FROM sessions WHERE id = ?`), id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*store.Session, error) {
	var sess store.Session
	var startedAt string
	var endedAt, summary sql.NullString
	if err := row.Scan(&sess.ID, &sess.UserID, &startedAt, &endedAt, &sess.MessageCount, &summary); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sess.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	if summary.Valid {
		sess.Summary = &summary.String
	}
	return &sess, nil
}

func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	_, err := s.exec(ctx, nil,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(time.Now()), sessionID,
	)
	return err
}

func (s *Store) SessionsEndedBefore(ctx context.Context, userID string, cutoff time.Time) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, started_at, ended_at, message_count, summary
		 FROM sessions
		 WHERE user_id = ? AND ended_at IS NOT NULL AND ended_at < ? AND summary IS NULL
		 ORDER BY ended_at ASC`), userID, formatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var sess store.Session
		var startedAt string
		var endedAt, summary sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &startedAt, &endedAt, &sess.MessageCount, &summary); err != nil {
			return nil, err
		}
		sess.StartedAt = parseTime(startedAt)
		if endedAt.Valid {
			t := parseTime(endedAt.String)
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// InsertMessage inserts msg and, when it carries a session id, increments
// that session's message_count in the same transaction.
func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var sessionID any
	if msg.SessionID != nil {
		sessionID = *msg.SessionID
	}

	if _, err := s.exec(ctx, tx,
		`INSERT INTO messages (id, user_id, session_id, role, content, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, sessionID, string(msg.Role), msg.Content, formatTime(msg.Timestamp), marshalMap(msg.Metadata),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if msg.SessionID != nil {
		if _, err := s.exec(ctx, tx,
			`UPDATE sessions SET message_count = message_count + 1 WHERE id = ?`, *msg.SessionID,
		); err != nil {
			return fmt.Errorf("increment message_count: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) RecentMessages(ctx context.Context, userID string, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, session_id, role, content, timestamp, metadata
		 FROM messages WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, session_id, role, content, timestamp, metadata
		 FROM messages WHERE session_id = ? ORDER BY timestamp ASC`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]store.Message, error) {
	var out []store.Message
	for rows.Next() {
		var m store.Message
		var ts, metadata string
		var sessionID sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &sessionID, &m.Role, &m.Content, &ts, &metadata); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		m.Metadata = unmarshalMap(metadata)
		if sessionID.Valid {
			v := sessionID.String
			m.SessionID = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CompressSession atomically writes mem, stamps session.summary, and deletes
// the session's original messages. A failure here never touches the vector
// store, whose best-effort cleanup is the caller's (Memory Facade's)
// responsibility.
func (s *Store) CompressSession(ctx context.Context, mem *store.CompressedMemory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if mem.ID == "" {
		mem.ID = newID()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now()
	}

	if _, err := s.exec(ctx, tx,
		`INSERT INTO compressed_memories
		 (id, user_id, session_id, summary, original_message_count, date_range_start, date_range_end, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, mem.UserID, mem.SessionID, mem.Summary, mem.OriginalMessageCount,
		formatTime(mem.DateRangeStart), formatTime(mem.DateRangeEnd), formatTime(mem.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert compressed_memory: %w", err)
	}

	if _, err := s.exec(ctx, tx, `UPDATE sessions SET summary = ? WHERE id = ?`, mem.Summary, mem.SessionID); err != nil {
		return fmt.Errorf("stamp session summary: %w", err)
	}

	if _, err := s.exec(ctx, tx, `DELETE FROM messages WHERE session_id = ?`, mem.SessionID); err != nil {
		return fmt.Errorf("delete compressed messages: %w", err)
	}

	return tx.Commit()
}

func (s *Store) CreateThread(ctx context.Context, t *store.Thread) (*store.Thread, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.State == "" {
		t.State = store.ThreadOpen
	}

	_, err := s.exec(ctx, nil,
		`INSERT INTO threads (id, user_id, trigger, state, created_at, updated_at, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Trigger, string(t.State), formatTime(t.CreatedAt), formatTime(t.UpdatedAt), marshalMap(t.Context),
	)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return t, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, trigger, state, created_at, updated_at, context FROM threads WHERE id = ?`), id)
	return scanThread(row)
}

func scanThread(row *sql.Row) (*store.Thread, error) {
	var t store.Thread
	var createdAt, updatedAt, context, state string
	if err := row.Scan(&t.ID, &t.UserID, &t.Trigger, &state, &createdAt, &updatedAt, &context); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.State = store.ThreadState(state)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.Context = unmarshalMap(context)
	return &t, nil
}

// UpdateThreadState rejects transitions the state machine forbids, including
// transitions out of an unknown current state or into an unknown target.
func (s *Store) UpdateThreadState(ctx context.Context, id string, next store.ThreadState) error {
	current, err := s.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if !store.CanTransition(current.State, next) {
		return fmt.Errorf("illegal thread transition %s -> %s", current.State, next)
	}
	_, err = s.exec(ctx, nil,
		`UPDATE threads SET state = ?, updated_at = ? WHERE id = ?`,
		string(next), formatTime(time.Now()), id,
	)
	return err
}

func (s *Store) PendingThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, trigger, state, created_at, updated_at, context
		 FROM threads WHERE user_id = ? AND state != ? ORDER BY created_at DESC`),
		userID, string(store.ThreadResolved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Thread
	for rows.Next() {
		var t store.Thread
		var createdAt, updatedAt, context, state string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Trigger, &state, &createdAt, &updatedAt, &context); err != nil {
			return nil, err
		}
		t.State = store.ThreadState(state)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		t.Context = unmarshalMap(context)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AppendTriggerLog(ctx context.Context, log *store.TriggerLog) error {
	if log.ID == "" {
		log.ID = newID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	actedOn := 0
	if log.ActedOn {
		actedOn = 1
	}
	_, err := s.exec(ctx, nil,
		`INSERT INTO trigger_logs (id, user_id, trigger_type, reason, urgency, acted_on, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.TriggerType, log.Reason, log.Urgency, actedOn, formatTime(log.CreatedAt),
	)
	return err
}
