// Package store defines the Relational Store's entity model and the
// interface its backends (Postgres, SQLite) implement.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ThreadState is a Thread's position in its {open, waiting, resolved} machine.
type ThreadState string

const (
	ThreadOpen     ThreadState = "open"
	ThreadWaiting  ThreadState = "waiting"
	ThreadResolved ThreadState = "resolved"
)

// validThreadTransitions encodes the state machine of SPEC_FULL §3: open can
// move to waiting or resolved; waiting can move to open or resolved; resolved
// is terminal.
var validThreadTransitions = map[ThreadState]map[ThreadState]bool{
	ThreadOpen:    {ThreadWaiting: true, ThreadResolved: true},
	ThreadWaiting: {ThreadOpen: true, ThreadResolved: true},
}

// CanTransition reports whether from -> to is a legal Thread state change.
func CanTransition(from, to ThreadState) bool {
	return validThreadTransitions[from][to]
}

// User is created on first reference and never deleted by this core.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Settings  map[string]any
}

// Session is a contiguous conversation window for a User. At most one
// session per user may have a nil EndedAt (the "open" session).
type Session struct {
	ID           string
	UserID       string
	StartedAt    time.Time
	EndedAt      *time.Time
	MessageCount int
	Summary      *string
}

// Message belongs to a User and, once session tracking applies, a Session.
type Message struct {
	ID        string
	UserID    string
	SessionID *string
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Thread tracks a unit of proactive outreach independent of Sessions.
type Thread struct {
	ID        string
	UserID    string
	Trigger   string
	State     ThreadState
	CreatedAt time.Time
	UpdatedAt time.Time
	Context   map[string]any
}

// CompressedMemory is written exactly once per compressed Session.
type CompressedMemory struct {
	ID                   string
	UserID               string
	SessionID            string
	Summary              string
	OriginalMessageCount int
	DateRangeStart       time.Time
	DateRangeEnd         time.Time
	CreatedAt            time.Time
}

// TriggerLog is an append-only record of a fired Trigger Engine evaluation.
type TriggerLog struct {
	ID          string
	UserID      string
	TriggerType string
	Reason      string
	Urgency     string
	ActedOn     bool
	CreatedAt   time.Time
}

// Store is the Relational Store's (C4) full surface. Every mutation the
// interface documents as transactional is performed in a single per-write
// transaction by the implementation.
type Store interface {
	// GetOrCreateUser resolves a User by name, creating one if absent.
	GetOrCreateUser(ctx context.Context, name string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	// GetOrCreateOpenSession resolves the user's open session (EndedAt nil),
	// creating one if none exists.
	GetOrCreateOpenSession(ctx context.Context, userID string) (*Session, error)
	EndSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// SessionsEndedBefore lists sessions for userID with EndedAt before cutoff
	// and Summary still nil, the compress_old_sessions candidate set.
	SessionsEndedBefore(ctx context.Context, userID string, cutoff time.Time) ([]Session, error)

	// InsertMessage inserts msg and, when msg.SessionID is set, increments
	// that session's message_count in the same transaction.
	InsertMessage(ctx context.Context, msg *Message) error
	// RecentMessages returns at most limit messages for userID in ascending
	// timestamp order, most recent limit taken.
	RecentMessages(ctx context.Context, userID string, limit int) ([]Message, error)
	// SessionMessages returns all messages for sessionID in ascending
	// timestamp order.
	SessionMessages(ctx context.Context, sessionID string) ([]Message, error)

	// CompressSession atomically writes mem, stamps session.summary, and
	// deletes the session's original messages.
	CompressSession(ctx context.Context, mem *CompressedMemory) error

	CreateThread(ctx context.Context, t *Thread) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	UpdateThreadState(ctx context.Context, id string, next ThreadState) error
	PendingThreads(ctx context.Context, userID string) ([]Thread, error)

	AppendTriggerLog(ctx context.Context, log *TriggerLog) error

	Close() error
}
