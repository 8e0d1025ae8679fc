// Package memory implements the Memory Facade (C6): the single entry point
// conversation turns and the Trigger Engine use to persist and recall
// history, composing the Relational Store (C4) and Vector Store (C5).
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/store"
	"github.com/nextlevelbuilder/orionmind/internal/vectorstore"
)

// Summarizer produces a short summary of a transcript. The Orchestrator
// satisfies this narrow interface; passing it in as a capability (rather
// than importing the Orchestrator package here) keeps compression from
// reaching across to a module that itself depends on Memory for history.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Message is the projection get_relevant_context returns: a store.Message
// annotated with a relevance score.
type Message struct {
	ID        string
	Score     float64
	Role      store.Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Facade composes C4 and C5 per SPEC_FULL §4.4.
type Facade struct {
	store  store.Store
	vec    vectorstore.Store
	logger *slog.Logger
}

func New(st store.Store, vec vectorstore.Store, logger *slog.Logger) *Facade {
	return &Facade{store: st, vec: vec, logger: logger}
}

// SaveMessage resolves or creates the user and their active session, inserts
// the Message, and best-effort upserts it into the Vector Store. A vector
// failure is logged and never fails the call; the relational commit stands.
func (f *Facade) SaveMessage(ctx context.Context, userID string, role store.Role, content string, metadata map[string]any) (*store.Message, error) {
	user, err := f.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	sess, err := f.store.GetOrCreateOpenSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve open session: %w", err)
	}

	msg := &store.Message{
		UserID:    user.ID,
		SessionID: &sess.ID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	if err := f.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	f.upsertVector(ctx, msg)
	return msg, nil
}

func (f *Facade) upsertVector(ctx context.Context, msg *store.Message) {
	if f.vec == nil {
		return
	}

	vec, err := f.vec.Embed(ctx, msg.Content)
	if err != nil {
		f.logger.Warn("embed message failed", "message_id", msg.ID, "error", err)
		return
	}

	meta := map[string]any{
		"user_id":   msg.UserID,
		"role":      string(msg.Role),
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339),
	}
	for k, v := range msg.Metadata {
		meta[k] = v
	}

	if err := f.vec.Upsert(ctx, msg.ID, vec, msg.Content, meta); err != nil {
		f.logger.Warn("vector upsert failed", "message_id", msg.ID, "error", err)
	}
}

// GetHistory returns at most limit most recent messages in ascending-time
// order.
func (f *Facade) GetHistory(ctx context.Context, userID string, limit int) ([]store.Message, error) {
	user, err := f.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return f.store.RecentMessages(ctx, user.ID, limit)
}

// GetRelevantContext embeds query, searches the Vector Store filtered to
// userID, and maps results into the message projection.
func (f *Facade) GetRelevantContext(ctx context.Context, userID, query string, topK int) ([]Message, error) {
	if f.vec == nil {
		return nil, nil
	}

	user, err := f.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	vec, err := f.vec.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := f.vec.Search(ctx, vec, topK, map[string]any{"user_id": user.ID})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]Message, 0, len(results))
	for _, r := range results {
		msg := Message{ID: r.ID, Score: r.Score, Metadata: r.Metadata}
		if role, ok := r.Metadata["role"].(string); ok {
			msg.Role = store.Role(role)
		}
		if text, ok := r.Metadata["text"].(string); ok {
			msg.Content = text
		}
		if ts, ok := r.Metadata["timestamp"].(string); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				msg.Timestamp = t
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

const autoSummaryPrefix = "[Auto-summary] "
const autoSummaryChars = 1000

// CompressOldSessions compresses every session for userID that ended before
// the cutoff and has no summary yet: it builds a transcript, asks summarizer
// for a summary (falling back to a truncated auto-summary on failure), and
// writes the compression transactionally via the Relational Store. The
// vector delete for the compressed messages' ids is best-effort and never
// fails the call.
func (f *Facade) CompressOldSessions(ctx context.Context, userID string, olderThanDays int, summarizer Summarizer) error {
	user, err := f.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	sessions, err := f.store.SessionsEndedBefore(ctx, user.ID, cutoff)
	if err != nil {
		return fmt.Errorf("list compressible sessions: %w", err)
	}

	for _, sess := range sessions {
		if err := f.compressSession(ctx, user.ID, sess, summarizer); err != nil {
			f.logger.Error("compress session failed", "session_id", sess.ID, "error", err)
		}
	}
	return nil
}

func (f *Facade) compressSession(ctx context.Context, userID string, sess store.Session, summarizer Summarizer) error {
	msgs, err := f.store.SessionMessages(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load session messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	var transcript strings.Builder
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
		ids = append(ids, m.ID)
	}

	summary := f.summarize(ctx, transcript.String(), summarizer)

	mem := &store.CompressedMemory{
		UserID:               userID,
		SessionID:            sess.ID,
		Summary:              summary,
		OriginalMessageCount: len(msgs),
		DateRangeStart:       msgs[0].Timestamp,
		DateRangeEnd:         msgs[len(msgs)-1].Timestamp,
	}
	if err := f.store.CompressSession(ctx, mem); err != nil {
		return fmt.Errorf("compress session: %w", err)
	}

	if f.vec != nil {
		if err := f.vec.Delete(ctx, ids); err != nil {
			f.logger.Warn("vector delete for compressed session failed", "session_id", sess.ID, "error", err)
		}
	}
	return nil
}

func (f *Facade) summarize(ctx context.Context, transcript string, summarizer Summarizer) string {
	if summarizer != nil {
		if summary, err := summarizer.Summarize(ctx, transcript); err == nil {
			return summary
		} else {
			f.logger.Warn("summarization failed, falling back to auto-summary", "error", err)
		}
	}
	return autoSummaryPrefix + truncate(transcript, autoSummaryChars) + "…"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
