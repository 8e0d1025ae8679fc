// Package threads implements the Thread Manager (C12): tracking units of
// proactive outreach through the {open, waiting, resolved} state machine of
// §3, on top of the Relational Store (C4). The original
// original_source/background/thread_manager.py is a stub; spec.md's richer
// state machine and follow-up rule are authoritative here.
package threads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/orionmind/internal/store"
)

// followUpAfter is the minimum time a thread must sit in "waiting" before
// ShouldFollowUp reports true.
const followUpAfter = time.Hour

// Manager is the Thread Manager's full surface.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger}
}

// OpenThread creates a new Thread in state "open" for userID, recording
// triggerReason as its Trigger field, and returns its id.
func (m *Manager) OpenThread(ctx context.Context, userID, triggerReason string) (string, error) {
	user, err := m.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("open thread: %w", err)
	}

	thread, err := m.store.CreateThread(ctx, &store.Thread{
		UserID:  user.ID,
		Trigger: triggerReason,
		State:   store.ThreadOpen,
	})
	if err != nil {
		return "", fmt.Errorf("open thread: %w", err)
	}

	m.logger.Info("opened thread", "thread_id", thread.ID, "user_id", userID, "trigger", triggerReason)
	return thread.ID, nil
}

// UpdateState transitions the thread atomically, honoring the state
// machine of §3. Rejects unknown states and illegal transitions.
func (m *Manager) UpdateState(ctx context.Context, id string, next store.ThreadState) error {
	if next != store.ThreadOpen && next != store.ThreadWaiting && next != store.ThreadResolved {
		return fmt.Errorf("update thread state: unknown state %q", next)
	}
	if err := m.store.UpdateThreadState(ctx, id, next); err != nil {
		return fmt.Errorf("update thread state: %w", err)
	}
	m.logger.Info("updated thread state", "thread_id", id, "state", next)
	return nil
}

// GetPendingThreads returns every thread for userID whose state is not
// "resolved", newest first.
func (m *Manager) GetPendingThreads(ctx context.Context, userID string) ([]store.Thread, error) {
	user, err := m.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get pending threads: %w", err)
	}
	return m.store.PendingThreads(ctx, user.ID)
}

// ShouldFollowUp reports whether the thread is in state "waiting" and has
// gone at least an hour since it was last updated.
func (m *Manager) ShouldFollowUp(ctx context.Context, id string) (bool, error) {
	thread, err := m.store.GetThread(ctx, id)
	if err != nil {
		return false, fmt.Errorf("should follow up: %w", err)
	}
	if thread.State != store.ThreadWaiting {
		return false, nil
	}
	return time.Since(thread.UpdatedAt) >= followUpAfter, nil
}
