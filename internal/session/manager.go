// Package session manages conversation sessions on top of a
// [memory.SessionStore]. Its single job beyond pass-through is
// serialisation: at most one request mutates a given session at a time, so
// the history append and the delivered-fingerprint update land atomically
// relative to concurrent requests on the same session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// Manager serialises access to sessions.
type Manager struct {
	store  memory.SessionStore
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// NewManager creates a Manager over the store.
func NewManager(store memory.SessionStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "session"),
		locks:  map[string]*sessionLock{},
	}
}

// acquire takes the per-session lock, creating it on first use. The release
// func drops the lock and frees it once no request holds or waits on it.
func (m *Manager) acquire(id string) (release func()) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// GetOrCreate fetches the session, creating it when unknown.
func (m *Manager) GetOrCreate(ctx context.Context, id, userID string) (*memory.Session, error) {
	release := m.acquire(id)
	defer release()

	sess, err := m.store.GetSession(ctx, id)
	if err == nil {
		if sess.UserID != "" && userID != "" && sess.UserID != userID {
			return nil, fmt.Errorf("session: get %s: %w", id, memory.ErrUserMismatch)
		}
		return sess, nil
	}
	if !errors.Is(err, memory.ErrNotFound) {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}

	sess, err = m.store.CreateSession(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", id, err)
	}
	m.logger.Debug("session created", "session_id", id, "user_id", userID)
	return sess, nil
}

// Get fetches an existing session without creating one.
func (m *Manager) Get(ctx context.Context, id string) (*memory.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return sess, nil
}

// RecordExchange appends one exchange and marks the newly delivered
// transcript fingerprints, under the per-session lock.
func (m *Manager) RecordExchange(ctx context.Context, id string, ex memory.Exchange, newFingerprints []string) error {
	release := m.acquire(id)
	defer release()

	if err := m.store.AppendExchange(ctx, id, ex, newFingerprints, memory.DefaultHistoryLimit); err != nil {
		return fmt.Errorf("session: append %s: %w", id, err)
	}
	return nil
}

// Reset clears the session's history and delivered fingerprints, keeping
// the session row.
func (m *Manager) Reset(ctx context.Context, id string) error {
	release := m.acquire(id)
	defer release()

	if err := m.store.ResetSession(ctx, id); err != nil {
		return fmt.Errorf("session: reset %s: %w", id, err)
	}
	m.logger.Info("session reset", "session_id", id)
	return nil
}

// Delete removes the session entirely.
func (m *Manager) Delete(ctx context.Context, id string) error {
	release := m.acquire(id)
	defer release()

	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	m.logger.Info("session deleted", "session_id", id)
	return nil
}
