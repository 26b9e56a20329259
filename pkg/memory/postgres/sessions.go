package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// GetSession implements [memory.SessionStore]. The delivered fingerprints are
// loaded alongside the history in delivery order.
func (s *Store) GetSession(ctx context.Context, id string) (*memory.Session, error) {
	const q = `
		SELECT id, user_id, history, created_at, updated_at
		FROM   sessions
		WHERE  id = $1`

	var (
		sess    memory.Session
		history []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.UserID, &history, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session store: get session %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get session %q: %w", id, err)
	}
	if err := json.Unmarshal(history, &sess.History); err != nil {
		return nil, fmt.Errorf("session store: decode history %q: %w", id, err)
	}

	const fq = `
		SELECT fingerprint
		FROM   session_fingerprints
		WHERE  session_id = $1
		ORDER  BY delivered_at, fingerprint`

	rows, err := s.pool.Query(ctx, fq, id)
	if err != nil {
		return nil, fmt.Errorf("session store: get fingerprints %q: %w", id, err)
	}
	fingerprints, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("session store: scan fingerprints %q: %w", id, err)
	}
	sess.DeliveredFingerprints = fingerprints
	return &sess, nil
}

// CreateSession implements [memory.SessionStore].
func (s *Store) CreateSession(ctx context.Context, id, userID string) (*memory.Session, error) {
	const q = `
		INSERT INTO sessions (id, user_id)
		VALUES ($1, $2)
		RETURNING id, user_id, created_at, updated_at`

	var sess memory.Session
	err := s.pool.QueryRow(ctx, q, id, userID).Scan(
		&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("session store: create session %q: %w", id, err)
	}
	sess.History = []memory.Exchange{}
	sess.DeliveredFingerprints = []string{}
	return &sess, nil
}

// AppendExchange implements [memory.SessionStore]. The history update and the
// fingerprint inserts run in one transaction: either both land or neither
// does. History is truncated to the historyLimit most recent exchanges;
// already-recorded fingerprints are silently skipped.
func (s *Store) AppendExchange(ctx context.Context, sessionID string, ex memory.Exchange, newFingerprints []string, historyLimit int) error {
	if historyLimit <= 0 {
		historyLimit = memory.DefaultHistoryLimit
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var history []byte
	err = tx.QueryRow(ctx,
		`SELECT history FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&history)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session store: append to %q: %w", sessionID, memory.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("session store: lock session %q: %w", sessionID, err)
	}

	var exchanges []memory.Exchange
	if err := json.Unmarshal(history, &exchanges); err != nil {
		return fmt.Errorf("session store: decode history %q: %w", sessionID, err)
	}
	exchanges = append(exchanges, ex)
	if len(exchanges) > historyLimit {
		exchanges = exchanges[len(exchanges)-historyLimit:]
	}
	encoded, err := json.Marshal(exchanges)
	if err != nil {
		return fmt.Errorf("session store: encode history %q: %w", sessionID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET history = $2, updated_at = now() WHERE id = $1`,
		sessionID, encoded); err != nil {
		return fmt.Errorf("session store: update history %q: %w", sessionID, err)
	}

	for _, fp := range newFingerprints {
		if fp == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_fingerprints (session_id, fingerprint)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, sessionID, fp); err != nil {
			return fmt.Errorf("session store: record fingerprint %q: %w", sessionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session store: commit append %q: %w", sessionID, err)
	}
	return nil
}

// ResetSession implements [memory.SessionStore].
func (s *Store) ResetSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session store: begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET history = '[]', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("session store: reset session %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session store: reset session %q: %w", id, memory.ErrNotFound)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM session_fingerprints WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("session store: reset fingerprints %q: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session store: commit reset %q: %w", id, err)
	}
	return nil
}

// DeleteSession implements [memory.SessionStore]. The fingerprint rows go
// away via ON DELETE CASCADE.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("session store: delete session %q: %w", id, err)
	}
	return nil
}
