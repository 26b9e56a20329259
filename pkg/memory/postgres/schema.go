// Package postgres provides the relational bookkeeping of Mnemovox: the
// recording catalog, the ingestion job table, and conversation sessions with
// their delivered-transcript fingerprints.
//
// All tables share a single [pgxpool.Pool]. The session history/fingerprint
// pair is updated inside one transaction so that a crash can never leave a
// transcript emitted but unrecorded.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.CreateRecording(ctx, rec)
//	_ = store.AppendExchange(ctx, sessionID, ex, fingerprints, memory.DefaultHistoryLimit)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL DEFAULT '',
    filename    TEXT         NOT NULL DEFAULT '',
    language    TEXT         NOT NULL DEFAULT '',
    status      TEXT         NOT NULL DEFAULT 'pending',
    chunk_total INTEGER      NOT NULL DEFAULT 0,
    error       TEXT         NOT NULL DEFAULT '',
    transcript  TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recordings_user_status
    ON recordings (user_id, status);

CREATE INDEX IF NOT EXISTS idx_recordings_created_at
    ON recordings (created_at);
`

const ddlJobs = `
CREATE TABLE IF NOT EXISTS ingest_jobs (
    id           TEXT         PRIMARY KEY,
    recording_id TEXT         NOT NULL,
    status       TEXT         NOT NULL DEFAULT 'queued',
    attempts     INTEGER      NOT NULL DEFAULT 0,
    max_attempts INTEGER      NOT NULL DEFAULT 3,
    error        TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ingest_jobs_recording
    ON ingest_jobs (recording_id);

CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status
    ON ingest_jobs (status);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL DEFAULT '',
    history     JSONB        NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_fingerprints (
    session_id   TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    fingerprint  TEXT         NOT NULL,
    delivered_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_session_fingerprints_session
    ON session_fingerprints (session_id);
`

// Migrate creates or ensures all bookkeeping tables exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlRecordings,
		ddlJobs,
		ddlSessions,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
