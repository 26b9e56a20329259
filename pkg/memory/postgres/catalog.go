package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// CreateRecording implements [memory.Catalog].
func (s *Store) CreateRecording(ctx context.Context, rec memory.RecordingRecord) error {
	const q = `
		INSERT INTO recordings
		    (id, user_id, filename, language, status, chunk_total, error, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	status := rec.Status
	if status == "" {
		status = memory.RecordingPending
	}
	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.UserID,
		rec.Filename,
		rec.Language,
		string(status),
		rec.ChunkTotal,
		rec.Error,
		rec.Transcript,
	)
	if err != nil {
		return fmt.Errorf("catalog: create recording %q: %w", rec.ID, err)
	}
	return nil
}

// GetRecording implements [memory.Catalog].
func (s *Store) GetRecording(ctx context.Context, id string) (*memory.RecordingRecord, error) {
	const q = `
		SELECT id, user_id, filename, language, status, chunk_total, error,
		       transcript, created_at, updated_at
		FROM   recordings
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("catalog: get recording %q: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecording)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog: get recording %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get recording %q: %w", id, err)
	}
	return &rec, nil
}

// SetRecordingIngested implements [memory.Catalog]. Flipping the status to
// "ingested" is the last step of a successful ingestion and the point where
// the recording becomes visible to retrieval.
func (s *Store) SetRecordingIngested(ctx context.Context, id string, chunkTotal int, transcript string) error {
	const q = `
		UPDATE recordings
		SET    status = $2, chunk_total = $3, transcript = $4, error = '', updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, string(memory.RecordingIngested), chunkTotal, transcript)
	if err != nil {
		return fmt.Errorf("catalog: mark recording %q ingested: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: mark recording %q ingested: %w", id, memory.ErrNotFound)
	}
	return nil
}

// SetRecordingFailed implements [memory.Catalog].
func (s *Store) SetRecordingFailed(ctx context.Context, id string, cause string) error {
	const q = `
		UPDATE recordings
		SET    status = $2, error = $3, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, string(memory.RecordingFailed), cause)
	if err != nil {
		return fmt.Errorf("catalog: mark recording %q failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: mark recording %q failed: %w", id, memory.ErrNotFound)
	}
	return nil
}

// DeleteRecording implements [memory.Catalog]. Deleting an unknown recording
// is not an error.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("catalog: delete recording %q: %w", id, err)
	}
	return nil
}

// RecentTranscripts implements [memory.Catalog]. Only ingested recordings
// qualify; results arrive newest first.
func (s *Store) RecentTranscripts(ctx context.Context, userID string, cutoff time.Time, limit int) ([]types.Transcript, error) {
	const q = `
		SELECT id, user_id, transcript, language, created_at
		FROM   recordings
		WHERE  user_id = $1
		  AND  status = $2
		  AND  created_at > $3
		ORDER  BY created_at DESC
		LIMIT  $4`

	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, q, userID, string(memory.RecordingIngested), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: recent transcripts: %w", err)
	}

	transcripts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Transcript, error) {
		var t types.Transcript
		if err := row.Scan(&t.RecordingID, &t.UserID, &t.Text, &t.Language, &t.CreatedAt); err != nil {
			return types.Transcript{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan transcripts: %w", err)
	}
	if transcripts == nil {
		transcripts = []types.Transcript{}
	}
	return transcripts, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ingestion jobs
// ─────────────────────────────────────────────────────────────────────────────

// CreateJob implements [memory.Catalog].
func (s *Store) CreateJob(ctx context.Context, job memory.JobRecord) error {
	const q = `
		INSERT INTO ingest_jobs (id, recording_id, status, attempts, max_attempts, error)
		VALUES ($1, $2, $3, $4, $5, $6)`

	status := job.Status
	if status == "" {
		status = memory.JobQueued
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	_, err := s.pool.Exec(ctx, q,
		job.ID, job.RecordingID, string(status), job.Attempts, maxAttempts, job.Error)
	if err != nil {
		return fmt.Errorf("catalog: create job %q: %w", job.ID, err)
	}
	return nil
}

// GetJob implements [memory.Catalog].
func (s *Store) GetJob(ctx context.Context, id string) (*memory.JobRecord, error) {
	const q = `
		SELECT id, recording_id, status, attempts, max_attempts, error, created_at, updated_at
		FROM   ingest_jobs
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("catalog: get job %q: %w", id, err)
	}
	job, err := pgx.CollectExactlyOneRow(rows, scanJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog: get job %q: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get job %q: %w", id, err)
	}
	return &job, nil
}

// MarkJobRunning implements [memory.Catalog].
func (s *Store) MarkJobRunning(ctx context.Context, id string) (*memory.JobRecord, error) {
	const q = `
		UPDATE ingest_jobs
		SET    status = $2, attempts = attempts + 1, updated_at = now()
		WHERE  id = $1
		RETURNING id, recording_id, status, attempts, max_attempts, error, created_at, updated_at`

	rows, err := s.pool.Query(ctx, q, id, string(memory.JobRunning))
	if err != nil {
		return nil, fmt.Errorf("catalog: mark job %q running: %w", id, err)
	}
	job, err := pgx.CollectExactlyOneRow(rows, scanJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog: mark job %q running: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: mark job %q running: %w", id, err)
	}
	return &job, nil
}

// MarkJobDone implements [memory.Catalog].
func (s *Store) MarkJobDone(ctx context.Context, id string) error {
	return s.setJobStatus(ctx, id, memory.JobDone, "")
}

// MarkJobFailed implements [memory.Catalog].
func (s *Store) MarkJobFailed(ctx context.Context, id string, cause string) error {
	return s.setJobStatus(ctx, id, memory.JobFailed, cause)
}

func (s *Store) setJobStatus(ctx context.Context, id string, status memory.JobStatus, cause string) error {
	const q = `
		UPDATE ingest_jobs
		SET    status = $2, error = $3, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, string(status), cause)
	if err != nil {
		return fmt.Errorf("catalog: set job %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: set job %q status: %w", id, memory.ErrNotFound)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanRecording(row pgx.CollectableRow) (memory.RecordingRecord, error) {
	var (
		rec    memory.RecordingRecord
		status string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Filename,
		&rec.Language,
		&status,
		&rec.ChunkTotal,
		&rec.Error,
		&rec.Transcript,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return memory.RecordingRecord{}, err
	}
	rec.Status = memory.RecordingStatus(status)
	return rec, nil
}

func scanJob(row pgx.CollectableRow) (memory.JobRecord, error) {
	var (
		job    memory.JobRecord
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.RecordingID,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return memory.JobRecord{}, err
	}
	job.Status = memory.JobStatus(status)
	return job, nil
}
