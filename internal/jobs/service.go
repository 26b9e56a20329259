package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mnemovox/mnemovox/internal/blob"
	"github.com/mnemovox/mnemovox/pkg/memory"
)

// DefaultMaxAttempts is the retry budget for a new ingestion job.
const DefaultMaxAttempts = 3

// Deleter removes one recording's content from both stores.
// *ingest.Writer satisfies it.
type Deleter interface {
	Delete(ctx context.Context, recordingID string) error
}

// Service is the submission side of the job layer: it persists the audio
// blob, creates the bookkeeping rows, and enqueues the work.
type Service struct {
	queue   Queue
	catalog memory.Catalog
	blobs   blob.Store
	deleter Deleter
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(queue Queue, catalog memory.Catalog, blobs blob.Store, deleter Deleter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:   queue,
		catalog: catalog,
		blobs:   blobs,
		deleter: deleter,
		logger:  logger.With("component", "jobs"),
	}
}

// Submit stores the audio and queues an ingestion job, returning the new
// recording and job ids.
func (s *Service) Submit(ctx context.Context, userID, filename, language string, wav []byte) (recordingID, jobID string, err error) {
	if len(wav) == 0 {
		return "", "", fmt.Errorf("jobs: submit: empty audio")
	}
	recordingID = uuid.NewString()
	jobID = uuid.NewString()

	key, err := s.blobs.Save(ctx, recordingID+".wav", wav)
	if err != nil {
		return "", "", fmt.Errorf("jobs: submit: %w", err)
	}

	err = s.catalog.CreateRecording(ctx, memory.RecordingRecord{
		ID:        recordingID,
		UserID:    userID,
		Filename:  filename,
		Language:  language,
		Status:    memory.RecordingPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", "", fmt.Errorf("jobs: submit: recording row: %w", err)
	}

	err = s.catalog.CreateJob(ctx, memory.JobRecord{
		ID:          jobID,
		RecordingID: recordingID,
		Status:      memory.JobQueued,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return "", "", fmt.Errorf("jobs: submit: job row: %w", err)
	}

	err = s.queue.Enqueue(ctx, Job{
		ID:          jobID,
		RecordingID: recordingID,
		UserID:      userID,
		Filename:    filename,
		Language:    language,
		AudioKey:    key,
	})
	if err != nil {
		return "", "", fmt.Errorf("jobs: submit: %w", err)
	}

	s.logger.Info("ingestion job queued", "job_id", jobID, "recording_id", recordingID, "user_id", userID)
	return recordingID, jobID, nil
}

// JobStatus fetches the bookkeeping row for a job.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*memory.JobRecord, error) {
	return s.catalog.GetJob(ctx, jobID)
}

// RecordingStatus fetches the bookkeeping row for a recording.
func (s *Service) RecordingStatus(ctx context.Context, recordingID string) (*memory.RecordingRecord, error) {
	return s.catalog.GetRecording(ctx, recordingID)
}

// DeleteRecording cascades: content leaves both stores first, then the
// audio blob, then the bookkeeping row.
func (s *Service) DeleteRecording(ctx context.Context, recordingID string) error {
	if _, err := s.catalog.GetRecording(ctx, recordingID); err != nil {
		return fmt.Errorf("jobs: delete recording %s: %w", recordingID, err)
	}
	if err := s.deleter.Delete(ctx, recordingID); err != nil {
		return fmt.Errorf("jobs: delete recording %s: %w", recordingID, err)
	}
	if err := s.blobs.Delete(ctx, recordingID+".wav"); err != nil {
		s.logger.Warn("audio blob removal failed", "recording_id", recordingID, "error", err)
	}
	if err := s.catalog.DeleteRecording(ctx, recordingID); err != nil {
		return fmt.Errorf("jobs: delete recording %s: %w", recordingID, err)
	}
	s.logger.Info("recording deleted", "recording_id", recordingID)
	return nil
}
