package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemovox/mnemovox/internal/blob"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Ingestor runs one ingestion attempt. *ingest.Pipeline satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, rec types.Recording, wav []byte) error
}

const (
	defaultWorkers    = 2
	defaultPollWait   = 5 * time.Second
	defaultJobTimeout = 10 * time.Minute
)

// Pool drains the queue with a fixed number of workers.
type Pool struct {
	queue    Queue
	catalog  memory.Catalog
	blobs    blob.Store
	ingestor Ingestor
	logger   *slog.Logger

	workers    int
	pollWait   time.Duration
	jobTimeout time.Duration
}

// PoolOption is a functional option for [NewPool].
type PoolOption func(*Pool)

// WithWorkers sets the worker count.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithJobTimeout bounds one ingestion attempt.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

// withPollWait shortens the dequeue block in tests.
func withPollWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollWait = d }
}

// NewPool creates a worker pool.
func NewPool(queue Queue, catalog memory.Catalog, blobs blob.Store, ingestor Ingestor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:      queue,
		catalog:    catalog,
		blobs:      blobs,
		ingestor:   ingestor,
		logger:     logger.With("component", "jobs"),
		workers:    defaultWorkers,
		pollWait:   defaultPollWait,
		jobTimeout: defaultJobTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run blocks, draining the queue until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.loop(gctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx, p.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "error", err)
			sleepCtx(ctx, p.pollWait)
			continue
		}
		if job == nil {
			continue
		}
		p.process(ctx, logger, *job)
	}
}

// process runs one attempt. The pipeline is never retried within the
// attempt; a failed job goes back on the queue until its budget runs out.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, job Job) {
	row, err := p.catalog.MarkJobRunning(ctx, job.ID)
	if err != nil {
		logger.Error("cannot mark job running, dropping it", "job_id", job.ID, "error", err)
		return
	}
	logger.Info("ingestion attempt starting",
		"job_id", job.ID,
		"recording_id", job.RecordingID,
		"attempt", row.Attempts,
		"max_attempts", row.MaxAttempts,
	)

	err = p.attempt(ctx, job)
	if err == nil {
		if markErr := p.catalog.MarkJobDone(ctx, job.ID); markErr != nil {
			logger.Error("job finished but status update failed", "job_id", job.ID, "error", markErr)
		}
		logger.Info("ingestion complete", "job_id", job.ID, "recording_id", job.RecordingID)
		return
	}

	if markErr := p.catalog.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
		logger.Error("cannot record job failure", "job_id", job.ID, "error", markErr)
	}
	if row.Attempts >= row.MaxAttempts {
		logger.Error("job exhausted its retry budget",
			"job_id", job.ID,
			"recording_id", job.RecordingID,
			"attempts", row.Attempts,
			"error", err,
		)
		return
	}

	logger.Warn("ingestion attempt failed, requeueing",
		"job_id", job.ID,
		"attempt", row.Attempts,
		"error", err,
	)
	if enqErr := p.queue.Enqueue(context.WithoutCancel(ctx), job); enqErr != nil {
		logger.Error("requeue failed, job stalls until resubmitted", "job_id", job.ID, "error", enqErr)
	}
}

func (p *Pool) attempt(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	wav, err := p.blobs.Load(ctx, job.AudioKey)
	if err != nil {
		return fmt.Errorf("jobs: load audio %s: %w", job.AudioKey, err)
	}
	rec := types.Recording{
		ID:       job.RecordingID,
		UserID:   job.UserID,
		Filename: job.Filename,
		Language: job.Language,
	}
	return p.ingestor.Ingest(ctx, rec, wav)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
