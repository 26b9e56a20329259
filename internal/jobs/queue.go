// Package jobs runs ingestion asynchronously: uploads are enqueued on a
// Redis list and a worker pool drains it, running the ingestion pipeline
// once per attempt. Retries happen at the job level, bounded by the job
// row's retry budget; the pipeline itself is never retried inside an
// attempt.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list the ingestion jobs live on.
const DefaultQueueKey = "mnemovox:jobs:ingest"

// Job is the queued payload. The heavyweight state (status, attempts)
// lives in the bookkeeping row; the payload only carries what a worker
// needs to start.
type Job struct {
	ID          string `json:"id"`
	RecordingID string `json:"recording_id"`
	UserID      string `json:"user_id"`
	Filename    string `json:"filename"`
	Language    string `json:"language,omitempty"`
	AudioKey    string `json:"audio_key"`
}

// Queue is the transport the worker pool drains.
type Queue interface {
	// Enqueue pushes a job onto the queue.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue pops the oldest job, blocking up to wait. Returns nil with a
	// nil error when the wait elapses empty.
	Dequeue(ctx context.Context, wait time.Duration) (*Job, error)

	// HealthCheck verifies the queue backend is reachable.
	HealthCheck(ctx context.Context) error
}

// RedisQueue is the production [Queue] on a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue on the given list key; empty key uses
// [DefaultQueueKey].
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue implements [Queue].
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobs: marshal %s: %w", job.ID, err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("jobs: enqueue %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue implements [Queue].
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("jobs: dequeue: unexpected reply of %d elements", len(res))
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("jobs: decode payload: %w", err)
	}
	return &job, nil
}

// HealthCheck implements [Queue].
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("jobs: redis ping: %w", err)
	}
	return nil
}

// Len returns the queue depth.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("jobs: queue length: %w", err)
	}
	return n, nil
}
