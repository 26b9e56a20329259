package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Default: 2 (one bounded retry).
	Attempts int

	// Delay is the pause between tries. Default: 200ms.
	Delay time.Duration
}

// Retry runs fn up to cfg.Attempts times, pausing cfg.Delay between tries.
// It is intended for idempotent reads only; write paths retry at the job
// level instead. Context cancellation aborts the wait and returns ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", cfg.Attempts, lastErr)
}
