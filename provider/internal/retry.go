package internal

import (
	"context"
	"time"
)

// BaseDelay is the first backoff delay; it doubles after every failed attempt.
var BaseDelay = 100 * time.Millisecond

// Retry calls fn up to maxAttempts times with exponential backoff
// (100ms, 200ms, 400ms, 800ms, ...). Only idempotent calls (describe, list,
// lookups) may be retried: creation requests are billable and are never
// repeated. Returns ctx.Err() if the context is cancelled during a backoff.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := RetryResult(ctx, maxAttempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryResult is like Retry but for functions that return a value.
func RetryResult[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(BaseDelay * time.Duration(1<<i)):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}
