package errors

import (
	"context"
	"time"
)

// RetryConfig controls the single-retry backoff applied to transport
// failures at LLM call sites.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryConfig retries once after a short backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 2, Backoff: 500 * time.Millisecond}
}

// RetryWithResult runs fn, retrying retryable failures up to
// config.MaxAttempts total attempts with a fixed backoff between them.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(config.Backoff):
		}
	}
	return zero, lastErr
}
