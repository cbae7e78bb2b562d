package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docingest/internal/ingesterr"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	return ingesterr.IsTransient(err)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// withRetry calls fn up to MaxRetries times while it fails with a retryable
// error, sleeping backoff(attempt) between tries.
func withRetry[T any](ctx context.Context, backoff func(int) time.Duration, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, error) {
	var (
		val T
		err error
	)
	for attempt := range MaxRetries {
		val, err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return val, ctx.Err()
		}
	}
	return val, err
}
