package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/metrics"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// RetryPolicy bounds how often a store call is attempted. The wait before
// attempt n+1 is n times Backoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p *RetryPolicy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultRetryBackoff
	}
}

// IsTransientError reports whether a gRPC failure is worth retrying:
// unavailability, timeouts, aborts and rate limiting.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if ingesterr.IsTransient(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retryOperation runs op until it succeeds, fails permanently, or the
// attempts run out. Exhausted transient failures come back as a
// TransientStoreError carrying the attempt count.
func retryOperation(ctx context.Context, p RetryPolicy, backend, name string, log *zap.Logger, op func(context.Context) error) error {
	p.applyDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		start := time.Now()
		err = op(ctx)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		metrics.StoreOpDuration.WithLabelValues(backend, name, outcome).Observe(time.Since(start).Seconds())

		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", name, err)
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := time.Duration(attempt) * p.Backoff
		log.Warn("store operation failed, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		metrics.StoreRetriesTotal.WithLabelValues(backend, name).Inc()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(wait):
		}
	}
	return &ingesterr.TransientStoreError{Op: name, Attempts: p.MaxAttempts, Err: err}
}
