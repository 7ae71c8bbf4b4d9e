package ingestion

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
)

// RetryPolicy governs retries for writes the ingestion engine classifies as
// safe to retry (kvstore.IsRetryable): TransientIO and TransactionConflict.
// ConditionFailed and Validation errors are never retried here.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy provides "at least 10 attempts for
// transient classes" with jittered exponential backoff, the same shape as
// the worker pool's jittered poll interval.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// Do runs fn, retrying while it returns a retryable kvstore error, up to
// MaxAttempts, with jittered exponential backoff between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !kvstore.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d) + 1))
	return jitter
}
