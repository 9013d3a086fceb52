package booking

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how often a transaction aborted by ErrConflict is
// re-run. Backoff is exponential from Base with 20% jitter.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// DefaultRetryPolicy is five attempts starting at 10ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Base: 10 * time.Millisecond}
}

// Do runs fn until it succeeds, fails with a non-conflict error, or the
// attempt budget is spent. onRetry, if set, is called before each re-run.
func (p RetryPolicy) Do(ctx context.Context, op string, onRetry func(), fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Base <= 0 {
		p.Base = 10 * time.Millisecond
	}

	backoff := retry.NewExponential(p.Base)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(p.MaxAttempts-1), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && onRetry != nil {
			onRetry()
		}
		err := fn(ctx)
		if err != nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && IsRetryable(err) {
		return &ConflictError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}
