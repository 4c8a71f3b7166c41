package engine

import (
	"context"
	"fmt"
	"time"
)

// RetryOptions hooks into Retry.
type RetryOptions struct {
	// BeforeRetry runs before every attempt after the first, e.g. to re-open a sub-form.
	// Its error counts as that attempt's failure.
	BeforeRetry func(ctx context.Context, attempt int) error
	// OnFailure is told about every failed attempt.
	OnFailure func(attempt int, err error)
}

// Retry runs fn up to policy.Attempts times and returns the last error on exhaustion.
// Errors that are not Retryable stop the loop at once.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error, opts RetryOptions) (int, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, policy.backoff(attempt-1)); err != nil {
				return attempt - 1, lastErr
			}
		}
		err := ctx.Err()
		if err == nil && attempt > 1 && opts.BeforeRetry != nil {
			err = opts.BeforeRetry(ctx, attempt)
		}
		if err == nil {
			err = fn(ctx, attempt)
		}
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if opts.OnFailure != nil {
			opts.OnFailure(attempt, err)
		}
		if !Retryable(err) || ctx.Err() != nil {
			return attempt, err
		}
	}
	return attempts, lastErr
}

// WithWatchdog races fn against a wall-clock deadline. On expiry it returns ErrTimeout
// without waiting for fn; fn sees its context cancelled and is abandoned.
func WithWatchdog(ctx context.Context, d time.Duration, label string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(wctx)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: %s exceeded %s", ErrTimeout, label, d)
	case <-ctx.Done():
		return ctx.Err()
	}
}
