package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebooker/internal/engine"
)

var errFlaky = errors.New("flaky step")

func TestRetryStopsAfterConfiguredAttempts(t *testing.T) {
	const delay = 10 * time.Millisecond
	var calls []time.Time

	n, err := engine.Retry(context.Background(), engine.RetryPolicy{Attempts: 3, Delay: delay}, func(context.Context, int) error {
		calls = append(calls, time.Now())
		return fmt.Errorf("step: %w", errFlaky)
	}, engine.RetryOptions{})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, n)
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), delay)
	}
}

func TestRetryReturnsOnSuccess(t *testing.T) {
	var failures []int
	n, err := engine.Retry(context.Background(), engine.RetryPolicy{Attempts: 4, Delay: time.Millisecond}, func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errFlaky
		}
		return nil
	}, engine.RetryOptions{OnFailure: func(attempt int, _ error) { failures = append(failures, attempt) }})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2}, failures)
}

func TestRetryDoesNotRepeatFinalErrors(t *testing.T) {
	for _, final := range []error{engine.ErrValidationFailed, engine.ErrTimeout, context.Canceled} {
		calls := 0
		n, err := engine.Retry(context.Background(), engine.RetryPolicy{Attempts: 3, Delay: time.Millisecond}, func(context.Context, int) error {
			calls++
			return fmt.Errorf("wrapped: %w", final)
		}, engine.RetryOptions{})
		require.ErrorIs(t, err, final)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, calls)
	}
}

func TestRetryReestablishesContextBeforeEachRetry(t *testing.T) {
	var reopened []int
	_, err := engine.Retry(context.Background(), engine.RetryPolicy{Attempts: 3, Delay: time.Millisecond}, func(context.Context, int) error {
		return errFlaky
	}, engine.RetryOptions{BeforeRetry: func(_ context.Context, attempt int) error {
		reopened = append(reopened, attempt)
		return nil
	}})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, []int{2, 3}, reopened)
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := engine.Retry(ctx, engine.RetryPolicy{Attempts: 5, Delay: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errFlaky
	}, engine.RetryOptions{})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestWithWatchdogExpires(t *testing.T) {
	abandoned := make(chan struct{})
	start := time.Now()
	err := engine.WithWatchdog(context.Background(), 20*time.Millisecond, "2024-05-06", func(ctx context.Context) error {
		<-ctx.Done()
		close(abandoned)
		return ctx.Err()
	})
	require.ErrorIs(t, err, engine.ErrTimeout)
	assert.Contains(t, err.Error(), "2024-05-06")
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not cancel the abandoned work")
	}
}

func TestWithWatchdogReturnsResult(t *testing.T) {
	err := engine.WithWatchdog(context.Background(), time.Second, "item", func(context.Context) error {
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.NoError(t, engine.WithWatchdog(context.Background(), 0, "item", func(context.Context) error { return nil }))
}
