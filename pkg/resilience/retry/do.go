package retry

import (
	"context"
	"fmt"
	"time"
)

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// When the last attempt still fails with a retryable error the result is wrapped in
// *ExhaustedError.
func Do[T any](ctx context.Context, policy *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.CalculateDelay(attempt)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.ShouldRetry(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Err: lastErr, Attempts: policy.Config.MaxAttempts}
}
