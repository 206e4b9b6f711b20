package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyErr struct{ retry bool }

func (e flakyErr) Error() string      { return fmt.Sprintf("flaky(retry=%v)", e.retry) }
func (e flakyErr) IsRetryable() bool { return e.retry }

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}, nil)
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, ShouldRetry(nil))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.False(t, ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, ShouldRetry(errors.New("plain")))
	assert.True(t, ShouldRetry(flakyErr{retry: true}))
	assert.True(t, ShouldRetry(fmt.Errorf("wrapped: %w", flakyErr{retry: true})))
	assert.False(t, ShouldRetry(flakyErr{retry: false}))
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)

	assert.Equal(t, time.Duration(0), p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4), "capped at MaxDelay")
}

func TestCalculateDelayJitterStaysNear(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2, Jitter: true}, nil)
	for i := 0; i < 20; i++ {
		d := p.CalculateDelay(2)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", flakyErr{retry: true}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoFailsFastOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, flakyErr{retry: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, flakyErr{retry: true}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.True(t, errors.As(err, new(flakyErr)))
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, nil)

	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, flakyErr{retry: true}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestOnRetryHook(t *testing.T) {
	p := fastPolicy(2)
	var seen []int
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) }

	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, flakyErr{retry: true}
	})
	assert.Equal(t, []int{2}, seen)
}
