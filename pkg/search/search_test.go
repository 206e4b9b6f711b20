package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/resilience/circuit"
	"shortlist/pkg/resilience/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(StatusError("ddg", 429, errors.New("slow down"))))
	assert.True(t, IsTransient(StatusError("ddg", 503, errors.New("down"))))
	assert.False(t, IsTransient(StatusError("google", 403, errors.New("forbidden"))))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("bad query")))
	assert.False(t, IsTransient(nil))
}

func TestWithRetryRetriesTransientOnly(t *testing.T) {
	var calls atomic.Int32
	flaky := Func(func(_ context.Context, _ string, _ int) ([]Result, error) {
		if calls.Add(1) < 3 {
			return nil, StatusError("test", 500, errors.New("boom"))
		}
		return []Result{{Title: "ok"}}, nil
	})

	results, err := WithRetry(flaky, fastRetry).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	permanent := Func(func(_ context.Context, _ string, _ int) ([]Result, error) {
		calls.Add(1)
		return nil, StatusError("test", 400, errors.New("bad"))
	})
	_, err = WithRetry(permanent, fastRetry).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	down := Func(func(_ context.Context, _ string, _ int) ([]Result, error) {
		calls.Add(1)
		return nil, StatusError("test", 502, errors.New("bad gateway"))
	})
	_, err := WithRetry(down, fastRetry).Search(context.Background(), "q", 5)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithCache(t *testing.T) {
	var calls atomic.Int32
	s := Func(func(_ context.Context, q string, _ int) ([]Result, error) {
		calls.Add(1)
		if q == "fail" {
			return nil, errors.New("nope")
		}
		return []Result{{Title: q}}, nil
	})
	cached := WithCache(s, time.Minute)

	_, err := cached.Search(context.Background(), "Best Kettle", 10)
	require.NoError(t, err)
	r, err := cached.Search(context.Background(), "  best   kettle ", 10)
	require.NoError(t, err)
	assert.Equal(t, "Best Kettle", r[0].Title)
	assert.Equal(t, int32(1), calls.Load())

	// a different result count is a different query
	_, _ = cached.Search(context.Background(), "best kettle", 5)
	assert.Equal(t, int32(2), calls.Load())

	// failures are not cached
	_, err = cached.Search(context.Background(), "fail", 10)
	require.Error(t, err)
	_, _ = cached.Search(context.Background(), "fail", 10)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 2, cached.(*Cache).Len())

	_, isCache := WithCache(s, 0).(*Cache)
	assert.False(t, isCache)
}

func TestWithBreakerOpensOnTransientFailures(t *testing.T) {
	var calls atomic.Int32
	down := Func(func(_ context.Context, _ string, _ int) ([]Result, error) {
		calls.Add(1)
		return nil, StatusError("test", 503, errors.New("down"))
	})
	b := circuit.New("search:test", circuit.Config{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Hour})
	s := WithBreaker(down, b)

	for i := 0; i < 2; i++ {
		_, err := s.Search(context.Background(), "q", 5)
		require.Error(t, err)
	}
	_, err := s.Search(context.Background(), "q", 5)
	require.ErrorIs(t, err, circuit.ErrOpen)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}
