package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/limiter"
	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
	"shortlist/pkg/metrics"
	"shortlist/pkg/resilience/circuit"
	"shortlist/pkg/resilience/retry"
)

type stubClient struct {
	errs  []error
	calls int
}

func (s *stubClient) Complete(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.calls++
	if ctx.Err() != nil {
		return llm.CompletionResponse{}, ctx.Err()
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return llm.CompletionResponse{}, err
		}
	}
	return llm.CompletionResponse{Content: "done"}, nil
}

func (s *stubClient) GetModelName() string { return "stub" }

var fast = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down")))
	assert.True(t, ShouldRetry(errors.New("connection reset by peer")))
	assert.True(t, ShouldRetry(context.DeadlineExceeded))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.False(t, ShouldRetry(llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")))
	assert.False(t, ShouldRetry(errors.New("something odd")))
	assert.False(t, ShouldRetry(nil))
}

func TestRetryRecoversFromTransient(t *testing.T) {
	stub := &stubClient{errs: []error{llmerrors.NewError(llmerrors.ErrorTypeTransient, "503"), nil}}
	client := llm.Chain(stub, Retry(fast))

	resp, err := client.Complete(context.Background(), llm.Prompt("", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 2, stub.calls)
}

func TestRetryExhaustedBecomesServiceUnavailable(t *testing.T) {
	rl := llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")
	stub := &stubClient{errs: []error{rl, rl, rl}}
	client := llm.Chain(stub, Retry(fast))

	_, err := client.Complete(context.Background(), llm.Prompt("", "hi"))
	require.Error(t, err)
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 3, stub.calls)
}

func TestRetryDoesNotRetryPermanent(t *testing.T) {
	stub := &stubClient{errs: []error{llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long")}}
	client := llm.Chain(stub, Retry(fast))

	_, err := client.Complete(context.Background(), llm.Prompt("", "hi"))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
	assert.Equal(t, 1, stub.calls)
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := llm.WrapClient(func(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		<-ctx.Done()
		return llm.CompletionResponse{}, ctx.Err()
	}, func() string { return "slow" })

	_, err := llm.Chain(slow, Timeout(5*time.Millisecond)).Complete(context.Background(), llm.Prompt("", "hi"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingRecorder struct {
	metrics.NoopRecorder
	ok, failed int
}

func (c *countingRecorder) ObserveLLMRequest(_ string, _, _ int, success bool, _ string, _ time.Duration) {
	if success {
		c.ok++
	} else {
		c.failed++
	}
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &countingRecorder{}
	stub := &stubClient{errs: []error{errors.New("boom"), nil}}
	client := llm.Chain(stub, Metrics(rec))

	_, _ = client.Complete(context.Background(), llm.Prompt("", "one"))
	_, _ = client.Complete(context.Background(), llm.Prompt("", "two"))
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.failed)
}

func TestCircuitOpensOnProviderFailures(t *testing.T) {
	transient := llmerrors.NewError(llmerrors.ErrorTypeTransient, "502")
	stub := &stubClient{errs: []error{transient, transient, transient}}
	breaker := circuit.New("llm", circuit.Config{FailureThreshold: 2, Cooldown: time.Hour})
	client := llm.Chain(stub, Circuit(breaker))

	_, _ = client.Complete(context.Background(), llm.Prompt("", "a"))
	_, _ = client.Complete(context.Background(), llm.Prompt("", "b"))
	_, err := client.Complete(context.Background(), llm.Prompt("", "c"))

	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 2, stub.calls)
}

func TestCircuitIgnoresBadPrompts(t *testing.T) {
	bad := llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long")
	stub := &stubClient{errs: []error{bad, bad, bad}}
	breaker := circuit.New("llm", circuit.Config{FailureThreshold: 1, Cooldown: time.Hour})
	client := llm.Chain(stub, Circuit(breaker))

	for i := 0; i < 3; i++ {
		_, _ = client.Complete(context.Background(), llm.Prompt("", "x"))
	}
	assert.Equal(t, circuit.Closed, breaker.State())
	assert.Equal(t, 3, stub.calls)
}

func TestRateLimitPassesThroughWhenDisabled(t *testing.T) {
	stub := &stubClient{}
	client := llm.Chain(stub, RateLimit(limiter.New(limiter.Config{})))
	assert.Same(t, stub, client)

	client = llm.Chain(stub, RateLimit(nil))
	assert.Same(t, stub, client)
}

func TestRateLimitChargesPromptAndBudget(t *testing.T) {
	l := limiter.New(limiter.Config{TokensPerMinute: 100_000, MaxConcurrent: 2})
	stub := &stubClient{}
	client := llm.Chain(stub, RateLimit(l))

	req := llm.Prompt("", "hello there")
	req.MaxTokens = 500
	_, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.Less(t, l.Available(), 100_000-500)
}

func TestRateLimitCanceledWhileWaiting(t *testing.T) {
	l := limiter.New(limiter.Config{TokensPerMinute: 10})
	require.NoError(t, l.Reserve(10))
	stub := &stubClient{}
	client := llm.Chain(stub, RateLimit(l))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, llm.Prompt("", "hi"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, stub.calls)
}
