// Package middleware provides resilience and observability middleware for LLM clients.
package middleware

import (
	"context"
	"errors"
	"time"

	"shortlist/pkg/limiter"
	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
	"shortlist/pkg/logx"
	"shortlist/pkg/metrics"
	"shortlist/pkg/resilience/circuit"
	"shortlist/pkg/resilience/retry"
	"shortlist/pkg/tokens"
)

// ShouldRetry retries rate limits, transient failures and empty responses. Unclassified
// errors are classified by message first.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch llmerrors.Classify(err, 0, "llm").Type {
	case llmerrors.ErrorTypeRateLimit, llmerrors.ErrorTypeTransient, llmerrors.ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Retry wraps a client with retry logic. Exhausting attempts on a retryable error
// yields an llmerrors ServiceUnavailable error.
func Retry(config retry.Config) llm.Middleware {
	logger := logx.NewLogger("llm-retry")
	return func(next llm.LLMClient) llm.LLMClient {
		policy := retry.NewPolicy(config, ShouldRetry)
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warn("🔁 %s attempt %d after %v: %v", next.GetModelName(), attempt, delay, err)
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := retry.Do(ctx, policy, func(ctx context.Context) (llm.CompletionResponse, error) {
					return next.Complete(ctx, req)
				})
				var exhausted *retry.ExhaustedError
				if errors.As(err, &exhausted) {
					return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(exhausted.Err, exhausted.Attempts)
				}
				return resp, err
			},
			next.GetModelName,
		)
	}
}

// Circuit rejects calls while breaker is open. Only provider-side failures count against
// it; a bad prompt says nothing about provider health.
func Circuit(breaker *circuit.Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := breaker.Allow(); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeServiceUnavailable, err, err.Error())
				}
				resp, err := next.Complete(ctx, req)
				breaker.Record(err == nil || !(ShouldRetry(err) || llmerrors.IsServiceUnavailable(err)))
				return resp, err
			},
			next.GetModelName,
		)
	}
}

// Metrics records request counts, token usage and latency for every completion.
func Metrics(recorder metrics.Recorder) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err != nil {
					recorder.ObserveLLMRequest(next.GetModelName(), 0, 0, false, llmerrors.TypeOf(err).String(), duration)
					return resp, err
				}

				promptTokens := 0
				for i := range req.Messages {
					promptTokens += tokens.Count(req.Messages[i].Content)
				}
				recorder.ObserveLLMRequest(next.GetModelName(), promptTokens, tokens.Count(resp.Content), true, "", duration)
				return resp, nil
			},
			next.GetModelName,
		)
	}
}

// Timeout bounds each completion call.
func Timeout(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if d <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}

// RateLimit holds each call until l has a free slot and enough tokens for the prompt.
func RateLimit(l *limiter.Limiter) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if l == nil || !l.Enabled() {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				release, err := l.Acquire(ctx)
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()

				estimate := req.MaxTokens
				for i := range req.Messages {
					estimate += tokens.Count(req.Messages[i].Content)
				}
				if err := l.Wait(ctx, estimate); err != nil {
					return llm.CompletionResponse{}, err
				}
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
