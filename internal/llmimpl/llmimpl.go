// Package llmimpl builds a configured, middleware-wrapped LLM client for the selected provider.
package llmimpl

import (
	"fmt"

	"shortlist/internal/llmimpl/anthropic"
	"shortlist/internal/llmimpl/google"
	"shortlist/internal/llmimpl/ollama"
	"shortlist/internal/llmimpl/openai"
	"shortlist/pkg/config"
	"shortlist/pkg/limiter"
	"shortlist/pkg/llm"
	"shortlist/pkg/llm/middleware"
	"shortlist/pkg/metrics"
	"shortlist/pkg/resilience/circuit"
)

// NewRawClient returns the provider client for cfg without middleware.
func NewRawClient(cfg config.LLMConfig) (llm.LLMClient, error) {
	provider := cfg.Provider
	if provider == "" {
		p, err := config.GetModelProvider(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to determine provider for model %s: %w", cfg.Model, err)
		}
		provider = p
	}

	if provider == config.ProviderOllama {
		host := cfg.OllamaHost
		if host == "" {
			h, _ := config.GetAPIKey(config.ProviderOllama)
			host = h
		}
		return ollama.NewOllamaClient(host, cfg.Model), nil
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClient(apiKey, cfg.Model), nil
	case config.ProviderOpenAI:
		return openai.NewClient(apiKey, cfg.Model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClient(apiKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// NewClient returns the provider client wrapped as
// RateLimit -> Metrics -> Circuit -> Retry -> Timeout -> raw client.
func NewClient(cfg config.LLMConfig, recorder metrics.Recorder) (llm.LLMClient, error) {
	raw, err := NewRawClient(cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(raw, cfg, recorder), nil
}

// Wrap applies the standard middleware chain to any client.
func Wrap(raw llm.LLMClient, cfg config.LLMConfig, recorder metrics.Recorder) llm.LLMClient {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return llm.Chain(raw,
		middleware.RateLimit(limiter.New(cfg.RateLimit)),
		middleware.Metrics(recorder),
		middleware.Circuit(circuit.New("llm:"+raw.GetModelName(), circuit.DefaultConfig)),
		middleware.Retry(cfg.Retry),
		middleware.Timeout(cfg.Timeout),
	)
}
