package llmimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/config"
	"shortlist/pkg/llm"
	"shortlist/pkg/llm/llmtest"
	"shortlist/pkg/llmerrors"
	"shortlist/pkg/resilience/retry"
)

func TestNewRawClientPicksProvider(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "a")
	t.Setenv(config.EnvOpenAIAPIKey, "o")
	t.Setenv(config.EnvGoogleAPIKey, "g")

	tests := []struct {
		model string
		name  string
	}{
		{config.ModelClaudeHaiku, config.ModelClaudeHaiku},
		{config.ModelGPT4oMini, config.ModelGPT4oMini},
		{config.ModelGeminiFlash, config.ModelGeminiFlash},
		{"ollama:phi4", "phi4"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			client, err := NewRawClient(config.LLMConfig{Model: tt.model})
			require.NoError(t, err)
			assert.Equal(t, tt.name, client.GetModelName())
		})
	}
}

func TestNewRawClientMissingKey(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")
	_, err := NewRawClient(config.LLMConfig{Model: config.ModelClaudeSonnet})
	assert.ErrorContains(t, err, "API key")

	_, err = NewRawClient(config.LLMConfig{Model: "mystery"})
	assert.Error(t, err)
}

func TestWrapRetriesTransientErrors(t *testing.T) {
	fake := llmtest.New(llmtest.Rule{Match: "hi", Err: llmerrors.NewError(llmerrors.ErrorTypeTransient, "502")})
	cfg := config.LLMConfig{Retry: retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}}

	_, err := Wrap(fake, cfg, nil).Complete(context.Background(), llm.Prompt("", "hi"))
	assert.True(t, llmerrors.IsServiceUnavailable(err))
	assert.Equal(t, 2, fake.Calls())
}
