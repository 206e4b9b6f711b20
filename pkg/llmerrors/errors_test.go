package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrorTypeRateLimit, true},
		{ErrorTypeTransient, true},
		{ErrorTypeEmptyResponse, true},
		{ErrorTypeUnknown, true},
		{ErrorTypeAuth, false},
		{ErrorTypeBadPrompt, false},
		{ErrorTypeServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.errType.String(), func(t *testing.T) {
			assert.Equal(t, tt.retryable, NewError(tt.errType, "x").IsRetryable())
		})
	}
}

func TestClassifyByStatus(t *testing.T) {
	raw := errors.New("boom")
	assert.Equal(t, ErrorTypeAuth, Classify(raw, 401, "test").Type)
	assert.Equal(t, ErrorTypeRateLimit, Classify(raw, 429, "test").Type)
	assert.Equal(t, ErrorTypeBadPrompt, Classify(raw, 400, "test").Type)
	assert.Equal(t, ErrorTypeTransient, Classify(raw, 503, "test").Type)
	assert.Equal(t, 503, Classify(raw, 503, "test").StatusCode)
}

func TestClassifyByMessage(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, Classify(errors.New("Rate limit exceeded"), 0, "p").Type)
	assert.Equal(t, ErrorTypeTransient, Classify(errors.New("connection reset by peer"), 0, "p").Type)
	assert.Equal(t, ErrorTypeAuth, Classify(errors.New("invalid API key"), 0, "p").Type)
	assert.Equal(t, ErrorTypeBadPrompt, Classify(errors.New("model llama9 not found"), 0, "p").Type)
	assert.Equal(t, ErrorTypeUnknown, Classify(errors.New("weird"), 0, "p").Type)
	assert.Equal(t, ErrorTypeTransient, Classify(fmt.Errorf("call: %w", context.DeadlineExceeded), 0, "p").Type)
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := NewError(ErrorTypeEmptyResponse, "nothing")
	wrapped := fmt.Errorf("outer: %w", orig)
	assert.Same(t, orig, Classify(wrapped, 500, "p"))
}

func TestServiceUnavailableWrapsCause(t *testing.T) {
	cause := NewError(ErrorTypeTransient, "503")
	err := NewServiceUnavailableError(cause, 3)

	assert.True(t, IsServiceUnavailable(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, ErrorTypeServiceUnavailable, TypeOf(fmt.Errorf("wrap: %w", err)))
}
