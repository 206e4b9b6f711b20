package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
)

func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectRoles  []llm.CompletionRole
		expectErr    bool
	}{
		{
			name:      "empty",
			expectErr: true,
		},
		{
			name: "system extracted",
			input: []llm.CompletionMessage{
				llm.NewSystemMessage("be brief"),
				llm.NewSystemMessage("be kind"),
				llm.NewUserMessage("hi"),
			},
			expectSystem: "be brief\n\nbe kind",
			expectRoles:  []llm.CompletionRole{llm.RoleUser},
		},
		{
			name: "consecutive users merged",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("a"),
				llm.NewUserMessage("b"),
				llm.NewAssistantMessage("c"),
				llm.NewUserMessage("d"),
			},
			expectRoles: []llm.CompletionRole{llm.RoleUser, llm.RoleAssistant, llm.RoleUser},
		},
		{
			name: "leading assistant folded into system",
			input: []llm.CompletionMessage{
				llm.NewAssistantMessage("welcome"),
				llm.NewUserMessage("hi"),
			},
			expectSystem: "Previous assistant message: welcome",
			expectRoles:  []llm.CompletionRole{llm.RoleUser},
		},
		{
			name: "ending on assistant rejected",
			input: []llm.CompletionMessage{
				llm.NewUserMessage("hi"),
				llm.NewAssistantMessage("hello"),
			},
			expectErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := ensureAlternation(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectSystem, system)
			roles := make([]llm.CompletionRole, len(msgs))
			for i := range msgs {
				roles[i] = msgs[i].Role
			}
			assert.Equal(t, tt.expectRoles, roles)
		})
	}
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5",
			"content":[{"type":"text","text":"three kettles"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	client := NewClaudeClient("test-key", "claude-haiku-4-5", option.WithBaseURL(srv.URL))
	resp, err := client.Complete(context.Background(), llm.Prompt("You compare products.", "list kettles"))
	require.NoError(t, err)
	assert.Equal(t, "three kettles", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "claude-haiku-4-5", client.GetModelName())
	assert.Equal(t, "claude-haiku-4-5", received["model"])
	assert.NotNil(t, received["system"])
}

func TestCompleteClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	client := NewClaudeClient("test-key", "claude-haiku-4-5", option.WithBaseURL(srv.URL))
	_, err := client.Complete(context.Background(), llm.Prompt("", "hi"))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
}
