package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
)

func TestBuildInput(t *testing.T) {
	instructions, input := buildInput([]llm.CompletionMessage{
		llm.NewSystemMessage("You compare kettles."),
		llm.NewUserMessage("cheap ones"),
		llm.NewAssistantMessage("how cheap?"),
		llm.NewUserMessage("under 50"),
	}, true)

	assert.Equal(t, "You compare kettles.\n\nRespond with a single JSON document and nothing else.", instructions)
	assert.Equal(t, "cheap ones\n\nAssistant: how cheap?\n\nunder 50", input)
}

func TestCompleteRejectsEmptyInput(t *testing.T) {
	client := NewClient("k", "gpt-4o-mini")
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewSystemMessage("only system")}))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func TestCompleteClassifiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	client := NewClient("bad", "gpt-4o-mini", option.WithBaseURL(srv.URL))
	_, err := client.Complete(context.Background(), llm.Prompt("", "hi"))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Equal(t, "gpt-4o-mini", client.GetModelName())
}
