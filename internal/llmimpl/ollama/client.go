// Package ollama provides the local Ollama implementation of llm.LLMClient.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"shortlist/pkg/config"
	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
)

const providerName = "ollama"

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a client for model on hostURL (e.g. http://localhost:11434).
// The "ollama:" model prefix used for provider inference is stripped.
func NewOllamaClient(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(config.DefaultOllamaHostURL)
	}
	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  strings.TrimPrefix(model, "ollama:"),
	}
}

func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		role := string(messages[i].Role)
		if role == "" {
			role = string(llm.RoleUser)
		}
		result = append(result, api.Message{Role: role, Content: messages[i].Content})
	}
	return result, nil
}

// Complete implements llm.LLMClient.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := false
	options := map[string]any{"temperature": in.Temperature}
	if in.MaxTokens > 0 {
		options["num_predict"] = in.MaxTokens
	}
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if in.JSON {
		req.Format = json.RawMessage(`"json"`)
	}

	var response api.ChatResponse
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if strings.TrimSpace(response.Message.Content) == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	stop := response.DoneReason
	if stop == "" {
		stop = "stop"
	}
	return llm.CompletionResponse{Content: response.Message.Content, StopReason: stop}, nil
}

// GetModelName implements llm.LLMClient.
func (o *Client) GetModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not found - run 'ollama pull' first")
		}
		return llmerrors.Classify(err, statusErr.StatusCode, providerName)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "ollama server not reachable")
	}
	return llmerrors.Classify(err, 0, providerName)
}
