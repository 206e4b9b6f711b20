// Package openai provides the OpenAI implementation of llm.LLMClient on the Responses API.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"shortlist/pkg/config"
	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
)

const providerName = "openai"

// Client wraps the official OpenAI client. Middleware is applied by the caller.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw OpenAI client for model.
func NewClient(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// buildInput splits system messages into instructions and flattens the rest.
func buildInput(messages []llm.CompletionMessage, wantJSON bool) (instructions, input string) {
	var sys []string
	var body strings.Builder
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			sys = append(sys, msg.Content)
		case llm.RoleAssistant:
			body.WriteString("Assistant: " + msg.Content + "\n\n")
		default:
			body.WriteString(msg.Content + "\n\n")
		}
	}
	if wantJSON {
		sys = append(sys, "Respond with a single JSON document and nothing else.")
	}
	return strings.Join(sys, "\n\n"), strings.TrimSpace(body.String())
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := buildInput(in.Messages, in.JSON)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "request has no user content")
	}

	// Cap to the model's output limit to avoid 400s.
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if info, ok := config.KnownModels[c.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if in.Temperature > 0 {
		params.Temperature = openai.Float(float64(in.Temperature))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return llm.CompletionResponse{}, llmerrors.Classify(err, apiErr.StatusCode, providerName)
		}
		return llm.CompletionResponse{}, llmerrors.Classify(err, 0, providerName)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	return llm.CompletionResponse{Content: resp.OutputText(), StopReason: string(resp.Status)}, nil
}

// GetModelName implements llm.LLMClient.
func (c *Client) GetModelName() string {
	return c.model
}
