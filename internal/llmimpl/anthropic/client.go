// Package anthropic provides the Claude implementation of llm.LLMClient.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shortlist/pkg/llm"
	"shortlist/pkg/llmerrors"
)

const providerName = "anthropic"

// ClaudeClient wraps the Anthropic Messages API. Middleware is applied by the caller.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a raw Claude client for model.
func NewClaudeClient(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation lifts system messages into the system prompt and merges consecutive
// user turns, since the Messages API requires strict user/assistant alternation starting
// and ending with a user turn.
func ensureAlternation(messages []llm.CompletionMessage) (string, []llm.CompletionMessage, error) {
	var systemParts []string
	var merged []llm.CompletionMessage
	var userParts []string

	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
			userParts = nil
		}
	}

	for i := range messages {
		msg := messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant:
			flush()
			if len(merged) == 0 {
				// A leading assistant turn has nothing to answer; fold it into context.
				systemParts = append(systemParts, "Previous assistant message: "+msg.Content)
				continue
			}
			if merged[len(merged)-1].Role == llm.RoleAssistant {
				merged[len(merged)-1].Content += "\n\n" + msg.Content
				continue
			}
			merged = append(merged, msg)
		default:
			userParts = append(userParts, msg.Content)
		}
	}
	flush()

	if len(merged) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}
	return strings.Join(systemParts, "\n\n"), merged, nil
}

// Complete implements llm.LLMClient.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	system, messages, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(orDefault(in.MaxTokens, llm.DefaultMaxTokens)),
		Messages:  make([]anthropic.MessageParam, 0, len(messages)),
	}
	if in.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(in.Temperature))
	}
	if system != "" {
		if in.JSON {
			system += "\n\nRespond with a single JSON document and nothing else."
		}
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	for i := range messages {
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(messages[i].Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(messages[i].Content)},
		})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return llm.CompletionResponse{Content: text.String(), StopReason: string(resp.StopReason)}, nil
}

// GetModelName implements llm.LLMClient.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

func classifyError(err error) *llmerrors.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.StatusCode, providerName)
	}
	return llmerrors.Classify(err, 0, providerName)
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
