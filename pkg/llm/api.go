// Package llm provides interfaces and types for Large Language Model client implementations.
package llm

import (
	"context"
	"fmt"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the assistant.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// TemperatureDefault is used for conversational turns and narratives.
	TemperatureDefault = 0.7

	// TemperatureExtraction is used for structured extraction and classification.
	TemperatureExtraction = 0.2

	// DefaultMaxTokens caps ordinary completions.
	DefaultMaxTokens = 4096
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
	// JSON asks the provider for a JSON document when it supports a native mode.
	JSON bool
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // Keep name consistent with provider adapters
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this LLM client.
	GetModelName() string
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// Prompt builds a request from an optional system prompt and a single user prompt.
func Prompt(system, user string) CompletionRequest {
	msgs := make([]CompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, NewSystemMessage(system))
	}
	msgs = append(msgs, NewUserMessage(user))
	return NewCompletionRequest(msgs)
}

// Text joins every message into one prompt, for providers that only take a single input.
func (r CompletionRequest) Text() string {
	var out string
	for i := range r.Messages {
		msg := &r.Messages[i]
		switch msg.Role {
		case RoleSystem:
			out += fmt.Sprintf("System: %s\n\n", msg.Content)
		case RoleAssistant:
			out += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		default:
			out += msg.Content + "\n\n"
		}
	}
	return out
}
