// Package llmtest provides scripted LLM clients for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"shortlist/pkg/llm"
)

// Rule answers any request whose prompt text contains Match.
type Rule struct {
	Match    string
	Response string
	Err      error
}

// Client is a scripted llm.LLMClient. Rules are checked in order against the full
// prompt text; the first match wins. Unmatched requests get Default / DefaultErr.
type Client struct {
	Rules      []Rule
	Default    string
	DefaultErr error

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// New returns a client with the given rules.
func New(rules ...Rule) *Client {
	return &Client{Rules: rules}
}

// Failing returns a client whose every call fails with err.
func Failing(err error) *Client {
	return &Client{DefaultErr: err}
}

func (c *Client) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, in)
	c.mu.Unlock()

	text := in.Text()
	for _, r := range c.Rules {
		if strings.Contains(text, r.Match) {
			if r.Err != nil {
				return llm.CompletionResponse{}, r.Err
			}
			return llm.CompletionResponse{Content: r.Response, StopReason: "end_turn"}, nil
		}
	}
	if c.DefaultErr != nil {
		return llm.CompletionResponse{}, c.DefaultErr
	}
	return llm.CompletionResponse{Content: c.Default, StopReason: "end_turn"}, nil
}

func (c *Client) GetModelName() string {
	return "scripted"
}

// Calls returns how many requests were made.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// CallsMatching counts requests whose prompt contains s.
func (c *Client) CallsMatching(s string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if strings.Contains(r.Text(), s) {
			n++
		}
	}
	return n
}
