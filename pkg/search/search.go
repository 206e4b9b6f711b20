// Package search defines the web search capability used for product discovery and the
// retry, cache and circuit-breaker wrappers every provider is served through.
package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DefaultMaxResults is the per-query result count requested from providers.
const DefaultMaxResults = 10

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is a web search backend.
type Searcher interface {
	// Name returns a short provider name for logs and metrics.
	Name() string
	// Search runs query and returns up to maxResults hits.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Func adapts a function to Searcher.
type Func func(ctx context.Context, query string, maxResults int) ([]Result, error)

// Name implements Searcher.
func (f Func) Name() string { return "func" }

// Search implements Searcher.
func (f Func) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return f(ctx, query, maxResults)
}

// Error is a provider failure that knows whether it is worth retrying.
type Error struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s search failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s search failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable implements retry.Retryable.
func (e *Error) IsRetryable() bool { return e.Transient }

// StatusError classifies an HTTP status: 429 and 5xx are transient.
func StatusError(provider string, status int, err error) *Error {
	return &Error{
		Provider:   provider,
		StatusCode: status,
		Transient:  status == 429 || status == 202 || status >= 500,
		Err:        err,
	}
}

// IsTransient reports whether err is a retryable search failure. Network errors and
// per-call timeouts count; cancellation and permanent provider errors do not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "eof")
}
