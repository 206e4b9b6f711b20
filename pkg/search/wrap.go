package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"shortlist/pkg/logx"
	"shortlist/pkg/resilience/circuit"
	"shortlist/pkg/resilience/retry"
)

// WithRetry retries transient failures of s under cfg.
func WithRetry(s Searcher, cfg retry.Config) Searcher {
	policy := retry.NewPolicy(cfg, IsTransient)
	logger := logx.NewLogger("search-retry")
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("🔁 %s attempt %d after %v: %v", s.Name(), attempt, delay, err)
	}
	return &retrying{next: s, policy: policy}
}

type retrying struct {
	next   Searcher
	policy *retry.Policy
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]Result, error) {
		return r.next.Search(ctx, query, maxResults)
	})
}

// Cache memoizes successful searches. Queries are keyed case- and whitespace-insensitively.
type Cache struct {
	next  Searcher
	store *gocache.Cache
}

// WithCache caches results of s for ttl. A non-positive ttl disables caching.
func WithCache(s Searcher, ttl time.Duration) Searcher {
	if ttl <= 0 {
		return s
	}
	return &Cache{next: s, store: gocache.New(ttl, 2*ttl)}
}

// Name implements Searcher.
func (c *Cache) Name() string { return c.next.Name() }

// Search implements Searcher.
func (c *Cache) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	key := fmt.Sprintf("%d|%s", maxResults, strings.Join(strings.Fields(strings.ToLower(query)), " "))
	if v, ok := c.store.Get(key); ok {
		cached, _ := v.([]Result)
		return append([]Result(nil), cached...), nil
	}
	results, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	c.store.SetDefault(key, append([]Result(nil), results...))
	return results, nil
}

// Len returns the number of cached queries.
func (c *Cache) Len() int { return c.store.ItemCount() }

// WithBreaker fails fast while b is open. Only transient failures count against it.
func WithBreaker(s Searcher, b *circuit.Breaker) Searcher {
	return &breaking{next: s, breaker: b}
}

type breaking struct {
	next    Searcher
	breaker *circuit.Breaker
}

func (b *breaking) Name() string { return b.next.Name() }

func (b *breaking) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := b.breaker.Allow(); err != nil {
		return nil, &Error{Provider: b.next.Name(), Err: err}
	}
	results, err := b.next.Search(ctx, query, maxResults)
	var exhausted *retry.ExhaustedError
	failed := err != nil && (IsTransient(err) || errors.As(err, &exhausted))
	if err != nil && errors.Is(err, context.Canceled) {
		return nil, err
	}
	b.breaker.Record(!failed)
	return results, err
}
