// Package limiter throttles LLM calls with a tokens-per-minute bucket and a cap on
// concurrent requests.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimit is returned by Reserve when the bucket cannot cover the request.
var ErrRateLimit = errors.New("rate limit exceeded")

// Config bounds one model's usage. Zero values disable the corresponding limit.
type Config struct {
	TokensPerMinute int `yaml:"tokens_per_minute"`
	MaxConcurrent   int `yaml:"max_concurrent"`
}

// Limiter enforces Config for a single client.
type Limiter struct {
	maxTokensPerMinute int
	currentTokens      int
	lastRefill         time.Time
	mu                 sync.Mutex

	slots chan struct{}
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	l := &Limiter{
		maxTokensPerMinute: cfg.TokensPerMinute,
		currentTokens:      cfg.TokensPerMinute,
		now:                time.Now,
		sleep:              sleepCtx,
	}
	l.lastRefill = l.now()
	if cfg.MaxConcurrent > 0 {
		l.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return l
}

// Enabled reports whether any limit is configured.
func (l *Limiter) Enabled() bool {
	return l.maxTokensPerMinute > 0 || l.slots != nil
}

// Reserve takes tokens from the bucket without waiting. A request larger than the whole
// bucket is charged as a full bucket so it can still run once the bucket is full.
func (l *Limiter) Reserve(tokens int) error {
	if l.maxTokensPerMinute <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillTokens()
	if tokens > l.maxTokensPerMinute {
		tokens = l.maxTokensPerMinute
	}
	if l.currentTokens < tokens {
		return ErrRateLimit
	}
	l.currentTokens -= tokens
	return nil
}

// Wait reserves tokens, sleeping until the next refill as often as needed.
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	for {
		err := l.Reserve(tokens)
		if !errors.Is(err, ErrRateLimit) {
			return err
		}
		if err := l.sleep(ctx, l.untilRefill()); err != nil {
			return err
		}
	}
}

// Acquire takes a concurrency slot. The returned func releases it.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.slots == nil {
		return func() {}, nil
	}
	select {
	case l.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.slots }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Available returns the tokens left in the bucket.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillTokens()
	return l.currentTokens
}

func (l *Limiter) untilRefill() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.lastRefill.Add(time.Minute).Sub(l.now())
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (l *Limiter) refillTokens() {
	elapsed := l.now().Sub(l.lastRefill)
	if elapsed < time.Minute {
		return
	}
	// Refill tokens for each minute that has passed.
	minutes := int(elapsed / time.Minute)
	l.currentTokens += minutes * l.maxTokensPerMinute
	if l.currentTokens > l.maxTokensPerMinute {
		l.currentTokens = l.maxTokensPerMinute
	}
	// Update refill time to the last complete minute.
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
