// Package searchimpl builds the configured web searcher with its resilience wrappers.
package searchimpl

import (
	"shortlist/internal/searchimpl/duckduckgo"
	"shortlist/internal/searchimpl/google"
	"shortlist/pkg/config"
	"shortlist/pkg/logx"
	"shortlist/pkg/resilience/circuit"
	"shortlist/pkg/search"
)

// NewRawSearcher returns the provider selected by cfg without wrappers.
func NewRawSearcher(cfg config.SearchConfig) search.Searcher {
	status := config.DetectSearchAPIs(cfg)
	if status.Provider == config.SearchProviderGoogle {
		return google.New(status.GoogleAPIKey, status.GoogleCX, cfg.Region, cfg.Timeout)
	}
	return duckduckgo.New(cfg.Region, cfg.Timeout)
}

// New returns the configured searcher wrapped as Cache -> Breaker -> Retry -> provider.
func New(cfg config.SearchConfig) search.Searcher {
	raw := NewRawSearcher(cfg)
	logx.NewLogger("search").Info("🔎 Web search via %s (region %s)", raw.Name(), cfg.Region)
	return Wrap(raw, cfg)
}

// Wrap applies the standard wrappers to any searcher. One exhausted retry cycle counts as a
// single breaker failure.
func Wrap(raw search.Searcher, cfg config.SearchConfig) search.Searcher {
	s := search.WithRetry(raw, cfg.Retry)
	s = search.WithBreaker(s, circuit.New("search:"+raw.Name(), circuit.DefaultConfig))
	return search.WithCache(s, cfg.CacheTTL)
}
