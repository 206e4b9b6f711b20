// Package explorer discovers candidate products for a set of requirements. It plans a
// diverse set of web searches, runs them in parallel, extracts product names from the
// results and proposes the comparison fields for the table.
package explorer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"shortlist/pkg/config"
	"shortlist/pkg/llm"
	"shortlist/pkg/logx"
	"shortlist/pkg/metrics"
	"shortlist/pkg/requirements"
	"shortlist/pkg/search"
	"shortlist/pkg/table"
	"shortlist/pkg/templates"
)

var (
	// ErrNoCandidates is returned when every search failed or nothing could be extracted.
	ErrNoCandidates = errors.New("no candidate products found")
	// ErrTableFull is returned when the existing table already holds MaxCandidates rows.
	ErrTableFull = errors.New("comparison table is at its candidate cap")
)

// Options bounds one exploration.
type Options struct {
	MinQueries       int
	MaxQueries       int
	TargetCandidates int
	MinCandidates    int
	MaxCandidates    int
	MaxParallel      int
	SearchTimeout    time.Duration
	ResultsPerQuery  int
	Region           string
}

// DefaultOptions returns the bounds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinQueries:       10,
		MaxQueries:       15,
		TargetCandidates: 30,
		MinCandidates:    20,
		MaxCandidates:    50,
		MaxParallel:      12,
		SearchTimeout:    30 * time.Second,
		ResultsPerQuery:  search.DefaultMaxResults,
		Region:           "uk",
	}
}

// OptionsFromConfig derives explorer options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.MinQueries = cfg.Explorer.MinQueries
	opts.MaxQueries = cfg.Explorer.MaxQueries
	opts.TargetCandidates = cfg.Explorer.TargetCandidates
	opts.MinCandidates = cfg.Explorer.MinCandidates
	opts.MaxCandidates = cfg.Explorer.MaxCandidates
	opts.MaxParallel = cfg.Search.MaxParallel
	opts.SearchTimeout = cfg.Search.Timeout
	opts.Region = cfg.Search.Region
	return opts.normalize()
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MinQueries <= 0 {
		o.MinQueries = def.MinQueries
	}
	if o.MaxQueries <= 0 {
		o.MaxQueries = def.MaxQueries
	}
	if o.MaxQueries < o.MinQueries {
		o.MaxQueries = o.MinQueries
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = def.MaxCandidates
	}
	if o.TargetCandidates <= 0 || o.TargetCandidates > o.MaxCandidates {
		o.TargetCandidates = min(def.TargetCandidates, o.MaxCandidates)
	}
	if o.MinCandidates < 0 {
		o.MinCandidates = 0
	}
	if o.MaxParallel <= 0 {
		o.MaxParallel = def.MaxParallel
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = def.SearchTimeout
	}
	if o.ResultsPerQuery <= 0 {
		o.ResultsPerQuery = def.ResultsPerQuery
	}
	if o.Region == "" {
		o.Region = def.Region
	}
	return o
}

// Option customizes an Explorer.
type Option func(*Explorer)

// WithOptions replaces the exploration bounds.
func WithOptions(opts Options) Option {
	return func(e *Explorer) { e.opts = opts.normalize() }
}

// WithKnowledge replaces the embedded category knowledge base.
func WithKnowledge(kb *Knowledge) Option {
	return func(e *Explorer) { e.kb = kb }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Explorer) { e.recorder = r }
}

// WithClock overrides the clock used for the current year in queries.
func WithClock(now func() time.Time) Option {
	return func(e *Explorer) { e.now = now }
}

// Explorer plans and runs discovery searches.
type Explorer struct {
	llm      llm.LLMClient
	searcher search.Searcher
	kb       *Knowledge
	renderer *templates.Renderer
	recorder metrics.Recorder
	logger   *logx.Logger
	opts     Options
	now      func() time.Time
}

// New creates an Explorer over an LLM client and a searcher.
func New(client llm.LLMClient, searcher search.Searcher, options ...Option) *Explorer {
	e := &Explorer{
		llm:      client,
		searcher: searcher,
		kb:       DefaultKnowledge(),
		renderer: templates.Default(),
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("explorer"),
		opts:     DefaultOptions(),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// ExploreOptions adjusts a single exploration.
type ExploreOptions struct {
	// SkipFields leaves Result.Fields empty, for runs that extend an existing table.
	SkipFields bool
	// Target overrides TargetCandidates when positive.
	Target int
}

// Result is the outcome of one exploration.
type Result struct {
	Candidates    []table.Candidate
	Fields        []table.FieldDefinition
	Plan          Plan
	FailedQueries int
	// Dropped counts duplicates, known rows, and candidates beyond the cap.
	Dropped int
}

// Explore plans queries for reqs, runs them with bounded parallelism under the aggregate
// search timeout, and returns deduplicated candidates that are not already rows of
// existing. Individual search failures are logged and counted; only a run that yields no
// candidates at all is an error.
func (e *Explorer) Explore(ctx context.Context, reqs requirements.Requirements, existing *table.Table, eo ExploreOptions) (Result, error) {
	start := time.Now()

	remaining := e.opts.MaxCandidates
	if existing != nil {
		remaining -= existing.RowCount()
	}
	if remaining <= 0 {
		return Result{}, ErrTableFull
	}
	limit := e.opts.TargetCandidates
	if eo.Target > 0 {
		limit = eo.Target
	}
	limit = min(limit, remaining)

	sc := e.buildContext(reqs)
	plan := e.PlanQueries(ctx, reqs)
	res := Result{Plan: plan}

	found, failed := e.runQueries(ctx, sc, plan.Queries)
	res.FailedQueries = failed

	var all []table.Candidate
	for _, cands := range found {
		all = append(all, cands...)
	}
	res.Candidates, res.Dropped = Dedupe(all, existing, limit)
	e.recorder.ObserveCandidates(len(res.Candidates))

	e.logger.Info("🔎 Explored %s: %d queries (%d failed), %d raw, %d candidates in %v",
		sc.productType(), len(plan.Queries), failed, len(all), len(res.Candidates), time.Since(start).Round(time.Millisecond))

	if len(res.Candidates) == 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, ErrNoCandidates
	}
	if len(res.Candidates) < e.opts.MinCandidates && (existing == nil || existing.RowCount() == 0) {
		e.logger.Warn("⚠️  Only %d candidates found for %s (wanted %d)", len(res.Candidates), sc.productType(), e.opts.MinCandidates)
	}

	if !eo.SkipFields {
		res.Fields = e.ProposeFields(ctx, reqs)
	}
	return res, nil
}

// runQueries searches every query concurrently and extracts candidates per query. Results
// are returned in plan order so deduplication is deterministic.
func (e *Explorer) runQueries(ctx context.Context, sc searchContext, queries []Query) ([][]table.Candidate, int) {
	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	found := make([][]table.Candidate, len(queries))
	var failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(e.opts.MaxParallel)
	for i, q := range queries {
		g.Go(func() error {
			began := time.Now()
			results, err := e.searcher.Search(searchCtx, q.Text, e.opts.ResultsPerQuery)
			e.recorder.ObserveSearch(string(q.Angle), len(results), err == nil, time.Since(began))
			if err != nil {
				failed.Add(1)
				e.logger.Warn("⚠️  Search failed (%s) %q: %v", q.Angle, q.Text, err)
				return nil
			}
			found[i] = e.extractCandidates(ctx, sc, q, results)
			e.logger.Debug("query %q: %d results, %d candidates", q.Text, len(results), len(found[i]))
			return nil
		})
	}
	_ = g.Wait()
	return found, int(failed.Load())
}
