package enricher

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"shortlist/pkg/explorer"
	"shortlist/pkg/llm"
	"shortlist/pkg/logx"
	"shortlist/pkg/search"
	"shortlist/pkg/table"
	"shortlist/pkg/templates"
)

type currencyKey struct{}

// WithCurrency attaches the session currency used in enrichment prompts.
func WithCurrency(ctx context.Context, currency string) context.Context {
	return context.WithValue(ctx, currencyKey{}, currency)
}

// CurrencyFrom returns the currency set by WithCurrency, or "£".
func CurrencyFrom(ctx context.Context) string {
	if c, ok := ctx.Value(currencyKey{}).(string); ok && c != "" {
		return c
	}
	return "£"
}

type requirementsKey struct{}

// WithRequirements attaches the requirement summary used to judge meets_requirements.
func WithRequirements(ctx context.Context, summary string) context.Context {
	return context.WithValue(ctx, requirementsKey{}, summary)
}

func requirementsFrom(ctx context.Context) string {
	s, _ := ctx.Value(requirementsKey{}).(string)
	return s
}

// SourceResults is how many search hits ground each product's prompt.
const SourceResults = 5

// LLMBackend extracts field values with one completion per product, running rows in
// parallel. With a searcher, each product is looked up first and the hits are given to
// the model as sources.
type LLMBackend struct {
	client   llm.LLMClient
	searcher search.Searcher
	renderer *templates.Renderer
	workers  int
	logger   *logx.Logger
}

// BackendOption configures an LLMBackend.
type BackendOption func(*LLMBackend)

// WithSearcher grounds every row in web search results.
func WithSearcher(s search.Searcher) BackendOption {
	return func(b *LLMBackend) { b.searcher = s }
}

// NewLLMBackend creates a backend over client with at most workers concurrent rows.
func NewLLMBackend(client llm.LLMClient, workers int, options ...BackendOption) *LLMBackend {
	if workers <= 0 {
		workers = 8
	}
	b := &LLMBackend{
		client:   client,
		renderer: templates.Default(),
		workers:  workers,
		logger:   logx.NewLogger("enricher"),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// EnrichBatch implements Backend. A failing row is reported in its RowResult; the call
// itself only fails when every row failed or ctx ended.
func (b *LLMBackend) EnrichBatch(ctx context.Context, targets []Target, fields []table.FieldDefinition) (BatchResult, error) {
	results := make([]RowResult, len(targets))
	currency := CurrencyFrom(ctx)
	reqs := requirementsFrom(ctx)

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, t := range targets {
		g.Go(func() error {
			res, err := b.enrichRow(ctx, t, fields, currency, reqs)
			if err != nil {
				results[i] = RowResult{Err: err.Error()}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(BatchResult, len(targets))
	failed := 0
	var firstErr string
	for i, t := range targets {
		out[t.RowID] = results[i]
		if results[i].Err != "" {
			failed++
			if firstErr == "" {
				firstErr = results[i].Err
			}
		}
	}
	if len(targets) > 0 && failed == len(targets) {
		return nil, fmt.Errorf("all %d rows failed: %s", failed, firstErr)
	}
	return out, nil
}

// SourceQuery is the search run to ground one product.
func SourceQuery(c table.Candidate) string {
	q := c.Name
	if c.Manufacturer != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(c.Manufacturer)) {
		q = c.Manufacturer + " " + q
	}
	return q + " specs"
}

// sources searches for the product. A failed search is logged and the row falls back to
// model knowledge.
func (b *LLMBackend) sources(ctx context.Context, c table.Candidate) []search.Result {
	if b.searcher == nil {
		return nil
	}
	results, err := b.searcher.Search(ctx, SourceQuery(c), SourceResults)
	if err != nil {
		b.logger.Warn("⚠️  Source search for %s failed: %v", c.Name, err)
		return nil
	}
	out := results[:0:0]
	for _, r := range results {
		if r.URL != "" {
			out = append(out, r)
		}
	}
	return out
}

func (b *LLMBackend) enrichRow(ctx context.Context, t Target, fields []table.FieldDefinition, currency, reqs string) (RowResult, error) {
	hits := b.sources(ctx, t.Candidate)
	prompt, err := b.renderer.Render(templates.EnrichRowTemplate, templates.EnrichRowData{
		Product:      t.Candidate,
		Fields:       fields,
		Currency:     currency,
		Requirements: reqs,
		Sources:      hits,
	})
	if err != nil {
		return RowResult{}, err
	}

	var raw map[string]any
	if err := llm.CompleteJSON(ctx, b.client, llm.Prompt("", prompt), &raw); err != nil {
		return RowResult{}, fmt.Errorf("enrich %s: %w", t.Candidate.Name, err)
	}

	values := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := Coerce(raw[f.Name], f.DataType)
		if !ok {
			continue
		}
		if f.Name == table.FieldOfficialURL {
			s, _ := v.(string)
			if !isOfficial(s) {
				b.logger.Debug("dropping non-official URL for %s: %s", t.Candidate.Name, s)
				s = explorer.ResolveOfficialURL(t.Candidate.Name, t.Candidate.Manufacturer, hits)
				if s == "" {
					continue
				}
			}
			v = s
		}
		values[f.Name] = v
	}

	res := RowResult{Values: values}
	for _, h := range hits {
		res.Sources = append(res.Sources, h.URL)
	}
	return res, nil
}

// isOfficial rejects retailer and review URLs the model returns despite instructions.
func isOfficial(u string) bool {
	return strings.HasPrefix(u, "http") && !explorer.IsExcluded(u)
}
