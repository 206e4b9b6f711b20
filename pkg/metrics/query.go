package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ModelUsage is the LLM usage of one model over a window.
type ModelUsage struct {
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
	Failures         int64  `json:"failures"`
}

// Usage aggregates what shortlist did over a window, as scraped by a Prometheus server.
type Usage struct {
	Window        time.Duration    `json:"window"`
	Models        []ModelUsage     `json:"models"`
	Searches      int64            `json:"searches"`
	FailedSearch  int64            `json:"failed_searches"`
	EnrichedCells map[string]int64 `json:"enriched_cells"`
}

// QueryService reads shortlist metrics back from a Prometheus server.
type QueryService struct {
	queryAPI  v1.API
	namespace string
}

// NewQueryService creates a query service for metrics registered under namespace.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI:  v1.NewAPI(client),
		namespace: namespace,
	}, nil
}

func (q *QueryService) metric(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// Usage returns token, request, search and enrichment totals for the last window.
func (q *QueryService) Usage(ctx context.Context, window time.Duration) (*Usage, error) {
	rng := model.Duration(window).String()
	usage := &Usage{Window: window, EnrichedCells: map[string]int64{}}
	byModel := map[string]*ModelUsage{}
	get := func(name string) *ModelUsage {
		m, ok := byModel[name]
		if !ok {
			m = &ModelUsage{Model: name}
			byModel[name] = m
		}
		return m
	}

	tokens, err := q.vector(ctx, fmt.Sprintf(`sum by (model, type) (increase(%s[%s]))`, q.metric("llm_tokens_total"), rng))
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	for _, s := range tokens {
		m := get(string(s.Metric["model"]))
		switch s.Metric["type"] {
		case "prompt":
			m.PromptTokens += int64(s.Value)
		case "completion":
			m.CompletionTokens += int64(s.Value)
		}
	}

	requests, err := q.vector(ctx, fmt.Sprintf(`sum by (model, status) (increase(%s[%s]))`, q.metric("llm_requests_total"), rng))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	for _, s := range requests {
		m := get(string(s.Metric["model"]))
		m.Requests += int64(s.Value)
		if s.Metric["status"] == "error" {
			m.Failures += int64(s.Value)
		}
	}

	searches, err := q.vector(ctx, fmt.Sprintf(`sum by (status) (increase(%s[%s]))`, q.metric("search_queries_total"), rng))
	if err != nil {
		return nil, fmt.Errorf("failed to query searches: %w", err)
	}
	for _, s := range searches {
		usage.Searches += int64(s.Value)
		if s.Metric["status"] == "error" {
			usage.FailedSearch += int64(s.Value)
		}
	}

	cells, err := q.vector(ctx, fmt.Sprintf(`sum by (status) (increase(%s[%s]))`, q.metric("enrichment_cells_total"), rng))
	if err != nil {
		return nil, fmt.Errorf("failed to query enrichment: %w", err)
	}
	for _, s := range cells {
		usage.EnrichedCells[string(s.Metric["status"])] += int64(s.Value)
	}

	for _, m := range byModel {
		m.TotalTokens = m.PromptTokens + m.CompletionTokens
		usage.Models = append(usage.Models, *m)
	}
	sort.Slice(usage.Models, func(i, j int) bool { return usage.Models[i].Model < usage.Models[j].Model })
	return usage, nil
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", result.Type())
	}
	return vector, nil
}
