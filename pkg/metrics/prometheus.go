package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	llmRequests        *prometheus.CounterVec
	llmTokens          *prometheus.CounterVec
	llmDuration        *prometheus.HistogramVec
	searchQueries      *prometheus.CounterVec
	searchResults      *prometheus.HistogramVec
	searchDuration     *prometheus.HistogramVec
	candidates         prometheus.Histogram
	enrichedCells      *prometheus.CounterVec
	enrichmentDuration *prometheus.HistogramVec
	phaseTransitions   *prometheus.CounterVec
	checkpoints        *prometheus.CounterVec
}

// NewPrometheusRecorder registers shortlist metrics with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		llmRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of LLM requests by model and status",
			},
			[]string{"model", "status", "error_type"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total number of tokens used in LLM requests",
			},
			[]string{"model", "type"},
		),
		llmDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of LLM requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		searchQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_queries_total",
				Help:      "Search queries executed by angle and status",
			},
			[]string{"angle", "status"},
		),
		searchResults: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results",
				Help:      "Results returned per search query",
				Buckets:   []float64{0, 1, 5, 10, 20, 50},
			},
			[]string{"angle"},
		),
		searchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Duration of search queries in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"angle"},
		),
		candidates: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "explorer_candidates",
				Help:      "Candidates produced per exploration",
				Buckets:   []float64{0, 5, 10, 20, 30, 40, 50},
			},
		),
		enrichedCells: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_cells_total",
				Help:      "Cells resolved by the enricher by final status",
			},
			[]string{"status"},
		),
		enrichmentDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enrichment_duration_seconds",
				Help:      "Duration of enricher runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		phaseTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Workflow phase transitions",
			},
			[]string{"from", "to"},
		),
		checkpoints: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Resolved human-in-the-loop checkpoints by choice",
			},
			[]string{"checkpoint", "choice"},
		),
	}
}

func (p *PrometheusRecorder) ObserveLLMRequest(model string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.llmRequests.WithLabelValues(model, status, errorType).Inc()
	if success {
		p.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		p.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	p.llmDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveSearch(angle string, results int, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.searchQueries.WithLabelValues(angle, status).Inc()
	if success {
		p.searchResults.WithLabelValues(angle).Observe(float64(results))
	}
	p.searchDuration.WithLabelValues(angle).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveCandidates(count int) {
	p.candidates.Observe(float64(count))
}

func (p *PrometheusRecorder) AddEnrichedCells(status string, n int) {
	if n <= 0 {
		return
	}
	p.enrichedCells.WithLabelValues(status).Add(float64(n))
}

func (p *PrometheusRecorder) ObserveEnrichment(outcome string, duration time.Duration) {
	p.enrichmentDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncPhaseTransition(from, to string) {
	p.phaseTransitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncCheckpoint(kind, choice string) {
	p.checkpoints.WithLabelValues(kind, choice).Inc()
}
