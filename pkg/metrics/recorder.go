// Package metrics records operational metrics for LLM calls, searches, enrichment and workflow transitions.
package metrics

import "time"

// Recorder defines the interface for recording shortlist metrics.
type Recorder interface {
	// ObserveLLMRequest records a completed LLM request.
	ObserveLLMRequest(model string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration)

	// ObserveSearch records one search query execution.
	ObserveSearch(angle string, results int, success bool, duration time.Duration)

	// ObserveCandidates records how many candidates an exploration produced.
	ObserveCandidates(count int)

	// AddEnrichedCells counts cells resolved by the enricher, by final status.
	AddEnrichedCells(status string, n int)

	// ObserveEnrichment records the duration of an enricher run.
	ObserveEnrichment(outcome string, duration time.Duration)

	// IncPhaseTransition counts a workflow phase transition.
	IncPhaseTransition(from, to string)

	// IncCheckpoint counts a resolved HITL checkpoint.
	IncCheckpoint(kind, choice string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveLLMRequest(_ string, _, _ int, _ bool, _ string, _ time.Duration) {}

func (n *NoopRecorder) ObserveSearch(_ string, _ int, _ bool, _ time.Duration) {}

func (n *NoopRecorder) ObserveCandidates(_ int) {}

func (n *NoopRecorder) AddEnrichedCells(_ string, _ int) {}

func (n *NoopRecorder) ObserveEnrichment(_ string, _ time.Duration) {}

func (n *NoopRecorder) IncPhaseTransition(_, _ string) {}

func (n *NoopRecorder) IncCheckpoint(_, _ string) {}
