// Package enricher fills PENDING and FLAGGED table cells through a bulk extraction backend.
//
// Targets are grouped into batches that share the same set of fields. Each batch is
// retried once on total failure. All cell updates are applied after every batch has
// returned, so a table is never observed half-enriched.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"shortlist/pkg/config"
	"shortlist/pkg/logx"
	"shortlist/pkg/metrics"
	"shortlist/pkg/resilience/retry"
	"shortlist/pkg/table"
)

// Cell error messages.
const (
	MsgNoData   = "no data found"
	MsgTimedOut = "enrichment timed out"
)

// SourceModel is the provenance of values a backend answered without citing any page.
const SourceModel = "model"

// ErrEnrichmentFailed is returned when every batch failed after its retry.
var ErrEnrichmentFailed = errors.New("enrichment failed")

// Target is one product to enrich.
type Target struct {
	RowID     string
	Candidate table.Candidate
}

// RowResult holds the values found for one target. A non-empty Err marks the whole row
// as failed. Sources lists the pages the values were read from.
type RowResult struct {
	Values  map[string]any
	Sources []string
	Err     string
}

// Source renders the provenance recorded on the row's enriched cells.
func (r RowResult) Source() string {
	if len(r.Sources) == 0 {
		return SourceModel
	}
	return strings.Join(r.Sources, " ")
}

// BatchResult maps row IDs to their results.
type BatchResult map[string]RowResult

// Backend extracts field values for a batch of products.
type Backend interface {
	EnrichBatch(ctx context.Context, targets []Target, fields []table.FieldDefinition) (BatchResult, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, targets []Target, fields []table.FieldDefinition) (BatchResult, error)

// EnrichBatch calls f.
func (f BackendFunc) EnrichBatch(ctx context.Context, targets []Target, fields []table.FieldDefinition) (BatchResult, error) {
	return f(ctx, targets, fields)
}

// Options tunes an Enricher.
type Options struct {
	Timeout         time.Duration
	Retries         int
	BatchSize       int
	ParallelBatches int
	RetryDelay      time.Duration
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Timeout:         5 * time.Minute,
		Retries:         1,
		BatchSize:       25,
		ParallelBatches: 4,
		RetryDelay:      time.Second,
	}
}

// OptionsFromConfig derives enricher options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.Enrichment.Timeout > 0 {
		opts.Timeout = cfg.Enrichment.Timeout
	}
	if cfg.Enrichment.Retries >= 0 {
		opts.Retries = cfg.Enrichment.Retries
	}
	if cfg.Enrichment.BatchSize > 0 {
		opts.BatchSize = cfg.Enrichment.BatchSize
	}
	return opts
}

// Report summarizes one run.
type Report struct {
	Targeted      int
	Enriched      int
	Failed        int
	Pending       int
	Batches       int
	FailedBatches int
	TimedOut      bool
	Duration      time.Duration
}

// Enricher resolves pending cells.
type Enricher struct {
	backend  Backend
	opts     Options
	recorder metrics.Recorder
	logger   *logx.Logger
}

// New creates an Enricher. A nil recorder disables metrics.
func New(backend Backend, opts Options, recorder metrics.Recorder) *Enricher {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.ParallelBatches <= 0 {
		opts.ParallelBatches = def.ParallelBatches
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Enricher{
		backend:  backend,
		opts:     opts,
		recorder: recorder,
		logger:   logx.NewLogger("enricher"),
	}
}

// EnrichPending resolves every PENDING or FLAGGED cell in tbl.
func (e *Enricher) EnrichPending(ctx context.Context, tbl *table.Table) (Report, error) {
	return e.Run(ctx, tbl, tbl.PendingCells())
}

// EnrichFields resolves the PENDING or FLAGGED cells of the named fields only.
func (e *Enricher) EnrichFields(ctx context.Context, tbl *table.Table, names []string) (Report, error) {
	return e.Run(ctx, tbl, tbl.PendingCellsFor(names))
}

type batch struct {
	targets []Target
	fields  []table.FieldDefinition
	// cells lists the targeted field names per row; a row may share a signature with
	// others only when the sets are equal.
	cells map[string][]string
}

type outcome struct {
	result BatchResult
	err    error
}

// Run resolves the targeted cells. Cells that are no longer PENDING or FLAGGED are
// skipped. When every batch fails the table is left untouched and ErrEnrichmentFailed is
// returned; when the run times out, cells without a result end FAILED.
func (e *Enricher) Run(ctx context.Context, tbl *table.Table, refs []table.CellRef) (Report, error) {
	start := time.Now()
	batches := e.plan(tbl, refs)

	var report Report
	for _, b := range batches {
		for _, names := range b.cells {
			report.Targeted += len(names)
		}
	}
	report.Batches = len(batches)
	if len(batches) == 0 {
		return report, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	outcomes := make([]outcome, len(batches))
	var g errgroup.Group
	g.SetLimit(e.opts.ParallelBatches)
	for i, b := range batches {
		g.Go(func() error {
			res, err := e.callBatch(runCtx, b)
			outcomes[i] = outcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	report.TimedOut = timedOut

	var lastErr error
	for _, o := range outcomes {
		if o.err != nil {
			report.FailedBatches++
			lastErr = o.err
		}
	}

	if report.FailedBatches == len(batches) && !timedOut {
		report.Pending = report.Targeted
		report.Duration = time.Since(start)
		e.recorder.ObserveEnrichment("failed", report.Duration)
		e.logger.Error("❌ Enrichment failed for all %d batches: %v", len(batches), lastErr)
		return report, fmt.Errorf("%w: %w", ErrEnrichmentFailed, lastErr)
	}

	var applyErr error
	for i, b := range batches {
		if err := e.apply(tbl, b, outcomes[i], timedOut, &report); err != nil && applyErr == nil {
			applyErr = err
		}
	}
	report.Duration = time.Since(start)
	if applyErr != nil {
		return report, fmt.Errorf("apply enrichment: %w", applyErr)
	}

	e.recorder.AddEnrichedCells(string(table.StatusEnriched), report.Enriched)
	e.recorder.AddEnrichedCells(string(table.StatusFailed), report.Failed)

	switch {
	case timedOut:
		e.recorder.ObserveEnrichment("timeout", report.Duration)
		e.logger.Warn("⏱️  Enrichment timed out after %v: %d enriched, %d failed", e.opts.Timeout, report.Enriched, report.Failed)
		if report.FailedBatches == len(batches) {
			return report, fmt.Errorf("%w: %w", ErrEnrichmentFailed, context.DeadlineExceeded)
		}
	case report.FailedBatches > 0:
		e.recorder.ObserveEnrichment("partial", report.Duration)
		e.logger.Warn("⚠️  Enrichment partially failed: %d/%d batches, %d enriched, %d failed",
			report.FailedBatches, len(batches), report.Enriched, report.Failed)
	default:
		e.recorder.ObserveEnrichment("ok", report.Duration)
		e.logger.Info("✅ Enriched %d cells (%d failed) in %v", report.Enriched, report.Failed, report.Duration.Round(time.Millisecond))
	}
	return report, nil
}

// plan groups targeted cells by row, then rows by field signature, then splits each group
// into batches of at most BatchSize rows. Batch order follows first appearance.
func (e *Enricher) plan(tbl *table.Table, refs []table.CellRef) []batch {
	type rowCells struct {
		target Target
		fields []table.FieldDefinition
	}
	var rowOrder []string
	rows := make(map[string]*rowCells)
	for _, ref := range refs {
		row, ok := tbl.Row(ref.RowID)
		if !ok {
			continue
		}
		cell := row.Cell(ref.Field.Name)
		if cell == nil || (cell.Status != table.StatusPending && cell.Status != table.StatusFlagged) {
			continue
		}
		rc, ok := rows[ref.RowID]
		if !ok {
			rc = &rowCells{target: Target{RowID: row.ID, Candidate: row.Candidate}}
			rows[ref.RowID] = rc
			rowOrder = append(rowOrder, ref.RowID)
		}
		dup := false
		for _, f := range rc.fields {
			if f.Name == ref.Field.Name {
				dup = true
				break
			}
		}
		if !dup {
			rc.fields = append(rc.fields, ref.Field)
		}
	}

	var sigOrder []string
	groups := make(map[string][]*rowCells)
	for _, id := range rowOrder {
		rc := rows[id]
		sig := signature(rc.fields)
		if _, ok := groups[sig]; !ok {
			sigOrder = append(sigOrder, sig)
		}
		groups[sig] = append(groups[sig], rc)
	}

	var out []batch
	for _, sig := range sigOrder {
		members := groups[sig]
		for startIdx := 0; startIdx < len(members); startIdx += e.opts.BatchSize {
			end := min(startIdx+e.opts.BatchSize, len(members))
			b := batch{fields: members[startIdx].fields, cells: make(map[string][]string)}
			for _, rc := range members[startIdx:end] {
				b.targets = append(b.targets, rc.target)
				names := make([]string, len(rc.fields))
				for i, f := range rc.fields {
					names[i] = f.Name
				}
				b.cells[rc.target.RowID] = names
			}
			out = append(out, b)
		}
	}
	return out
}

func signature(fields []table.FieldDefinition) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func (e *Enricher) callBatch(ctx context.Context, b batch) (BatchResult, error) {
	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:   e.opts.Retries + 1,
		InitialDelay:  e.opts.RetryDelay,
		MaxDelay:      10 * e.opts.RetryDelay,
		BackoffFactor: 2,
	}, func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	})
	policy.OnRetry = func(attempt int, err error, _ time.Duration) {
		e.logger.Warn("🔄 Retrying enrichment batch of %d rows (attempt %d): %v", len(b.targets), attempt, err)
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (BatchResult, error) {
		return e.backend.EnrichBatch(ctx, b.targets, b.fields)
	})
}

// apply writes one batch outcome into tbl and returns the first cell update error.
func (e *Enricher) apply(tbl *table.Table, b batch, o outcome, timedOut bool, report *Report) error {
	var firstErr error
	set := func(rowID, name string, value any, status table.CellStatus, source, msg string) {
		if err := e.update(tbl, rowID, name, value, status, source, msg, report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	failAll := func(rowID, msg string) {
		for _, name := range b.cells[rowID] {
			set(rowID, name, nil, table.StatusFailed, "", msg)
		}
	}

	for _, t := range b.targets {
		if o.err != nil {
			msg := MsgTimedOut
			if !timedOut {
				msg = "enrichment failed: " + o.err.Error()
			}
			failAll(t.RowID, msg)
			continue
		}

		res, ok := o.result[t.RowID]
		switch {
		case !ok:
			failAll(t.RowID, MsgNoData)
		case res.Err != "":
			failAll(t.RowID, res.Err)
		default:
			source := res.Source()
			for _, name := range b.cells[t.RowID] {
				v, found := res.Values[name]
				if !found || isEmpty(v) {
					set(t.RowID, name, nil, table.StatusFailed, source, MsgNoData)
					continue
				}
				set(t.RowID, name, v, table.StatusEnriched, source, "")
			}
		}
	}
	return firstErr
}

func (e *Enricher) update(tbl *table.Table, rowID, field string, value any, status table.CellStatus, source, errMsg string, report *Report) error {
	if err := tbl.UpdateCell(rowID, field, value, status, source, errMsg); err != nil {
		e.logger.Error("cell update %s/%s: %v", rowID, field, err)
		report.Pending++
		return err
	}
	if status == table.StatusEnriched {
		report.Enriched++
	} else {
		report.Failed++
	}
	return nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	}
	return false
}
