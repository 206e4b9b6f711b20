package enricher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shortlist/pkg/llm/llmtest"
	"shortlist/pkg/search"
	"shortlist/pkg/table"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func field(name string, dt table.DataType) table.FieldDefinition {
	return table.FieldDefinition{Name: name, Label: table.LabelFor(name), Category: table.CategorySpecific, DataType: dt, Prompt: "Extract " + name}
}

// newTable builds a table with the given fields and products and returns the row IDs in
// insertion order.
func newTable(t *testing.T, fields []table.FieldDefinition, products ...string) (*table.Table, []string) {
	t.Helper()
	tbl := table.New()
	for _, f := range fields {
		require.True(t, tbl.AddField(f))
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		inserted, id := tbl.AddRow(table.Candidate{Name: p})
		require.True(t, inserted)
		ids = append(ids, id)
	}
	return tbl, ids
}

type recordingBackend struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(targets []Target, fields []table.FieldDefinition, call int) (BatchResult, error)
}

func (r *recordingBackend) EnrichBatch(_ context.Context, targets []Target, fields []table.FieldDefinition) (BatchResult, error) {
	r.mu.Lock()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	r.calls = append(r.calls, names)
	call := len(r.calls)
	r.mu.Unlock()
	return r.fn(targets, fields, call)
}

func (r *recordingBackend) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func fillAll(value any) func([]Target, []table.FieldDefinition, int) (BatchResult, error) {
	return func(targets []Target, fields []table.FieldDefinition, _ int) (BatchResult, error) {
		out := make(BatchResult, len(targets))
		for _, tg := range targets {
			values := make(map[string]any, len(fields))
			for _, f := range fields {
				values[f.Name] = value
			}
			out[tg.RowID] = RowResult{Values: values}
		}
		return out, nil
	}
}

func fastOptions() Options {
	return Options{Timeout: 5 * time.Second, Retries: 1, BatchSize: 25}
}

func TestEnrichPendingResolvesEveryCell(t *testing.T) {
	tbl, _ := newTable(t, []table.FieldDefinition{field("capacity_l", table.TypeNumber), field("colour", table.TypeString)},
		"Smeg KLF03", "Breville VKJ318")
	backend := &recordingBackend{fn: fillAll("x")}

	report, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Targeted)
	assert.Equal(t, 4, report.Enriched)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, backend.Calls())
	assert.Empty(t, tbl.PendingCells())

	enriched, total := tbl.EnrichmentProgress()
	assert.Equal(t, total, enriched)
}

func TestRunBatchesByFieldSignature(t *testing.T) {
	fields := []table.FieldDefinition{field("capacity_l", table.TypeNumber), field("colour", table.TypeString)}
	tbl, ids := newTable(t, fields, "Smeg KLF03", "Breville VKJ318", "Bosch TWK7203")

	// the first row is already complete for capacity
	require.NoError(t, tbl.UpdateCell(ids[0], "capacity_l", 1.7, table.StatusEnriched, "test", ""))

	backend := &recordingBackend{fn: fillAll("x")}
	report, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 5, report.Targeted)
	assert.ElementsMatch(t, [][]string{{"colour"}, {"capacity_l", "colour"}}, backend.calls)
	assert.Equal(t, 1.7, tbl.Rows()[0].Cell("capacity_l").Value)
}

func TestRunSplitsLargeGroups(t *testing.T) {
	tbl, _ := newTable(t, []table.FieldDefinition{field("colour", table.TypeString)}, "A One", "B Two", "C Three")
	backend := &recordingBackend{fn: fillAll("red")}

	opts := fastOptions()
	opts.BatchSize = 2
	report, err := New(backend, opts, nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 2, backend.Calls())
}

func TestRunRowFailureIsCellScoped(t *testing.T) {
	fields := []table.FieldDefinition{field("capacity_l", table.TypeNumber), field("colour", table.TypeString)}
	tbl, ids := newTable(t, fields, "Smeg KLF03", "Breville VKJ318")

	backend := BackendFunc(func(_ context.Context, targets []Target, _ []table.FieldDefinition) (BatchResult, error) {
		return BatchResult{
			ids[0]: {Values: map[string]any{"capacity_l": 1.7, "colour": nil}},
			ids[1]: {Err: "page not reachable"},
		}, nil
	})

	report, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enriched)
	assert.Equal(t, 3, report.Failed)

	smeg, _ := tbl.Row(ids[0])
	assert.Equal(t, table.StatusEnriched, smeg.Cell("capacity_l").Status)
	assert.Equal(t, table.StatusFailed, smeg.Cell("colour").Status)
	assert.Equal(t, MsgNoData, smeg.Cell("colour").Error)

	breville, _ := tbl.Row(ids[1])
	assert.Equal(t, "page not reachable", breville.Cell("capacity_l").Error)
	assert.Equal(t, table.StatusFailed, breville.Cell("colour").Status)
}

func TestRunRetriesOnce(t *testing.T) {
	tbl, _ := newTable(t, []table.FieldDefinition{field("colour", table.TypeString)}, "Smeg KLF03")
	fill := fillAll("cream")
	backend := &recordingBackend{fn: func(targets []Target, fields []table.FieldDefinition, call int) (BatchResult, error) {
		if call == 1 {
			return nil, errors.New("rate limited")
		}
		return fill(targets, fields, call)
	}}

	report, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.Calls())
	assert.Equal(t, 1, report.Enriched)
}

func TestRunTotalFailureLeavesCellsPending(t *testing.T) {
	tbl, _ := newTable(t, []table.FieldDefinition{field("colour", table.TypeString)}, "Smeg KLF03", "Breville VKJ318")
	backend := &recordingBackend{fn: func([]Target, []table.FieldDefinition, int) (BatchResult, error) {
		return nil, errors.New("service unavailable")
	}}

	report, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.ErrorIs(t, err, ErrEnrichmentFailed)
	assert.Contains(t, err.Error(), "service unavailable")

	assert.Equal(t, 2, backend.Calls())
	assert.Equal(t, 2, report.Pending)
	assert.Len(t, tbl.PendingCells(), 2)
	assert.Equal(t, map[table.CellStatus]int{table.StatusPending: 2}, tbl.StatusCounts())
}

func TestRunPartialBatchFailureMarksCellsFailed(t *testing.T) {
	fields := []table.FieldDefinition{field("capacity_l", table.TypeNumber), field("colour", table.TypeString)}
	tbl, ids := newTable(t, fields, "Smeg KLF03", "Breville VKJ318")
	require.NoError(t, tbl.UpdateCell(ids[0], "capacity_l", 1.7, table.StatusEnriched, "test", ""))

	fill := fillAll("x")
	backend := BackendFunc(func(_ context.Context, targets []Target, fields []table.FieldDefinition) (BatchResult, error) {
		if len(fields) == 2 {
			return nil, errors.New("schema rejected")
		}
		return fill(targets, fields, 0)
	})

	_, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)

	assert.Empty(t, tbl.PendingCells())
	breville, _ := tbl.Row(ids[1])
	assert.Equal(t, table.StatusFailed, breville.Cell("colour").Status)
	assert.Contains(t, breville.Cell("colour").Error, "schema rejected")
}

func TestRunTimeoutFailsTargetedCells(t *testing.T) {
	tbl, _ := newTable(t, []table.FieldDefinition{field("colour", table.TypeString)}, "Smeg KLF03")
	backend := BackendFunc(func(ctx context.Context, _ []Target, _ []table.FieldDefinition) (BatchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	opts := fastOptions()
	opts.Timeout = 20 * time.Millisecond
	report, err := New(backend, opts, nil).EnrichPending(context.Background(), tbl)
	require.ErrorIs(t, err, ErrEnrichmentFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, report.TimedOut)

	cell := tbl.Rows()[0].Cell("colour")
	assert.Equal(t, table.StatusFailed, cell.Status)
	assert.Equal(t, MsgTimedOut, cell.Error)
}

func TestEnrichFieldsTouchesOnlyNamedFields(t *testing.T) {
	tbl, _ := newTable(t, []table.FieldDefinition{field("colour", table.TypeString)}, "Smeg KLF03", "Breville VKJ318")
	backend := &recordingBackend{fn: fillAll("x")}
	e := New(backend, fastOptions(), nil)

	_, err := e.EnrichPending(context.Background(), tbl)
	require.NoError(t, err)
	before := tbl.Rows()[0].Cell("colour").UpdatedAt

	require.True(t, tbl.AddField(field("energy_efficiency", table.TypeString)))
	report, err := e.EnrichFields(context.Background(), tbl, []string{"energy_efficiency"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Enriched)
	assert.Equal(t, []string{"energy_efficiency"}, backend.calls[1])
	assert.Equal(t, before, tbl.Rows()[0].Cell("colour").UpdatedAt)
}

func TestRunSkipsEnrichedAndReenrichesFlagged(t *testing.T) {
	tbl, ids := newTable(t, []table.FieldDefinition{field("colour", table.TypeString)}, "Smeg KLF03", "Breville VKJ318")
	require.NoError(t, tbl.UpdateCell(ids[0], "colour", "cream", table.StatusEnriched, "test", ""))
	require.NoError(t, tbl.UpdateCell(ids[1], "colour", "red", table.StatusEnriched, "test", ""))
	require.NoError(t, tbl.FlagCell(ids[1], "colour", "user says it is blue"))

	stale := []table.CellRef{{RowID: ids[0], Field: field("colour", table.TypeString)}}
	backend := &recordingBackend{fn: fillAll("blue")}
	e := New(backend, fastOptions(), nil)

	report, err := e.Run(context.Background(), tbl, stale)
	require.NoError(t, err)
	assert.Zero(t, report.Targeted)
	assert.Zero(t, backend.Calls())

	report, err = e.EnrichPending(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enriched)

	smeg, _ := tbl.Row(ids[0])
	breville, _ := tbl.Row(ids[1])
	assert.Equal(t, "cream", smeg.Cell("colour").Value)
	assert.Equal(t, "blue", breville.Cell("colour").Value)
	assert.Equal(t, table.StatusEnriched, breville.Cell("colour").Status)
}

func TestLLMBackend(t *testing.T) {
	client := llmtest.New(
		llmtest.Rule{Match: "Name: Bad Kettle", Err: errors.New("context length exceeded")},
		llmtest.Rule{Match: "You are a product data specialist", Response: `{
			"price": "£39.99",
			"capacity_l": "1.7 litres",
			"keep_warm": "yes",
			"official_url": "https://www.amazon.co.uk/dp/B000",
			"colours": "red, blue",
			"notes": null
		}`},
	)
	fields := []table.FieldDefinition{
		field(table.FieldPrice, table.TypeString),
		field("capacity_l", table.TypeNumber),
		field("keep_warm", table.TypeBoolean),
		field(table.FieldOfficialURL, table.TypeString),
		field("colours", table.TypeList),
		field("notes", table.TypeString),
	}
	targets := []Target{
		{RowID: "good", Candidate: table.Candidate{Name: "Smeg KLF03"}},
		{RowID: "bad", Candidate: table.Candidate{Name: "Bad Kettle"}},
	}

	res, err := NewLLMBackend(client, 2).EnrichBatch(WithCurrency(context.Background(), "£"), targets, fields)
	require.NoError(t, err)

	good := res["good"]
	assert.Empty(t, good.Err)
	assert.Equal(t, map[string]any{
		table.FieldPrice: "£39.99",
		"capacity_l":     1.7,
		"keep_warm":      true,
		"colours":        []string{"red", "blue"},
	}, good.Values)

	assert.Contains(t, res["bad"].Err, "context length exceeded")
	assert.Equal(t, 2, client.Calls())
}

func TestLLMBackendAllRowsFailed(t *testing.T) {
	client := llmtest.Failing(errors.New("overloaded"))
	_, err := NewLLMBackend(client, 4).EnrichBatch(context.Background(),
		[]Target{{RowID: "a", Candidate: table.Candidate{Name: "Smeg KLF03"}}},
		[]table.FieldDefinition{field("colour", table.TypeString)})
	assert.ErrorContains(t, err, "overloaded")
}

func TestLLMBackendGroundsRowsInSearch(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	searcher := search.Func(func(_ context.Context, query string, n int) ([]search.Result, error) {
		mu.Lock()
		queries = append(queries, query)
		mu.Unlock()
		assert.Equal(t, SourceResults, n)
		return []search.Result{
			{Title: "Smeg KLF03 Kettle", URL: "https://www.smeg.com/uk/klf03", Snippet: "1.7 litre capacity, 3kW"},
			{Title: "Smeg KLF03 at Currys", URL: "https://www.currys.co.uk/smeg-klf03", Snippet: "£129"},
			{Title: "no link"},
		}, nil
	})
	client := llmtest.New(llmtest.Rule{
		Match:    "1.7 litre capacity, 3kW",
		Response: `{"capacity_l": 1.7, "official_url": "https://www.currys.co.uk/smeg-klf03"}`,
	})
	fields := []table.FieldDefinition{field("capacity_l", table.TypeNumber), field(table.FieldOfficialURL, table.TypeString)}
	targets := []Target{{RowID: "r1", Candidate: table.Candidate{Name: "KLF03", Manufacturer: "Smeg"}}}

	res, err := NewLLMBackend(client, 1, WithSearcher(searcher)).EnrichBatch(context.Background(), targets, fields)
	require.NoError(t, err)

	row := res["r1"]
	assert.Empty(t, row.Err)
	assert.Equal(t, 1.7, row.Values["capacity_l"])
	assert.Equal(t, "https://www.smeg.com/uk/klf03", row.Values[table.FieldOfficialURL], "retailer URL replaced by the manufacturer source")
	assert.Equal(t, []string{"https://www.smeg.com/uk/klf03", "https://www.currys.co.uk/smeg-klf03"}, row.Sources)
	assert.Equal(t, []string{"Smeg KLF03 specs"}, queries)
}

func TestLLMBackendSearchFailureFallsBackToModel(t *testing.T) {
	searcher := search.Func(func(context.Context, string, int) ([]search.Result, error) {
		return nil, errors.New("rate limited")
	})
	client := llmtest.New(llmtest.Rule{Match: "You are a product data specialist", Response: `{"colour": "cream"}`})

	res, err := NewLLMBackend(client, 1, WithSearcher(searcher)).EnrichBatch(context.Background(),
		[]Target{{RowID: "r1", Candidate: table.Candidate{Name: "Smeg KLF03"}}},
		[]table.FieldDefinition{field("colour", table.TypeString)})
	require.NoError(t, err)
	assert.Equal(t, "cream", res["r1"].Values["colour"])
	assert.Empty(t, res["r1"].Sources)
	assert.Equal(t, SourceModel, res["r1"].Source())
}

func TestRunRecordsCellSources(t *testing.T) {
	tbl, ids := newTable(t, []table.FieldDefinition{field("colour", table.TypeString), field("capacity_l", table.TypeNumber)},
		"Smeg KLF03", "Breville VKJ318")
	backend := BackendFunc(func(_ context.Context, targets []Target, _ []table.FieldDefinition) (BatchResult, error) {
		out := BatchResult{}
		for _, tg := range targets {
			r := RowResult{Values: map[string]any{"colour": "red"}}
			if tg.RowID == ids[0] {
				r.Sources = []string{"https://www.smeg.com/uk/klf03", "https://www.which.co.uk/kettles"}
			}
			out[tg.RowID] = r
		}
		return out, nil
	})

	_, err := New(backend, fastOptions(), nil).EnrichPending(context.Background(), tbl)
	require.NoError(t, err)

	smeg, _ := tbl.Row(ids[0])
	assert.Equal(t, "https://www.smeg.com/uk/klf03 https://www.which.co.uk/kettles", smeg.Cell("colour").Source)
	assert.Equal(t, table.StatusFailed, smeg.Cell("capacity_l").Status)

	breville, _ := tbl.Row(ids[1])
	assert.Equal(t, SourceModel, breville.Cell("colour").Source)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		dt   table.DataType
		want any
		ok   bool
	}{
		{"price string", "£1,299.99", table.TypeNumber, 1299.99, true},
		{"plain number", 42.0, table.TypeNumber, 42.0, true},
		{"number missing", "n/a", table.TypeNumber, nil, false},
		{"number words", "about two", table.TypeNumber, nil, false},
		{"yes", "Yes, with 3 presets", table.TypeBoolean, true, true},
		{"no", "no", table.TypeBoolean, false, true},
		{"bool maybe", "sometimes", table.TypeBoolean, nil, false},
		{"list array", []any{"red", " ", "blue"}, table.TypeList, []string{"red", "blue"}, true},
		{"list string", "glass; steel", table.TypeList, []string{"glass", "steel"}, true},
		{"string from number", 3.0, table.TypeString, "3", true},
		{"empty string", "  ", table.TypeString, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Coerce(tt.in, tt.dt)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
	assert.Equal(t, "£", CurrencyFrom(context.Background()))
}
