package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shortlist/pkg/enricher"
	"shortlist/pkg/explorer"
	"shortlist/pkg/llm/llmtest"
	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

const kettleIntake = `{"product_type": "electric kettle", "budget_max": 50, "currency": "GBP",
"must_haves": ["1.7L capacity"], "questions": [], "reply": "Got it."}`

type fakeDiscoverer struct {
	mu    sync.Mutex
	calls []explorer.ExploreOptions
	res   explorer.Result
	err   error
}

func (f *fakeDiscoverer) Explore(_ context.Context, _ requirements.Requirements, _ *table.Table, opts explorer.ExploreOptions) (explorer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return f.res, f.err
}

func (f *fakeDiscoverer) Calls() []explorer.ExploreOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]explorer.ExploreOptions(nil), f.calls...)
}

// fillBackend answers every cell and records the field names of each call.
type fillBackend struct {
	mu     sync.Mutex
	fields [][]string
	err    error
}

func (b *fillBackend) EnrichBatch(_ context.Context, targets []enricher.Target, fields []table.FieldDefinition) (enricher.BatchResult, error) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	b.mu.Lock()
	b.fields = append(b.fields, names)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}

	out := make(enricher.BatchResult, len(targets))
	for _, t := range targets {
		values := make(map[string]any, len(fields))
		for _, f := range fields {
			switch f.Name {
			case table.FieldPrice:
				values[f.Name] = "£40"
			case table.FieldMeetsRequirements:
				values[f.Name] = true
			case table.FieldName:
				values[f.Name] = t.Candidate.Name
			default:
				values[f.Name] = "A"
			}
		}
		out[t.RowID] = enricher.RowResult{Values: values}
	}
	return out, nil
}

func (b *fillBackend) Calls() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.fields...)
}

func kettleResult() explorer.Result {
	return explorer.Result{
		Candidates: []table.Candidate{
			{Name: "Breville Luna Kettle", Manufacturer: "Breville"},
			{Name: "Russell Hobbs Inspire Kettle", Manufacturer: "Russell Hobbs"},
			{Name: "Bosch Styline TWK8613", Manufacturer: "Bosch"},
		},
		Fields: []table.FieldDefinition{
			{Name: table.FieldName, Label: "Name", Category: table.CategoryStandard},
			{Name: table.FieldPrice, Label: "Price", Category: table.CategoryStandard},
			{Name: "capacity", Label: "Capacity", Category: table.CategorySpecific},
			{Name: table.FieldMeetsRequirements, Label: "Meets Requirements", Category: table.CategoryQualification, DataType: table.TypeBoolean},
		},
		Plan: explorer.Plan{Queries: make([]explorer.Query, 12)},
	}
}

type harness struct {
	orch     *Orchestrator
	store    *MemoryStore
	llm      *llmtest.Client
	discover *fakeDiscoverer
	backend  *fillBackend
}

func newHarness(t *testing.T, tune func(*Settings)) *harness {
	t.Helper()
	settings := DefaultSettings()
	settings.InstructionsDir = t.TempDir()
	if tune != nil {
		tune(&settings)
	}

	h := &harness{
		store: NewMemoryStore(0),
		llm: llmtest.New(
			llmtest.Rule{Match: "extract structured purchase requirements", Response: kettleIntake},
			llmtest.Rule{Match: "You classify what a shopper", Err: errors.New("classifier offline")},
			llmtest.Rule{Match: "presenting research results", Response: "NARRATIVE: all three are solid picks."},
			llmtest.Rule{Match: "answering a follow-up question", Response: "The Bosch is the quietest."},
		),
		discover: &fakeDiscoverer{res: kettleResult()},
		backend:  &fillBackend{},
	}
	enr := enricher.New(h.backend, enricher.Options{Timeout: 5 * time.Second, Retries: 1, RetryDelay: time.Millisecond, BatchSize: 25, ParallelBatches: 2}, nil)
	h.orch = NewWithComponents(h.llm, h.discover, enr, h.store, settings, nil)
	return h
}

func (h *harness) say(t *testing.T, id, text string) TurnResult {
	t.Helper()
	res, err := h.orch.HandleTurn(context.Background(), id, UserText{Text: text})
	require.NoError(t, err)
	return res
}

func (h *harness) choose(t *testing.T, res TurnResult, choice Choice) TurnResult {
	t.Helper()
	require.NotNil(t, res.Checkpoint, "expected a pending checkpoint")
	next, err := h.orch.HandleTurn(context.Background(), res.SessionID, CheckpointConfirmation{ID: res.Checkpoint.ID, Choice: choice})
	require.NoError(t, err)
	return next
}

func TestKettleConversation(t *testing.T) {
	h := newHarness(t, nil)

	res := h.say(t, "", "I need an electric kettle under £50 with 1.7L capacity")
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, PhaseIntake, res.Phase)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, CheckpointRequirements, res.Checkpoint.Kind)
	assert.Contains(t, res.Message, "electric kettle")

	res = h.choose(t, res, ChoiceConfirm)
	assert.Equal(t, PhaseResearch, res.Phase)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, CheckpointFields, res.Checkpoint.Kind)
	assert.Equal(t, 3, res.Table.RowCount())
	assert.Contains(t, res.Message, "Capacity")
	require.Len(t, h.discover.Calls(), 1)
	assert.False(t, h.discover.Calls()[0].SkipFields)

	res = h.choose(t, res, ChoiceEnrichNow)
	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.Nil(t, res.Checkpoint)
	assert.Contains(t, res.Message, "NARRATIVE")
	assert.Contains(t, res.Message, "Breville Luna Kettle")
	assert.Equal(t, 12, res.Progress.Total)
	assert.Equal(t, 12, res.Progress.Enriched)
	assert.Len(t, res.Table.QualifiedRows(), 3)

	res = h.say(t, res.SessionID, "add energy efficiency to the comparison")
	assert.Equal(t, PhaseAdvise, res.Phase)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, CheckpointIntent, res.Checkpoint.Kind)

	before := len(h.backend.Calls())
	res = h.choose(t, res, ChoiceProceed)
	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.True(t, res.Table.HasField("energy_efficiency"))
	assert.Equal(t, 15, res.Progress.Enriched)
	calls := h.backend.Calls()[before:]
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"energy_efficiency"}, calls[0])
	assert.Len(t, h.discover.Calls(), 1, "adding a column does not search again")

	s, err := h.orch.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Refinements, 1)
	assert.Equal(t, TriggerFieldAddition, s.Refinements[0].Trigger)
	assert.Equal(t, "add energy efficiency to the comparison", s.Refinements[0].Phrase)

	res = h.say(t, res.SessionID, "can you export this as a csv")
	assert.Contains(t, res.ExportCSV, "Breville Luna Kettle")
	assert.NotContains(t, res.ExportCSV, table.FieldMeetsRequirements)

	res = h.say(t, res.SessionID, "thanks, that's all")
	assert.Equal(t, PhaseEnd, res.Phase)

	res = h.say(t, res.SessionID, "now I'd like help choosing a kettle for the office")
	assert.Equal(t, PhaseIntake, res.Phase)
	assert.Equal(t, 0, res.Table.RowCount())
	s, err = h.orch.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, s.Refinements)
	assert.Len(t, s.Transcript, 2, "reset keeps only the new request and its reply")
}

func TestMoreOptionsSkipsFieldProposal(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.ConfirmFields = false
		s.ConfirmRefinements = false
	})

	res := h.say(t, "", "kettle under £50")
	res = h.choose(t, res, ChoiceConfirm)
	require.Equal(t, PhaseAdvise, res.Phase)

	h.discover.mu.Lock()
	h.discover.res = explorer.Result{Candidates: []table.Candidate{{Name: "Smeg KLF03 Kettle"}}, Plan: explorer.Plan{Queries: make([]explorer.Query, 10)}}
	h.discover.mu.Unlock()

	res = h.say(t, res.SessionID, "show me more options")
	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.Equal(t, 4, res.Table.RowCount())
	assert.Equal(t, res.Progress.Total, res.Progress.Enriched, "new rows are enriched for existing fields")

	calls := h.discover.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].SkipFields)
	assert.Equal(t, DefaultSettings().MoreOptionsTarget, calls[1].Target)
}

func TestEnrichmentFailureStillAdvises(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.ConfirmFields = false
		s.ConfirmRefinements = false
	})
	h.backend.err = errors.New("provider down")

	res := h.say(t, "", "kettle under £50")
	res = h.choose(t, res, ChoiceConfirm)

	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.Contains(t, res.Message, "Some research steps failed")
	assert.Equal(t, 0, res.Progress.Enriched)
	assert.Len(t, h.backend.Calls(), 2, "the batch is tried twice")
	assert.Contains(t, res.ErrorContext, "provider down")

	s, err := h.orch.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ErrorContext)
	assert.Len(t, s.Table.PendingCells(), 12, "a total failure leaves cells pending")

	res = h.say(t, res.SessionID, "which one is quietest?")
	assert.NotEmpty(t, res.ErrorContext, "advice turns keep the error context")

	h.backend.err = nil
	res = h.say(t, res.SessionID, "show me more options")
	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.Empty(t, res.ErrorContext, "the next research entry replaces it")
	assert.Equal(t, 12, res.Progress.Enriched, "a new search also resolves cells left pending")
}

func TestMoreOptionsUsesRequestedCount(t *testing.T) {
	h := newHarness(t, func(s *Settings) {
		s.ConfirmFields = false
		s.ConfirmRefinements = false
	})

	res := h.say(t, "", "kettle under £50")
	res = h.choose(t, res, ChoiceConfirm)
	require.Equal(t, PhaseAdvise, res.Phase)

	res = h.say(t, res.SessionID, "find 10 more like these")
	assert.Equal(t, PhaseAdvise, res.Phase)
	calls := h.discover.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[1].SkipFields)
	assert.Equal(t, 10, calls[1].Target)
}

func TestThanksWithQuestionDoesNotEnd(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.ConfirmFields = false })

	res := h.say(t, "", "kettle under £50")
	res = h.choose(t, res, ChoiceConfirm)
	require.Equal(t, PhaseAdvise, res.Phase)

	res = h.say(t, res.SessionID, "thanks! which one is quietest?")
	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.Contains(t, res.Message, "The Bosch is the quietest.")
}

func TestSearchFailureStillAdvises(t *testing.T) {
	h := newHarness(t, nil)
	h.discover.err = explorer.ErrNoCandidates

	res := h.say(t, "", "kettle under £50")
	res = h.choose(t, res, ChoiceConfirm)

	assert.Equal(t, PhaseAdvise, res.Phase)
	assert.Contains(t, res.Message, "couldn't find any products")
}

func TestStaleConfirmationIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	res := h.say(t, "", "kettle under £50")
	pending := res.Checkpoint
	require.NotNil(t, pending)

	next, err := h.orch.HandleTurn(context.Background(), res.SessionID, CheckpointConfirmation{ID: "old-checkpoint", Choice: ChoiceConfirm})
	require.NoError(t, err)
	assert.Contains(t, next.Message, "out of date")
	assert.Equal(t, PhaseIntake, next.Phase)
	require.NotNil(t, next.Checkpoint)
	assert.Equal(t, pending.ID, next.Checkpoint.ID)
	assert.Equal(t, res.Version+1, next.Version)
	assert.Empty(t, h.discover.Calls())
}

func TestHandlerErrorAbortsTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.discover.err = context.Canceled

	res := h.say(t, "", "kettle under £50")
	_, err := h.orch.HandleTurn(context.Background(), res.SessionID, CheckpointConfirmation{ID: res.Checkpoint.ID, Choice: ChoiceConfirm})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	s, err := h.orch.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Version, s.Version, "nothing persisted")
	assert.Equal(t, PhaseIntake, s.Phase)
	require.NotNil(t, s.Checkpoint)
}

func TestIntakeModelFailureAsksAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.Rules[0] = llmtest.Rule{Match: "extract structured purchase requirements", Err: errors.New("timeout")}

	res := h.say(t, "", "something for my kitchen")
	assert.Equal(t, PhaseIntake, res.Phase)
	assert.Equal(t, restateMessage, res.Message)
	assert.Nil(t, res.Checkpoint)
}

func TestEmptyMessageRejected(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.HandleTurn(context.Background(), "s1", UserText{Text: " \x00 "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestAutoStepLimitPauses(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.MaxAutoSteps = 1 })

	res := h.say(t, "", "kettle under £50")
	res = h.choose(t, res, ChoiceConfirm)
	assert.Equal(t, PhaseResearch, res.Phase)
	assert.Contains(t, res.Message, "paused")
	assert.Empty(t, h.discover.Calls())
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	s := NewSession("s1", time.Now())
	s.Version = 1
	require.NoError(t, store.Save(ctx, s, 0))

	s.Version = 2
	assert.ErrorIs(t, store.Save(ctx, s, 0), ErrStaleState)
	require.NoError(t, store.Save(ctx, s, 1))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)

	loaded.Table.AddField(table.FieldDefinition{Name: "warranty"})
	again, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, again.Table.HasField("warranty"), "loads are copies")

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
