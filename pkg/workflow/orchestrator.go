package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"shortlist/pkg/llm"
	"shortlist/pkg/logx"
	"shortlist/pkg/metrics"
	"shortlist/pkg/table"
)

// ErrEmptyMessage rejects input that is blank after sanitizing.
var ErrEmptyMessage = errors.New("empty message")

// Handlers binds a handler to each working phase.
type Handlers struct {
	Intake   Handler
	Research Handler
	Advise   Handler
}

// TurnResult is what the caller shows after one turn. ErrorContext describes research
// steps that failed on the way to this result.
type TurnResult struct {
	SessionID    string
	Phase        Phase
	Message      string
	Table        *table.Table
	Checkpoint   *Checkpoint
	Progress     Progress
	ExportCSV    string
	ErrorContext string
	Version      int
}

// Orchestrator runs turns: route, handle, apply, repeat until a handler stops, then
// persist once. Turns for the same session are serialized.
type Orchestrator struct {
	store    Store
	router   Router
	handlers map[Phase]Handler
	settings Settings
	recorder metrics.Recorder
	logger   *logx.Logger
	locks    sync.Map
}

// New creates an orchestrator. A nil recorder disables metrics.
func New(store Store, h Handlers, settings Settings, recorder metrics.Recorder) *Orchestrator {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if settings.MaxAutoSteps <= 0 {
		settings.MaxAutoSteps = DefaultSettings().MaxAutoSteps
	}
	return &Orchestrator{
		store: store,
		handlers: map[Phase]Handler{
			PhaseIntake:   h.Intake,
			PhaseResearch: h.Research,
			PhaseAdvise:   h.Advise,
		},
		settings: settings,
		recorder: recorder,
		logger:   logx.NewLogger("orchestrator"),
	}
}

// NewWithComponents wires the standard handlers over an LLM client, a discoverer and an
// enricher.
func NewWithComponents(client llm.LLMClient, d Discoverer, e CellEnricher, store Store, settings Settings, recorder metrics.Recorder) *Orchestrator {
	return New(store, Handlers{
		Intake:   NewIntakeHandler(client, settings),
		Research: NewResearchHandler(d, e, settings),
		Advise:   NewAdviseHandler(client, settings),
	}, settings, recorder)
}

func (o *Orchestrator) lock(id string) func() {
	v, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleTurn processes one inbound message for session id, creating the session when
// it does not exist. An empty id starts a new session. A handler error aborts the turn
// without persisting anything.
func (o *Orchestrator) HandleTurn(ctx context.Context, id string, in Inbound) (TurnResult, error) {
	if id == "" {
		id = uuid.NewString()
	}
	unlock := o.lock(id)
	defer unlock()
	ctx = logx.WithSession(ctx, id)

	s, err := o.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		s = NewSession(id, o.settings.now())
		o.logger.Info("🆕 New session %s", id)
	case err != nil:
		return TurnResult{}, fmt.Errorf("load session %s: %w", id, err)
	}
	expected := s.Version

	switch m := in.(type) {
	case UserText:
		m.Text = SanitizeInput(m.Text, o.settings.MaxInputChars)
		if m.Text == "" {
			return TurnResult{}, ErrEmptyMessage
		}
		in = m
		s = s.withTurn(RoleUser, m.Text, o.settings.now())
	case CheckpointConfirmation:
		m.Choice = Choice(strings.ToLower(strings.TrimSpace(string(m.Choice))))
		in = m
		s = s.withTurn(RoleUser, "/choose "+string(m.Choice), o.settings.now())
		if reply := validateConfirmation(s.Checkpoint, m); reply != "" {
			o.logger.Warn("⚠️  Rejected confirmation %q for session %s", m.Choice, id)
			return o.finish(ctx, s, expected, reply, "")
		}
		o.recorder.IncCheckpoint(string(s.Checkpoint.Kind), string(m.Choice))
	case Continuation:
		return TurnResult{}, errors.New("continuations are internal")
	default:
		return TurnResult{}, fmt.Errorf("unsupported message %T", in)
	}

	var messages []string
	var exportCSV string
	msg := in
	for step := 0; ; step++ {
		if step >= o.settings.MaxAutoSteps {
			o.logger.Warn("⏸️  Auto-step limit (%d) reached in %s", o.settings.MaxAutoSteps, s.Phase)
			messages = append(messages, "I've paused here. Send a message to keep going.")
			break
		}

		route, err := o.router.Route(s, msg)
		if err != nil {
			return TurnResult{}, err
		}
		if route.Reset {
			s = o.reset(s)
		}
		h := o.handlers[route.Handler]
		if h == nil {
			return TurnResult{}, fmt.Errorf("no handler for phase %s", route.Handler)
		}

		logx.DebugFlow(ctx, "workflow", "route", string(route.Handler), fmt.Sprintf("%T", msg))
		out, err := h.Handle(ctx, s, msg)
		if err != nil {
			o.logger.Error("❌ %s handler failed: %v", route.Handler, err)
			return TurnResult{}, fmt.Errorf("%s: %w", strings.ToLower(string(route.Handler)), err)
		}

		from := s.Phase
		next, err := s.Apply(out.Update, o.settings.now())
		if err != nil {
			return TurnResult{}, err
		}
		if next.Phase != from {
			o.recorder.IncPhaseTransition(string(from), string(next.Phase))
			o.logger.Info("🔄 %s → %s", phaseLabel(from), next.Phase)
		}
		s = next

		messages = append(messages, out.Message)
		if out.ExportCSV != "" {
			exportCSV = out.ExportCSV
		}
		if !out.Continue {
			break
		}
		msg = Continuation{}
	}

	return o.finish(ctx, s, expected, joinParagraphs(messages...), exportCSV)
}

// reset starts over after END, keeping only the message that began the new search.
func (o *Orchestrator) reset(s SessionState) SessionState {
	fresh := NewSession(s.ID, o.settings.now())
	fresh.Version = s.Version
	if n := len(s.Transcript); n > 0 && s.Transcript[n-1].Role == RoleUser {
		fresh.Transcript = []Turn{s.Transcript[n-1]}
	}
	o.logger.Info("♻️  Session %s reset for a new search", s.ID)
	return fresh
}

func (o *Orchestrator) finish(ctx context.Context, s SessionState, expected int, message, exportCSV string) (TurnResult, error) {
	now := o.settings.now()
	s = s.withTurn(RoleAssistant, message, now)
	if s.Version == expected {
		s.Version++
	}
	s.UpdatedAt = now

	if err := o.store.Save(ctx, s, expected); err != nil {
		return TurnResult{}, fmt.Errorf("save session %s: %w", s.ID, err)
	}

	enriched, total := s.Table.EnrichmentProgress()
	return TurnResult{
		SessionID:    s.ID,
		Phase:        s.Phase,
		Message:      message,
		Table:        s.Table.Clone(),
		Checkpoint:   s.Checkpoint,
		Progress:     Progress{Enriched: enriched, Total: total},
		ExportCSV:    exportCSV,
		ErrorContext: s.ErrorContext,
		Version:      s.Version,
	}, nil
}

// Session returns a copy of the stored state.
func (o *Orchestrator) Session(ctx context.Context, id string) (SessionState, error) {
	return o.store.Load(ctx, id)
}

// Export renders the session's table as CSV without internal columns.
func (o *Orchestrator) Export(ctx context.Context, id string) (string, error) {
	s, err := o.store.Load(ctx, id)
	if err != nil {
		return "", err
	}
	return s.Table.Export(true)
}

// Reset forgets the session.
func (o *Orchestrator) Reset(ctx context.Context, id string) error {
	unlock := o.lock(id)
	defer unlock()
	return o.store.Delete(ctx, id)
}

func phaseLabel(p Phase) string {
	if p == PhaseUnset {
		return "START"
	}
	return string(p)
}
