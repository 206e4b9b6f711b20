package workflow

import (
	"context"
	"fmt"
	"strings"

	"shortlist/pkg/llm"
	"shortlist/pkg/logx"
	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
	"shortlist/pkg/templates"
	"shortlist/pkg/tokens"
)

// Handler processes one inbound message for a phase.
type Handler interface {
	Handle(ctx context.Context, s SessionState, in Inbound) (Outcome, error)
}

// IntakeHandler turns conversation into structured requirements and asks for
// confirmation once they are complete enough to search.
type IntakeHandler struct {
	llm      llm.LLMClient
	renderer *templates.Renderer
	settings Settings
	logger   *logx.Logger
}

// NewIntakeHandler creates the intake handler.
func NewIntakeHandler(client llm.LLMClient, settings Settings) *IntakeHandler {
	return &IntakeHandler{
		llm:      client,
		renderer: templates.Default(),
		settings: settings,
		logger:   logx.NewLogger("intake"),
	}
}

type intakeResponse struct {
	ProductType    string   `json:"product_type"`
	BudgetMin      *float64 `json:"budget_min"`
	BudgetMax      *float64 `json:"budget_max"`
	Currency       string   `json:"currency"`
	MustHaves      []string `json:"must_haves"`
	NiceToHaves    []string `json:"nice_to_haves"`
	Priorities     []string `json:"priorities"`
	Specifications []string `json:"specifications"`
	Constraints    []string `json:"constraints"`
	Questions      []string `json:"questions"`
	Reply          string   `json:"reply"`
}

func (r intakeResponse) requirements() requirements.Requirements {
	out := requirements.Requirements{
		ProductType:    strings.TrimSpace(r.ProductType),
		Budget:         requirements.Budget{Min: r.BudgetMin, Max: r.BudgetMax, Currency: normalizeCurrency(r.Currency)},
		MustHaves:      clean(r.MustHaves),
		NiceToHaves:    clean(r.NiceToHaves),
		Priorities:     clean(r.Priorities),
		Specifications: clean(r.Specifications),
		Constraints:    clean(r.Constraints),
	}
	if out.Budget.Min != nil && *out.Budget.Min <= 0 {
		out.Budget.Min = nil
	}
	if out.Budget.Max != nil && *out.Budget.Max <= 0 {
		out.Budget.Max = nil
	}
	return out
}

// Handle implements Handler.
func (h *IntakeHandler) Handle(ctx context.Context, s SessionState, in Inbound) (Outcome, error) {
	switch m := in.(type) {
	case CheckpointConfirmation:
		return h.confirm(s, m), nil
	case UserText:
		return h.extract(ctx, s), nil
	case Continuation:
		return h.extract(ctx, s), nil
	default:
		return Outcome{}, fmt.Errorf("intake: unexpected message %T", in)
	}
}

func (h *IntakeHandler) extract(ctx context.Context, s SessionState) Outcome {
	var u Update
	if s.Phase != PhaseIntake {
		u.Phase = Some(PhaseIntake)
	}

	system, err := h.renderer.Render(templates.IntakeTemplate, templates.IntakeData{
		Current:         s.Requirements.Summary(),
		DefaultCurrency: h.settings.DefaultCurrency,
		MaxQuestions:    h.settings.MaxQuestions,
		Rescope:         s.Rescope,
	})
	if err != nil {
		h.logger.Error("render intake prompt: %v", err)
		return Outcome{Update: u, Message: restateMessage}
	}
	user := "## Conversation\n" + strings.Join(recentTurns(s, h.settings.TranscriptTokens), "\n")

	var resp intakeResponse
	if err := llm.CompleteJSON(ctx, h.llm, llm.Prompt(system, user), &resp); err != nil {
		h.logger.Warn("⚠️  Requirement extraction failed: %v", err)
		return Outcome{Update: u, Message: restateMessage}
	}

	extracted := resp.requirements()
	next := s.Requirements.Merge(extracted)
	if s.Rescope {
		next = extracted
		if next.ProductType == "" {
			next.ProductType = s.Requirements.ProductType
		}
	}
	if next.Budget.IsSet() && next.Budget.Currency == "" {
		next.Budget.Currency = h.settings.DefaultCurrency
	}
	u.Requirements = Some(next)

	if s.Rescope && s.Table.RowCount() > 0 {
		if tbl, reset := h.rescopeTable(s, next); tbl != nil {
			u.Table = Some(tbl)
			if reset {
				u.RequestedFields = Some([]string(nil))
			}
		}
	}

	reply := strings.TrimSpace(resp.Reply)
	if !next.IsComplete() {
		u.Checkpoint = Some[*Checkpoint](nil)
		return Outcome{Update: u, Message: joinParagraphs(reply, h.questions(resp.Questions, next))}
	}

	prompt := "Here's what I have:\n" + bulletSummary(next) + "\n\nShall I start researching? (confirm / edit)"
	u.Checkpoint = Some(newCheckpoint(CheckpointRequirements, prompt, h.settings.now()))
	return Outcome{Update: u, Message: joinParagraphs(reply, prompt)}
}

// rescopeTable returns the table to keep after a scope change. A category change starts
// a fresh table; otherwise qualification cells are queued for re-checking against the
// new requirements. A nil table means no change.
func (h *IntakeHandler) rescopeTable(s SessionState, next requirements.Requirements) (*table.Table, bool) {
	if s.Requirements.CategoryChanged(next) {
		h.logger.Info("🔁 Category changed from %q to %q, starting a fresh table", s.Requirements.ProductType, next.ProductType)
		return table.New(), true
	}
	if !s.Table.HasField(table.FieldMeetsRequirements) {
		return nil, false
	}
	tbl := s.Table.Clone()
	for _, row := range tbl.Rows() {
		cell := row.Cell(table.FieldMeetsRequirements)
		if cell.Status == table.StatusEnriched || cell.Status == table.StatusFailed {
			if err := tbl.FlagCell(row.ID, table.FieldMeetsRequirements, "requirements changed"); err != nil {
				h.logger.Error("flag qualification for %s: %v", row.Candidate.Name, err)
			}
		}
	}
	return tbl, false
}

func (h *IntakeHandler) questions(fromModel []string, reqs requirements.Requirements) string {
	qs := clean(fromModel)
	if len(qs) == 0 {
		for _, m := range reqs.Missing() {
			switch m {
			case "product_type":
				qs = append(qs, "What kind of product are you looking for?")
			case "constraint":
				qs = append(qs, "Do you have a budget in mind, or any must-have features?")
			}
		}
	}
	if limit := h.settings.MaxQuestions; limit > 0 && len(qs) > limit {
		qs = qs[:limit]
	}
	lines := make([]string, len(qs))
	for i, q := range qs {
		lines[i] = "- " + q
	}
	return strings.Join(lines, "\n")
}

func (h *IntakeHandler) confirm(s SessionState, conf CheckpointConfirmation) Outcome {
	u := Update{Checkpoint: Some[*Checkpoint](nil)}
	if conf.Choice == ChoiceEdit {
		return Outcome{Update: u, Message: "No problem. What would you like to change?"}
	}

	u.Phase = Some(PhaseResearch)
	u.NeedNewSearch = Some(true)
	u.SearchTarget = Some(0)
	u.ErrorContext = Some("")
	if s.Rescope {
		u.Rescope = Some(false)
		u.Refinement = &RefinementEntry{
			Trigger: TriggerNewRequirements,
			Phrase:  s.LastUserText(),
			Changes: "requirements now: " + s.Requirements.Summary(),
		}
	}
	return Outcome{
		Update:   u,
		Message:  fmt.Sprintf("Great, researching %s options now. This can take a minute.", s.Requirements.ProductType),
		Continue: true,
	}
}

const restateMessage = "Sorry, I didn't quite catch that. Could you tell me again what you're looking for?"

func bulletSummary(r requirements.Requirements) string {
	parts := strings.Split(r.Summary(), "; ")
	for i, p := range parts {
		parts[i] = "- " + p
	}
	return strings.Join(parts, "\n")
}

func normalizeCurrency(c string) string {
	switch strings.ToUpper(strings.TrimSpace(c)) {
	case "£", "GBP":
		return "£"
	case "$", "USD":
		return "$"
	case "€", "EUR":
		return "€"
	}
	return ""
}

func clean(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func joinParagraphs(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// recentTurns keeps the newest transcript lines that fit the token budget.
func recentTurns(s SessionState, budget int) []string {
	lines := s.RecentTurns()
	if budget <= 0 {
		return lines
	}
	return tokens.Default().FitTail(lines, budget)
}
