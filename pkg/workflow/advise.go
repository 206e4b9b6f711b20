package workflow

import (
	"context"
	"fmt"
	"strings"

	"shortlist/pkg/llm"
	"shortlist/pkg/logx"
	"shortlist/pkg/table"
	"shortlist/pkg/templates"
)

// AdviseHandler presents ranked results and interprets what the user wants next.
type AdviseHandler struct {
	llm      llm.LLMClient
	renderer *templates.Renderer
	settings Settings
	logger   *logx.Logger
}

// NewAdviseHandler creates the advise handler.
func NewAdviseHandler(client llm.LLMClient, settings Settings) *AdviseHandler {
	return &AdviseHandler{
		llm:      client,
		renderer: templates.Default(),
		settings: settings,
		logger:   logx.NewLogger("advise"),
	}
}

func (h *AdviseHandler) recent(s SessionState) []string {
	return recentTurns(s, h.settings.TranscriptTokens)
}

// Handle implements Handler.
func (h *AdviseHandler) Handle(ctx context.Context, s SessionState, in Inbound) (Outcome, error) {
	switch m := in.(type) {
	case Continuation:
		if s.StagedIntent != nil && s.Checkpoint == nil {
			staged := *s.StagedIntent
			out := h.act(ctx, s, Classification{Intent: staged.Intent, Fields: staged.Fields, Products: staged.Products, Count: staged.Count}, staged.Phrase)
			if !out.Update.StagedIntent.Set {
				out.Update.StagedIntent = Some[*StagedIntent](nil)
			}
			return out, nil
		}
		return h.present(ctx, s), nil
	case CheckpointConfirmation:
		return h.confirmIntent(s, m), nil
	case UserText:
		c := h.classifyIntent(ctx, s, m.Text)
		h.logger.Info("🧭 Intent: %s (fallback=%t)", c.Intent, c.Fallback)
		if s.Phase != PhaseAdvise {
			// Text arriving mid-research is acted on once the session is back in ADVISE.
			return Outcome{
				Update: Update{
					Phase:        Some(PhaseAdvise),
					StagedIntent: Some(&StagedIntent{Intent: c.Intent, Fields: c.Fields, Products: c.Products, Count: c.Count, Phrase: m.Text}),
				},
				Continue: true,
			}, nil
		}
		return h.act(ctx, s, c, m.Text), nil
	default:
		return Outcome{}, fmt.Errorf("advise: unexpected message %T", in)
	}
}

func (h *AdviseHandler) act(ctx context.Context, s SessionState, c Classification, phrase string) Outcome {
	switch c.Intent {
	case IntentSatisfied:
		return Outcome{
			Update:  Update{Phase: Some(PhaseEnd), Checkpoint: Some[*Checkpoint](nil)},
			Message: "Glad I could help. Good luck with the purchase! Send a new message any time to start another search.",
		}
	case IntentExport:
		csv, err := s.Table.Export(true)
		if err != nil {
			h.logger.Error("export table: %v", err)
			return Outcome{Message: "Sorry, I couldn't export the table."}
		}
		return Outcome{Message: fmt.Sprintf("Here's the comparison as CSV (%d products).", s.Table.RowCount()), ExportCSV: csv}
	case IntentFollowUp:
		return Outcome{Message: h.followUp(ctx, s, phrase)}
	case IntentRequirementsChanged:
		return Outcome{
			Update: Update{
				Phase:        Some(PhaseIntake),
				Rescope:      Some(true),
				Checkpoint:   Some[*Checkpoint](nil),
				StagedIntent: Some[*StagedIntent](nil),
			},
			Continue: true,
		}
	case IntentMoreOptions, IntentNewFields, IntentRecheck:
		staged := &StagedIntent{Intent: c.Intent, Fields: c.Fields, Products: c.Products, Count: c.Count, Phrase: phrase}
		if c.Intent == IntentNewFields && len(staged.Fields) == 0 {
			return Outcome{Message: "Which columns would you like me to add?"}
		}
		if h.settings.ConfirmRefinements {
			prompt := refinementPrompt(staged) + "\n\nShall I go ahead? (proceed / clarify)"
			return Outcome{
				Update: Update{
					StagedIntent: Some(staged),
					Checkpoint:   Some(newCheckpoint(CheckpointIntent, prompt, h.settings.now())),
				},
				Message: prompt,
			}
		}
		return h.execute(s, staged)
	default:
		return Outcome{Message: "I'm not sure what you'd like to do next. You can ask about a product, " +
			"ask for more options or extra columns, change your requirements, or export the table."}
	}
}

func (h *AdviseHandler) confirmIntent(s SessionState, conf CheckpointConfirmation) Outcome {
	if conf.Choice == ChoiceClarify || s.StagedIntent == nil {
		return Outcome{
			Update:  Update{Checkpoint: Some[*Checkpoint](nil), StagedIntent: Some[*StagedIntent](nil)},
			Message: "Okay. What would you like instead?",
		}
	}
	return h.execute(s, s.StagedIntent)
}

// execute sets up the research flags for a confirmed refinement.
func (h *AdviseHandler) execute(s SessionState, staged *StagedIntent) Outcome {
	u := Update{
		Phase:        Some(PhaseResearch),
		Checkpoint:   Some[*Checkpoint](nil),
		StagedIntent: Some[*StagedIntent](nil),
		ErrorContext: Some(""),
	}
	entry := &RefinementEntry{Phrase: staged.Phrase}

	switch staged.Intent {
	case IntentMoreOptions:
		target := h.settings.MoreOptionsTarget
		if staged.Count > 0 {
			target = staged.Count
		}
		u.NeedNewSearch = Some(true)
		u.SearchTarget = Some(target)
		entry.Trigger = TriggerUserRequest
		entry.Changes = fmt.Sprintf("searching for up to %d more options", target)

	case IntentNewFields:
		u.RequestedFields = Some(append([]string(nil), staged.Fields...))
		if s.Table.RowCount() == 0 {
			u.NeedNewSearch = Some(true)
		}
		entry.Trigger = TriggerFieldAddition
		entry.Changes = "adding " + labels(staged.Fields)

	case IntentRecheck:
		tbl, corrected := flagForRecheck(s.Table, staged)
		pending := len(tbl.PendingCells())
		if pending == 0 {
			return Outcome{
				Update:  Update{Checkpoint: Some[*Checkpoint](nil), StagedIntent: Some[*StagedIntent](nil)},
				Message: "There's nothing to re-check right now. Every value I have came back without problems.",
			}
		}
		u.Table = Some(tbl)
		entry.Trigger = TriggerInsufficientData
		if corrected {
			entry.Trigger = TriggerCorrection
		}
		entry.Changes = fmt.Sprintf("re-checking %d values", pending)

	default:
		return Outcome{Message: "I'm not sure what to refine. Could you say that another way?"}
	}

	u.Refinement = entry
	return Outcome{Update: u, Message: "On it.", Continue: true}
}

// flagForRecheck flags the named products' cells, or every FAILED cell when no product
// is named. corrected reports a user-named correction rather than a data gap.
func flagForRecheck(src *table.Table, staged *StagedIntent) (tbl *table.Table, corrected bool) {
	tbl = src.Clone()
	var rows []*table.Row
	for _, name := range staged.Products {
		if r := tbl.FindRow(name); r != nil {
			rows = append(rows, r)
		}
	}

	if len(rows) == 0 {
		for _, ref := range tbl.FailedCells() {
			_ = tbl.FlagCell(ref.RowID, ref.Field.Name, "recheck requested")
		}
		return tbl, false
	}

	only := make(map[string]bool, len(staged.Fields))
	for _, f := range staged.Fields {
		only[f] = true
	}
	for _, r := range rows {
		for _, f := range tbl.Fields() {
			if f.Name == table.FieldName || (len(only) > 0 && !only[f.Name]) {
				continue
			}
			cell := r.Cell(f.Name)
			if cell == nil || (cell.Status != table.StatusEnriched && cell.Status != table.StatusFailed) {
				continue
			}
			_ = tbl.FlagCell(r.ID, f.Name, "user correction")
		}
	}
	return tbl, true
}

func refinementPrompt(staged *StagedIntent) string {
	switch staged.Intent {
	case IntentMoreOptions:
		if staged.Count > 0 {
			return fmt.Sprintf("I'll search for %d more options with the same requirements.", staged.Count)
		}
		return "I'll search for more options with the same requirements."
	case IntentNewFields:
		return "I'll add " + labels(staged.Fields) + " to the comparison and look up the values."
	case IntentRecheck:
		if len(staged.Products) > 0 {
			return "I'll re-check the data for " + strings.Join(staged.Products, ", ") + "."
		}
		return "I'll re-check the values I couldn't find."
	}
	return ""
}

func labels(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = table.LabelFor(n)
	}
	return strings.Join(out, ", ")
}

// present ranks the table and writes the recommendation. The error context stays on
// the state until the next research entry replaces it.
func (h *AdviseHandler) present(ctx context.Context, s SessionState) Outcome {
	var u Update
	if s.Phase != PhaseAdvise {
		u.Phase = Some(PhaseAdvise)
	}

	notes := caveats(s)
	if s.Table.RowCount() == 0 {
		return Outcome{Update: u, Message: joinParagraphs(
			"I couldn't find any products for "+s.Requirements.ProductType+".",
			bullets(notes),
			"Try loosening the requirements, for example a wider budget or fewer must-haves.",
		)}
	}

	topN := h.settings.TopN
	if topN <= 0 {
		topN = 5
	}
	ranked := Rank(s.Table, s.Requirements)
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	top := s.Table.DisplayRows(ranked, topN, true)

	data := templates.AdviseData{
		Summary:  s.Requirements.Summary(),
		TopTable: top,
		Caveats:  notes,
	}
	for _, r := range lastRefinements(s.Refinements, 3) {
		data.Refinements = append(data.Refinements, r.String())
	}

	narrative := h.narrate(ctx, data)
	if narrative == "" {
		narrative = fallbackAdvice(s, ranked)
	}
	return Outcome{Update: u, Message: joinParagraphs(top, narrative, bullets(notes))}
}

func (h *AdviseHandler) narrate(ctx context.Context, data templates.AdviseData) string {
	prompt, err := h.renderer.RenderWithUserInstructions(templates.AdviseTemplate, data, h.settings.InstructionsDir)
	if err != nil {
		h.logger.Error("render advise prompt: %v", err)
		return ""
	}
	resp, err := h.llm.Complete(ctx, llm.Prompt("", prompt))
	if err != nil {
		h.logger.Warn("⚠️  Advice generation failed, using summary: %v", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

func (h *AdviseHandler) followUp(ctx context.Context, s SessionState, question string) string {
	prompt, err := h.renderer.RenderWithUserInstructions(templates.FollowUpTemplate, templates.FollowUpData{
		Summary:  s.Requirements.Summary(),
		Table:    s.Table.DisplayTable(h.settings.DisplayRows, true),
		Question: question,
		Recent:   h.recent(s),
	}, h.settings.InstructionsDir)
	if err == nil {
		var resp llm.CompletionResponse
		if resp, err = h.llm.Complete(ctx, llm.Prompt("", prompt)); err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content)
		}
	}
	h.logger.Warn("⚠️  Follow-up answer failed: %v", err)
	return "Sorry, I couldn't answer that just now. Here's the comparison so far:\n\n" +
		s.Table.DisplayTable(h.settings.DisplayRows, true)
}

func caveats(s SessionState) []string {
	var out []string
	counts := s.Table.StatusCounts()
	if n := counts[table.StatusFailed]; n > 0 {
		out = append(out, fmt.Sprintf("%d values couldn't be found and are left blank.", n))
	}
	if n := counts[table.StatusPending] + counts[table.StatusFlagged]; n > 0 {
		out = append(out, fmt.Sprintf("%d values are still being looked up.", n))
	}
	if s.ErrorContext != "" {
		out = append(out, "Some research steps failed: "+s.ErrorContext)
	}
	return out
}

func bullets(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "- " + strings.Join(items, "\n- ")
}

func lastRefinements(entries []RefinementEntry, n int) []RefinementEntry {
	if len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

// fallbackAdvice summarises the top rows without the LLM.
func fallbackAdvice(s SessionState, ranked []*table.Row) string {
	var b strings.Builder
	b.WriteString("Here are the strongest options for " + s.Requirements.ProductType + ":\n")
	for i, r := range ranked {
		line := fmt.Sprintf("%d. **%s**", i+1, r.Candidate.Name)
		if c := r.Cell(table.FieldPrice); c != nil && c.Status == table.StatusEnriched {
			line += " at " + table.FormatValue(c.Value)
		}
		switch {
		case r.MeetsRequirements == nil:
			line += " (not yet checked against your requirements)"
		case *r.MeetsRequirements:
			line += " meets your requirements"
		default:
			line += " misses some requirements"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\nAsk me about any of them, request more options or extra columns, or say \"export\" for a CSV.")
	return b.String()
}
