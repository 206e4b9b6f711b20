package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"shortlist/pkg/enricher"
	"shortlist/pkg/explorer"
	"shortlist/pkg/logx"
	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
)

// Discoverer finds candidate products. *explorer.Explorer implements it.
type Discoverer interface {
	Explore(ctx context.Context, reqs requirements.Requirements, existing *table.Table, opts explorer.ExploreOptions) (explorer.Result, error)
}

// CellEnricher resolves pending cells. *enricher.Enricher implements it.
type CellEnricher interface {
	Run(ctx context.Context, tbl *table.Table, refs []table.CellRef) (enricher.Report, error)
}

// ResearchPath is the work a RESEARCH entry performs.
type ResearchPath string

// Research paths, checked in this order.
const (
	PathNewSearch ResearchPath = "new_search"
	PathAddFields ResearchPath = "add_fields"
	PathReEnrich  ResearchPath = "re_enrich"
	PathNone      ResearchPath = "none"
)

// SelectPath picks exactly one research path from the session flags.
func SelectPath(s SessionState) ResearchPath {
	switch {
	case s.NeedNewSearch, len(s.RequestedFields) > 0 && s.Table.RowCount() == 0:
		return PathNewSearch
	case len(s.RequestedFields) > 0:
		return PathAddFields
	case len(s.Table.PendingCells()) > 0:
		return PathReEnrich
	default:
		return PathNone
	}
}

// ResearchHandler runs discovery and enrichment.
type ResearchHandler struct {
	explorer Discoverer
	enricher CellEnricher
	settings Settings
	logger   *logx.Logger
}

// NewResearchHandler creates the research handler.
func NewResearchHandler(d Discoverer, e CellEnricher, settings Settings) *ResearchHandler {
	return &ResearchHandler{
		explorer: d,
		enricher: e,
		settings: settings,
		logger:   logx.NewLogger("research"),
	}
}

// Handle implements Handler.
func (h *ResearchHandler) Handle(ctx context.Context, s SessionState, in Inbound) (Outcome, error) {
	switch m := in.(type) {
	case Continuation:
		return h.run(ctx, s)
	case CheckpointConfirmation:
		return h.confirmFields(ctx, s, m)
	case UserText:
		return h.editFields(s, m.Text), nil
	default:
		return Outcome{}, fmt.Errorf("research: unexpected message %T", in)
	}
}

func (h *ResearchHandler) run(ctx context.Context, s SessionState) (Outcome, error) {
	path := SelectPath(s)
	logx.DebugFlow(ctx, "research", "select_path", string(path))

	switch path {
	case PathNewSearch:
		return h.newSearch(ctx, s)
	case PathAddFields:
		return h.addFields(ctx, s)
	case PathReEnrich:
		tbl := s.Table.Clone()
		return h.enrichAndAdvise(ctx, s, tbl, tbl.PendingCells(), "Re-checking the flagged and missing values.")
	case PathNone:
		return Outcome{Update: leaveResearch(s.Table, s.ErrorContext), Message: "Nothing new to research.", Continue: true}, nil
	default:
		return Outcome{}, fmt.Errorf("research: unknown path %q", path)
	}
}

func (h *ResearchHandler) newSearch(ctx context.Context, s SessionState) (Outcome, error) {
	opts := explorer.ExploreOptions{SkipFields: s.SearchTarget > 0, Target: s.SearchTarget}
	res, err := h.explorer.Explore(ctx, s.Requirements, s.Table, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{}, err
		}
		h.logger.Warn("⚠️  Search produced no candidates: %v", err)
		return Outcome{
			Update:   leaveResearch(s.Table, "search failed: "+err.Error()),
			Message:  "I couldn't find any new candidates this time.",
			Continue: true,
		}, nil
	}

	tbl := s.Table.Clone()
	added := 0
	for _, c := range res.Candidates {
		if inserted, _ := tbl.AddRow(c); inserted {
			added++
		}
	}
	lead := fmt.Sprintf("Found %d candidates from %d searches.", added, len(res.Plan.Queries))
	if res.FailedQueries > 0 {
		lead = fmt.Sprintf("Found %d candidates from %d searches (%d failed).", added, len(res.Plan.Queries), res.FailedQueries)
	}

	fields := newFields(tbl, res.Fields, s.RequestedFields)
	if len(fields) > 0 && h.settings.ConfirmFields {
		prompt := fieldsPrompt(fields)
		return Outcome{
			Update: Update{
				Table:              Some(tbl),
				StagedFields:       Some(fields),
				Checkpoint:         Some(newCheckpoint(CheckpointFields, prompt, h.settings.now())),
				NeedNewSearch:      Some(false),
				RequestedFields:    Some([]string(nil)),
				SearchTarget:       Some(0),
				AwaitingFieldEdits: Some(false),
			},
			Message: joinParagraphs(lead, prompt),
		}, nil
	}

	for _, f := range fields {
		tbl.AddField(f)
	}
	// This pass also picks up cells left pending by earlier runs.
	return h.enrichAndAdvise(ctx, s, tbl, tbl.PendingCells(), lead)
}

// newFields returns proposed and requested fields the table does not have yet, keeping
// the qualification field last.
func newFields(tbl *table.Table, proposed []table.FieldDefinition, requested []string) []table.FieldDefinition {
	var out, qualification []table.FieldDefinition
	seen := make(map[string]bool)
	add := func(f table.FieldDefinition) {
		if f.Name == "" || seen[f.Name] || tbl.HasField(f.Name) {
			return
		}
		seen[f.Name] = true
		if f.Category == table.CategoryQualification {
			qualification = append(qualification, f)
			return
		}
		out = append(out, f)
	}
	for _, f := range proposed {
		add(f)
	}
	for _, name := range requested {
		add(explorer.RequestedField(name))
	}
	return append(out, qualification...)
}

func (h *ResearchHandler) addFields(ctx context.Context, s SessionState) (Outcome, error) {
	tbl := s.Table.Clone()
	var names, labels []string
	for _, name := range s.RequestedFields {
		def := explorer.RequestedField(name)
		if def.Name == "" {
			continue
		}
		if tbl.AddField(def) {
			labels = append(labels, def.Label)
		}
		names = append(names, def.Name)
	}
	if len(labels) == 0 {
		return h.enrichAndAdvise(ctx, s, tbl, tbl.PendingCellsFor(names), "Those columns are already in the table.")
	}
	return h.enrichAndAdvise(ctx, s, tbl, tbl.PendingCellsFor(names), "Added "+strings.Join(labels, ", ")+" to the comparison.")
}

func (h *ResearchHandler) confirmFields(ctx context.Context, s SessionState, conf CheckpointConfirmation) (Outcome, error) {
	if conf.Choice == ChoiceModifyFields {
		return Outcome{
			Update: Update{
				Checkpoint:         Some[*Checkpoint](nil),
				AwaitingFieldEdits: Some(true),
			},
			Message: "Which fields should I add or remove? For example: \"add warranty, remove colour\".",
		}, nil
	}

	tbl := s.Table.Clone()
	for _, f := range s.StagedFields {
		tbl.AddField(f)
	}
	return h.enrichAndAdvise(ctx, s, tbl, tbl.PendingCells(), "")
}

func (h *ResearchHandler) editFields(s SessionState, text string) Outcome {
	adds, removes := ParseFieldEdits(text)
	if len(adds) == 0 && len(removes) == 0 {
		return Outcome{Message: "I didn't catch that. Try something like \"add warranty, remove colour\", or choose enrich-now."}
	}

	staged := append([]table.FieldDefinition(nil), s.StagedFields...)
	var kept []string
	for _, name := range removes {
		snake := explorer.SnakeCase(name)
		next := staged[:0:0]
		for _, f := range staged {
			match := f.Name == snake || explorer.SnakeCase(f.Label) == snake
			if match && (f.Category == table.CategoryStandard || f.Category == table.CategoryQualification) {
				kept = append(kept, f.Label)
				match = false
			}
			if !match {
				next = append(next, f)
			}
		}
		staged = next
	}
	staged = newFields(s.Table, staged, adds)

	prompt := fieldsPrompt(staged)
	msg := prompt
	if len(kept) > 0 {
		msg = joinParagraphs("I kept "+strings.Join(kept, ", ")+" because every comparison needs it.", prompt)
	}
	return Outcome{
		Update: Update{
			StagedFields:       Some(staged),
			Checkpoint:         Some(newCheckpoint(CheckpointFields, prompt, h.settings.now())),
			AwaitingFieldEdits: Some(false),
		},
		Message: msg,
	}
}

var fieldEditPattern = regexp.MustCompile(`(?i)\b(add|include|plus|remove|drop|delete|without)\b`)

// ParseFieldEdits reads "add X, Y and remove Z" into the names to add and remove.
func ParseFieldEdits(text string) (adds, removes []string) {
	locs := fieldEditPattern.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		verb := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := strings.Trim(text[loc[1]:end], " ,.;:!")
		for _, conj := range []string{" and", " then", " but"} {
			segment = strings.TrimSuffix(segment, conj)
		}
		items := splitList(strings.Trim(segment, " ,.;:!"))
		switch verb {
		case "add", "include", "plus":
			adds = append(adds, items...)
		default:
			removes = append(removes, items...)
		}
	}
	return adds, removes
}

func (h *ResearchHandler) enrichAndAdvise(ctx context.Context, s SessionState, tbl *table.Table, refs []table.CellRef, lead string) (Outcome, error) {
	ectx := enricher.WithCurrency(ctx, s.Requirements.Currency())
	ectx = enricher.WithRequirements(ectx, s.Requirements.Summary())

	report, err := h.enricher.Run(ectx, tbl, refs)
	errCtx := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return Outcome{}, err
	case errors.Is(err, enricher.ErrEnrichmentFailed):
		errCtx = "enrichment failed: " + err.Error()
		h.logger.Warn("⚠️  %s", errCtx)
	default:
		return Outcome{}, fmt.Errorf("research: enrich: %w", err)
	}

	summary := fmt.Sprintf("Looked up %d values: %d found, %d missing.", report.Targeted, report.Enriched, report.Failed)
	if report.Pending > 0 {
		summary = fmt.Sprintf("Couldn't look up %d values right now; they're still pending.", report.Pending)
	}
	if report.Targeted == 0 {
		summary = ""
	}
	return Outcome{
		Update:   leaveResearch(tbl, errCtx),
		Message:  joinParagraphs(lead, summary),
		Continue: true,
	}, nil
}

// leaveResearch moves to ADVISE and clears every research flag.
func leaveResearch(tbl *table.Table, errCtx string) Update {
	return Update{
		Phase:              Some(PhaseAdvise),
		Table:              Some(tbl),
		NeedNewSearch:      Some(false),
		RequestedFields:    Some([]string(nil)),
		SearchTarget:       Some(0),
		ErrorContext:       Some(errCtx),
		Checkpoint:         Some[*Checkpoint](nil),
		StagedFields:       Some([]table.FieldDefinition(nil)),
		AwaitingFieldEdits: Some(false),
	}
}

func fieldsPrompt(fields []table.FieldDefinition) string {
	var b strings.Builder
	b.WriteString("I'll compare them on:\n")
	for _, f := range fields {
		if f.Internal() {
			continue
		}
		b.WriteString("- " + f.Label + "\n")
	}
	b.WriteString("\nEnrich now, or modify the fields? (enrich-now / modify-fields)")
	return b.String()
}
