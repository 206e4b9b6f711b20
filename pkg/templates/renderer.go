// Package templates renders the LLM prompts used by every phase of a shortlist session.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"shortlist/pkg/search"
	"shortlist/pkg/table"
)

//go:embed *.tpl.md
var templateFS embed.FS

// StateTemplate names an embedded prompt template.
type StateTemplate string

const (
	// IntakeTemplate extracts requirements from the conversation.
	IntakeTemplate StateTemplate = "intake.tpl.md"
	// QueryPlanTemplate plans the discovery searches.
	QueryPlanTemplate StateTemplate = "query_plan.tpl.md"
	// ExtractCandidatesTemplate pulls product names out of search results.
	ExtractCandidatesTemplate StateTemplate = "extract_candidates.tpl.md"
	// FieldGenerationTemplate proposes category comparison fields.
	FieldGenerationTemplate StateTemplate = "field_generation.tpl.md"
	// EnrichRowTemplate fills the requested fields for one product.
	EnrichRowTemplate StateTemplate = "enrich_row.tpl.md"
	// IntentTemplate classifies a message received while advising.
	IntentTemplate StateTemplate = "intent.tpl.md"
	// AdviseTemplate writes the recommendation narrative.
	AdviseTemplate StateTemplate = "advise.tpl.md"
	// FollowUpTemplate answers questions about the comparison.
	FollowUpTemplate StateTemplate = "followup.tpl.md"
)

// IntakeData feeds IntakeTemplate.
type IntakeData struct {
	Current         string
	DefaultCurrency string
	MaxQuestions    int
	Rescope         bool
}

// QueryPlanData feeds QueryPlanTemplate.
type QueryPlanData struct {
	Summary     string
	Category    string
	Region      string
	Currency    string
	Budget      string
	Brands      []string
	ReviewSites []string
	Subreddits  []string
	KeySpecs    []string
	UseCases    []string
	Angles      []string
	Constraints []string
	Year        int
	MinQueries  int
	MaxQueries  int
}

// ExtractCandidatesData feeds ExtractCandidatesTemplate.
type ExtractCandidatesData struct {
	ProductType string
	Query       string
	Results     []search.Result
}

// FieldGenerationData feeds FieldGenerationTemplate.
type FieldGenerationData struct {
	ProductType string
	Summary     string
	KeySpecs    []string
	MinFields   int
	MaxFields   int
}

// EnrichRowData feeds EnrichRowTemplate.
type EnrichRowData struct {
	Product      table.Candidate
	Fields       []table.FieldDefinition
	Currency     string
	Requirements string
	Sources      []search.Result
}

// IntentData feeds IntentTemplate.
type IntentData struct {
	Summary  string
	Message  string
	Fields   []string
	Products []string
	Recent   []string
}

// AdviseData feeds AdviseTemplate.
type AdviseData struct {
	Summary     string
	TopTable    string
	Caveats     []string
	Refinements []string
}

// FollowUpData feeds FollowUpTemplate.
type FollowUpData struct {
	Summary  string
	Table    string
	Question string
	Recent   []string
}

//nolint:gochecknoglobals // template helpers
var funcs = template.FuncMap{
	"join":     strings.Join,
	"contains": strings.Contains,
	"inc":      func(i int) int { return i + 1 },
	"orNone": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "none"
		}
		return s
	},
	"quote": strconv.Quote,
}

// Renderer handles template rendering for prompts.
type Renderer struct {
	templates map[StateTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[StateTemplate]*template.Template),
	}

	templateNames := []StateTemplate{
		IntakeTemplate,
		QueryPlanTemplate,
		ExtractCandidatesTemplate,
		FieldGenerationTemplate,
		EnrichRowTemplate,
		IntentTemplate,
		AdviseTemplate,
		FollowUpTemplate,
	}

	for _, name := range templateNames {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(funcs).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName StateTemplate, data any) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// GetAvailableTemplates returns a list of all available templates.
func (r *Renderer) GetAvailableTemplates() []StateTemplate {
	names := make([]StateTemplate, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

var (
	defaultOnce     sync.Once
	defaultRenderer *Renderer
	errDefault      error
)

// Default returns a shared renderer. The templates are embedded, so a parse failure is a
// build defect and panics.
func Default() *Renderer {
	defaultOnce.Do(func() {
		defaultRenderer, errDefault = NewRenderer()
	})
	if errDefault != nil {
		panic(errDefault)
	}
	return defaultRenderer
}
