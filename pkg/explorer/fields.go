package explorer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"shortlist/pkg/llm"
	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
	"shortlist/pkg/templates"
)

// Category field bounds.
const (
	MinCategoryFields = 5
	MaxCategoryFields = 10
	// MaxMustHaveFields caps the columns derived from must-haves.
	MaxMustHaveFields = 3
)

// subjectiveMarkers flag fields that cannot be verified from a spec sheet.
//
//nolint:gochecknoglobals // static word list
var subjectiveMarkers = []string{
	"rating", "score", "quality", "value_for_money", "value", "opinion", "reputation",
	"satisfaction", "recommend", "best_for", "pros", "cons", "verdict", "feel",
	"cost_per", "running_cost", "total_cost", "cost_of_ownership", "estimated_cost", "annual_cost",
}

// StandardFields are included in every table.
func StandardFields() []table.FieldDefinition {
	return []table.FieldDefinition{
		{
			Name: table.FieldName, Label: "Name", Category: table.CategoryStandard, DataType: table.TypeString,
			Prompt: "Extract the full product name including brand and model number.",
		},
		{
			Name: table.FieldPrice, Label: "Price", Category: table.CategoryStandard, DataType: table.TypeString,
			Prompt: "Extract the current retail price with currency symbol. Use the regular price, not a sale price. If a range is given, use the starting price.",
		},
		{
			Name: table.FieldOfficialURL, Label: "Official URL", Category: table.CategoryStandard, DataType: table.TypeString,
			Prompt: "Give the official manufacturer product page URL. Never a retailer or review site. Return null if unknown.",
		},
	}
}

// QualificationField checks a product against every stated requirement.
func QualificationField(reqs requirements.Requirements) table.FieldDefinition {
	return table.FieldDefinition{
		Name:     table.FieldMeetsRequirements,
		Label:    "Meets Requirements",
		Category: table.CategoryQualification,
		DataType: table.TypeBoolean,
		Prompt: fmt.Sprintf("Does this product meet ALL these requirements: %s? "+
			"Answer true only if every requirement is met. Answer false if any is not met or unclear.", reqs.Summary()),
	}
}

// RequestedField builds a user-driven definition for a column the user asked for.
func RequestedField(name string) table.FieldDefinition {
	snake := SnakeCase(name)
	label := table.LabelFor(snake)
	return table.FieldDefinition{
		Name:     snake,
		Label:    label,
		Category: table.CategoryUserDriven,
		DataType: table.TypeString,
		Prompt:   fmt.Sprintf("Extract or determine the %s for this product", label),
	}
}

type fieldsResponse struct {
	Fields []struct {
		Name     string `json:"name"`
		Label    string `json:"label"`
		DataType string `json:"data_type"`
		Prompt   string `json:"prompt"`
	} `json:"fields"`
}

// ProposeFields returns the full field set for reqs: standard, category, user-driven and
// qualification fields, in that order, without duplicates.
func (e *Explorer) ProposeFields(ctx context.Context, reqs requirements.Requirements) []table.FieldDefinition {
	sc := e.buildContext(reqs)

	fields := StandardFields()
	seen := make(map[string]bool)
	for _, f := range fields {
		seen[f.Name] = true
	}
	add := func(f table.FieldDefinition) bool {
		if f.Name == "" || seen[f.Name] {
			return false
		}
		seen[f.Name] = true
		fields = append(fields, f)
		return true
	}

	category, err := e.llmCategoryFields(ctx, sc)
	if err != nil || len(category) < MinCategoryFields {
		if err != nil {
			e.logger.Warn("⚠️  Field generation failed, using %s templates: %v", sc.categoryName, err)
		}
		category = templateFields(sc.category)
	}
	n := 0
	for _, f := range category {
		if n == MaxCategoryFields {
			break
		}
		if add(f) {
			n++
		}
	}

	for _, p := range reqs.Priorities {
		if tmpl, ok := e.kb.PriorityField(p); ok {
			add(tmpl.Definition(table.CategoryUserDriven))
		}
	}
	for _, m := range head(reqs.MustHaves, MaxMustHaveFields) {
		add(mustHaveField(m))
	}

	add(QualificationField(reqs))
	return fields
}

func (e *Explorer) llmCategoryFields(ctx context.Context, sc searchContext) ([]table.FieldDefinition, error) {
	prompt, err := e.renderer.Render(templates.FieldGenerationTemplate, templates.FieldGenerationData{
		ProductType: sc.productType(),
		Summary:     sc.reqs.Summary(),
		KeySpecs:    sc.category.KeySpecs,
		MinFields:   MinCategoryFields,
		MaxFields:   MaxCategoryFields,
	})
	if err != nil {
		return nil, err
	}

	var resp fieldsResponse
	if err := llm.CompleteJSON(ctx, e.llm, llm.Prompt("", prompt), &resp); err != nil {
		return nil, fmt.Errorf("generate fields: %w", err)
	}

	var out []table.FieldDefinition
	for _, f := range resp.Fields {
		def := FieldTemplate{Name: SnakeCase(f.Name), Label: f.Label, DataType: f.DataType, Prompt: f.Prompt}.
			Definition(table.CategorySpecific)
		if def.Name == "" || IsSubjective(def) || isStandardName(def.Name) {
			continue
		}
		if def.Prompt == "" {
			def.Prompt = fmt.Sprintf("Extract the %s for this product", table.LabelFor(def.Name))
		}
		out = append(out, def)
	}
	return out, nil
}

func templateFields(c Category) []table.FieldDefinition {
	out := make([]table.FieldDefinition, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, f.Definition(table.CategorySpecific))
	}
	return out
}

func mustHaveField(mustHave string) table.FieldDefinition {
	name := SnakeCase(mustHave)
	return table.FieldDefinition{
		Name:     name,
		Label:    table.LabelFor(name),
		Category: table.CategoryUserDriven,
		DataType: table.TypeBoolean,
		Prompt:   fmt.Sprintf("Does this product have %s? Answer true if present, false if not.", mustHave),
	}
}

// IsSubjective reports whether a field asks for an opinion or a cost estimate.
func IsSubjective(f table.FieldDefinition) bool {
	tokens := strings.Split(f.Name, "_")
	for _, m := range subjectiveMarkers {
		if strings.Contains(m, "_") {
			if strings.Contains(f.Name, m) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == m {
				return true
			}
		}
	}
	return false
}

func isStandardName(name string) bool {
	switch name {
	case table.FieldName, table.FieldPrice, table.FieldOfficialURL, table.FieldMeetsRequirements:
		return true
	}
	return false
}

const maxFieldNameRunes = 48

// SnakeCase converts free text such as "Battery life (hours)" to "battery_life_hours".
func SnakeCase(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if underscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			underscore = false
			b.WriteRune(r)
			continue
		}
		underscore = true
	}
	out := []rune(b.String())
	if len(out) > maxFieldNameRunes {
		return strings.TrimRight(string(out[:maxFieldNameRunes]), "_")
	}
	return string(out)
}
