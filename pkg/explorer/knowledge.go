package explorer

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"shortlist/pkg/table"
)

//go:embed knowledge.yaml
var knowledgeYAML []byte

// DefaultCategory is used when no category matches the product type.
const DefaultCategory = "default"

// FieldTemplate is a field definition as written in the knowledge base.
type FieldTemplate struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	DataType string `yaml:"data_type"`
	Prompt   string `yaml:"prompt"`
}

// Definition converts the template to a table field in the given category.
func (f FieldTemplate) Definition(category table.FieldCategory) table.FieldDefinition {
	return table.FieldDefinition{
		Name:     f.Name,
		Label:    f.Label,
		Category: category,
		DataType: parseDataType(f.DataType),
		Prompt:   f.Prompt,
	}
}

// PriceTiers are rough category price points in the local currency.
type PriceTiers struct {
	Budget float64 `yaml:"budget"`
	Mid    float64 `yaml:"mid"`
}

// Category is everything known about one product category.
type Category struct {
	Aliases     []string        `yaml:"aliases"`
	TopBrands   []string        `yaml:"top_brands"`
	ReviewSites []string        `yaml:"review_sites"`
	Subreddits  []string        `yaml:"subreddits"`
	KeySpecs    []string        `yaml:"key_specs"`
	UseCases    []string        `yaml:"use_cases"`
	PriceTiers  PriceTiers      `yaml:"price_tiers"`
	Fields      []FieldTemplate `yaml:"fields"`
}

// Region carries search localisation.
type Region struct {
	Currency     string `yaml:"currency"`
	SearchSuffix string `yaml:"search_suffix"`
}

// Knowledge is the embedded category knowledge base.
type Knowledge struct {
	Regions        map[string]Region        `yaml:"regions"`
	PriorityFields map[string]FieldTemplate `yaml:"priority_fields"`
	Categories     map[string]Category      `yaml:"categories"`
}

// ParseKnowledge decodes a knowledge base document.
func ParseKnowledge(data []byte) (*Knowledge, error) {
	var kb Knowledge
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	if _, ok := kb.Categories[DefaultCategory]; !ok {
		return nil, fmt.Errorf("parse knowledge base: missing %q category", DefaultCategory)
	}
	return &kb, nil
}

var (
	defaultKBOnce sync.Once
	defaultKB     *Knowledge
	defaultKBErr  error
)

// DefaultKnowledge returns the embedded knowledge base.
func DefaultKnowledge() *Knowledge {
	defaultKBOnce.Do(func() {
		defaultKB, defaultKBErr = ParseKnowledge(knowledgeYAML)
	})
	if defaultKBErr != nil {
		panic(defaultKBErr)
	}
	return defaultKB
}

// FindCategory matches productType by exact name, then alias, then partial name.
func (kb *Knowledge) FindCategory(productType string) (string, Category) {
	pt := strings.ToLower(strings.TrimSpace(productType))
	if pt == "" {
		return DefaultCategory, kb.Categories[DefaultCategory]
	}
	if c, ok := kb.Categories[pt]; ok {
		return pt, c
	}

	names := kb.categoryNames()
	for _, name := range names {
		for _, alias := range kb.Categories[name].Aliases {
			if containsWord(pt, strings.ToLower(alias)) {
				return name, kb.Categories[name]
			}
		}
	}
	for _, name := range names {
		if containsWord(pt, name) || containsWord(name, pt) {
			return name, kb.Categories[name]
		}
	}
	return DefaultCategory, kb.Categories[DefaultCategory]
}

// categoryNames lists non-default categories, longest first so "electric car" beats "car".
func (kb *Knowledge) categoryNames() []string {
	names := make([]string, 0, len(kb.Categories))
	for name := range kb.Categories {
		if name != DefaultCategory {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

// DetectRegion maps a currency to a region key: £ → uk, $ → us, € → eu. Anything else
// falls back to fallback, then uk.
func (kb *Knowledge) DetectRegion(currency, fallback string) (string, Region) {
	key := ""
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "£", "GBP":
		key = "uk"
	case "$", "USD":
		key = "us"
	case "€", "EUR":
		key = "eu"
	default:
		key = strings.ToLower(fallback)
	}
	if r, ok := kb.Regions[key]; ok {
		return key, r
	}
	return "uk", kb.Regions["uk"]
}

// PriorityField returns the objective field standing in for a stated priority. The
// longest matching hint wins.
func (kb *Knowledge) PriorityField(priority string) (FieldTemplate, bool) {
	p := strings.ToLower(priority)
	best := ""
	for hint := range kb.PriorityFields {
		if strings.Contains(p, hint) && len(hint) > len(best) {
			best = hint
		}
	}
	if best == "" {
		return FieldTemplate{}, false
	}
	return kb.PriorityFields[best], true
}

// containsWord reports whether needle appears in haystack on word boundaries.
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+table.NormalizeName(haystack)+" ", " "+table.NormalizeName(needle)+" ")
}

func parseDataType(s string) table.DataType {
	switch table.DataType(strings.ToLower(strings.TrimSpace(s))) {
	case table.TypeNumber:
		return table.TypeNumber
	case table.TypeBoolean:
		return table.TypeBoolean
	case table.TypeList:
		return table.TypeList
	case table.TypeStructured:
		return table.TypeStructured
	default:
		return table.TypeString
	}
}
