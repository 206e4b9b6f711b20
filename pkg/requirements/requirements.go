// Package requirements models what the user wants to buy.
package requirements

import (
	"strconv"
	"strings"
)

// DefaultCurrency is assumed when the user gives a budget without a symbol.
const DefaultCurrency = "£"

// Budget is an optional price range.
type Budget struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// IsSet reports whether either bound is present.
func (b Budget) IsSet() bool {
	return b.Min != nil || b.Max != nil
}

// Requirements is the structured purchase intent. It is mutated only by the intake
// phase and read by discovery and advice.
type Requirements struct {
	ProductType    string   `json:"product_type,omitempty"`
	Budget         Budget   `json:"budget"`
	MustHaves      []string `json:"must_haves,omitempty"`
	NiceToHaves    []string `json:"nice_to_haves,omitempty"`
	Priorities     []string `json:"priorities,omitempty"`
	Specifications []string `json:"specifications,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`
}

// IsEmpty reports whether nothing has been captured yet.
func (r Requirements) IsEmpty() bool {
	return r.ProductType == "" && !r.Budget.IsSet() && !r.hasListEntries()
}

func (r Requirements) hasListEntries() bool {
	return len(r.MustHaves)+len(r.NiceToHaves)+len(r.Priorities)+len(r.Specifications)+len(r.Constraints) > 0
}

// IsComplete reports whether there is a product type and at least one constraint-like entry.
func (r Requirements) IsComplete() bool {
	return strings.TrimSpace(r.ProductType) != "" && (r.Budget.IsSet() || r.hasListEntries())
}

// Merge folds update into r. Scalars overwrite when set; lists are unioned
// case-insensitively keeping first-seen order.
func (r Requirements) Merge(update Requirements) Requirements {
	out := r.Clone()
	if s := strings.TrimSpace(update.ProductType); s != "" {
		out.ProductType = s
	}
	if update.Budget.Min != nil {
		out.Budget.Min = ptr(*update.Budget.Min)
	}
	if update.Budget.Max != nil {
		out.Budget.Max = ptr(*update.Budget.Max)
	}
	if update.Budget.Currency != "" {
		out.Budget.Currency = update.Budget.Currency
	}
	out.MustHaves = union(out.MustHaves, update.MustHaves)
	out.NiceToHaves = union(out.NiceToHaves, update.NiceToHaves)
	out.Priorities = union(out.Priorities, update.Priorities)
	out.Specifications = union(out.Specifications, update.Specifications)
	out.Constraints = union(out.Constraints, update.Constraints)
	return out
}

// Clone returns a deep copy.
func (r Requirements) Clone() Requirements {
	out := r
	if r.Budget.Min != nil {
		out.Budget.Min = ptr(*r.Budget.Min)
	}
	if r.Budget.Max != nil {
		out.Budget.Max = ptr(*r.Budget.Max)
	}
	out.MustHaves = append([]string(nil), r.MustHaves...)
	out.NiceToHaves = append([]string(nil), r.NiceToHaves...)
	out.Priorities = append([]string(nil), r.Priorities...)
	out.Specifications = append([]string(nil), r.Specifications...)
	out.Constraints = append([]string(nil), r.Constraints...)
	return out
}

// CategoryChanged reports whether other names a different product type.
func (r Requirements) CategoryChanged(other Requirements) bool {
	return normalize(r.ProductType) != normalize(other.ProductType)
}

// Currency returns the budget currency symbol, defaulting to pounds.
func (r Requirements) Currency() string {
	if r.Budget.Currency != "" {
		return r.Budget.Currency
	}
	return DefaultCurrency
}

// BudgetString renders the budget as "under £50", "£20-£50" or "from £20".
func (r Requirements) BudgetString() string {
	c := r.Currency()
	switch {
	case r.Budget.Min != nil && r.Budget.Max != nil:
		return c + money(*r.Budget.Min) + "-" + c + money(*r.Budget.Max)
	case r.Budget.Max != nil:
		return "under " + c + money(*r.Budget.Max)
	case r.Budget.Min != nil:
		return "from " + c + money(*r.Budget.Min)
	default:
		return ""
	}
}

// Summary renders the requirements on one line, omitting absent parts.
func (r Requirements) Summary() string {
	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Product type", r.ProductType)
	add("Budget", r.BudgetString())
	add("Must have", strings.Join(r.MustHaves, ", "))
	add("Nice to have", strings.Join(r.NiceToHaves, ", "))
	add("Priorities", strings.Join(r.Priorities, ", "))
	add("Specifications", strings.Join(r.Specifications, ", "))
	add("Avoid", strings.Join(r.Constraints, ", "))
	return strings.Join(parts, "; ")
}

// Missing lists what still blocks a search, for clarifying questions.
func (r Requirements) Missing() []string {
	var missing []string
	if strings.TrimSpace(r.ProductType) == "" {
		missing = append(missing, "product_type")
	}
	if !r.Budget.IsSet() && !r.hasListEntries() {
		missing = append(missing, "constraint")
	}
	return missing
}

func union(base, add []string) []string {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			key := normalize(s)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func money(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func ptr(v float64) *float64 {
	return &v
}

// Float is a convenience for building budgets.
func Float(v float64) *float64 {
	return &v
}
