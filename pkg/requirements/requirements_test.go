package requirements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name string
		reqs Requirements
		want bool
	}{
		{"empty", Requirements{}, false},
		{"type only", Requirements{ProductType: "electric kettle"}, false},
		{"budget only", Requirements{Budget: Budget{Max: Float(50)}}, false},
		{"type and budget", Requirements{ProductType: "electric kettle", Budget: Budget{Max: Float(50)}}, true},
		{"type and priority", Requirements{ProductType: "kettle", Priorities: []string{"build quality"}}, true},
		{"type and exclusion", Requirements{ProductType: "kettle", Constraints: []string{"no plastic"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.reqs.IsComplete())
		})
	}
}

func TestMerge(t *testing.T) {
	base := Requirements{
		ProductType: "kettle",
		Budget:      Budget{Max: Float(50)},
		Priorities:  []string{"Build quality"},
	}
	merged := base.Merge(Requirements{
		ProductType: "electric kettle",
		Budget:      Budget{Min: Float(20), Currency: "£"},
		Priorities:  []string{"build  quality", "speed"},
		MustHaves:   []string{"", "temperature control"},
	})

	assert.Equal(t, "electric kettle", merged.ProductType)
	assert.Equal(t, 20.0, *merged.Budget.Min)
	assert.Equal(t, 50.0, *merged.Budget.Max)
	assert.Equal(t, []string{"Build quality", "speed"}, merged.Priorities)
	assert.Equal(t, []string{"temperature control"}, merged.MustHaves)

	// the receiver is untouched
	assert.Equal(t, "kettle", base.ProductType)
	assert.Nil(t, base.Budget.Min)
	assert.Len(t, base.Priorities, 1)
}

func TestBudgetString(t *testing.T) {
	assert.Equal(t, "under £50", Requirements{Budget: Budget{Max: Float(50)}}.BudgetString())
	assert.Equal(t, "$20-$49.99", Requirements{Budget: Budget{Min: Float(20), Max: Float(49.99), Currency: "$"}}.BudgetString())
	assert.Equal(t, "from €100", Requirements{Budget: Budget{Min: Float(100), Currency: "€"}}.BudgetString())
	assert.Equal(t, "", Requirements{}.BudgetString())
}

func TestSummary(t *testing.T) {
	r := Requirements{
		ProductType: "electric kettle",
		Budget:      Budget{Max: Float(50)},
		MustHaves:   []string{"temperature control"},
		Priorities:  []string{"build quality"},
		Constraints: []string{"no plastic"},
	}
	assert.Equal(t,
		"Product type: electric kettle; Budget: under £50; Must have: temperature control; Priorities: build quality; Avoid: no plastic",
		r.Summary())
	assert.Equal(t, "", Requirements{}.Summary())
}

func TestCategoryChangedAndMissing(t *testing.T) {
	a := Requirements{ProductType: "Electric  Kettle"}
	assert.False(t, a.CategoryChanged(Requirements{ProductType: "electric kettle"}))
	assert.True(t, a.CategoryChanged(Requirements{ProductType: "toaster"}))

	assert.Equal(t, []string{"product_type", "constraint"}, Requirements{}.Missing())
	assert.Equal(t, []string{"constraint"}, a.Missing())
	assert.True(t, Requirements{}.IsEmpty())
	assert.False(t, a.IsEmpty())
}
