package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
)

func f64(v float64) *float64 { return &v }

type rowSpec struct {
	name     string
	price    string
	meets    *bool
	hasPrice bool
}

func rankTable(t *testing.T, specs []rowSpec) *table.Table {
	t.Helper()
	tbl := table.New()
	tbl.AddField(table.FieldDefinition{Name: table.FieldPrice, Category: table.CategoryStandard})
	tbl.AddField(table.FieldDefinition{Name: table.FieldMeetsRequirements, Category: table.CategoryQualification, DataType: table.TypeBoolean})
	for _, sp := range specs {
		_, id := tbl.AddRow(table.Candidate{Name: sp.name})
		require.NotEmpty(t, id)
		if sp.hasPrice {
			require.NoError(t, tbl.UpdateCell(id, table.FieldPrice, sp.price, table.StatusEnriched, "test", ""))
		} else {
			require.NoError(t, tbl.UpdateCell(id, table.FieldPrice, nil, table.StatusFailed, "test", "no data found"))
		}
		if sp.meets != nil {
			require.NoError(t, tbl.UpdateCell(id, table.FieldMeetsRequirements, *sp.meets, table.StatusEnriched, "test", ""))
		}
	}
	return tbl
}

func TestRank(t *testing.T) {
	yes, no := true, false
	tbl := rankTable(t, []rowSpec{
		{name: "Cheap Unknown Kettle", price: "£30", hasPrice: true},
		{name: "Failing Fancy Kettle", price: "£120", meets: &no, hasPrice: true},
		{name: "Pricey Good Kettle", price: "£70", meets: &yes, hasPrice: true},
		{name: "Mystery Good Kettle", meets: &yes},
		{name: "Perfect Good Kettle", price: "£45", meets: &yes, hasPrice: true},
	})
	reqs := requirements.Requirements{ProductType: "kettle", Budget: requirements.Budget{Max: f64(50), Currency: "£"}}

	var names []string
	for _, r := range Rank(tbl, reqs) {
		names = append(names, r.Candidate.Name)
	}
	assert.Equal(t, []string{
		"Perfect Good Kettle",
		"Pricey Good Kettle",
		"Mystery Good Kettle",
		"Cheap Unknown Kettle",
		"Failing Fancy Kettle",
	}, names)
}

func TestPriceFit(t *testing.T) {
	maxOnly := requirements.Requirements{Budget: requirements.Budget{Max: f64(50)}}
	minOnly := requirements.Requirements{Budget: requirements.Budget{Min: f64(100)}}

	tests := []struct {
		name  string
		price string
		reqs  requirements.Requirements
		want  float64
	}{
		{"inside budget", "£50", maxOnly, 1},
		{"slightly over", "£60", maxOnly, 0.3},
		{"far over", "£90", maxOnly, 0},
		{"under minimum", "£80", minOnly, 0.7},
		{"no budget", "£80", requirements.Requirements{}, 0.5},
		{"unparseable price", "call for price", maxOnly, 0.5},
		{"thousands separator", "£1,000", requirements.Requirements{Budget: requirements.Budget{Max: f64(2000)}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := rankTable(t, []rowSpec{{name: "Test Kettle One", price: tt.price, hasPrice: true}})
			assert.InDelta(t, tt.want, PriceFit(tbl.Rows()[0], tt.reqs), 1e-9)
		})
	}

	tbl := rankTable(t, []rowSpec{{name: "Test Kettle One"}})
	assert.InDelta(t, 0.5, PriceFit(tbl.Rows()[0], maxOnly), 1e-9, "failed price cell is unknown")
}
