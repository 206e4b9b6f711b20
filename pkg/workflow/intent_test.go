package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/llm/llmtest"
	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
)

func TestKeywordIntent(t *testing.T) {
	tests := []struct {
		message string
		want    Intent
		fields  []string
		count   int
	}{
		{"can you export this as a csv", IntentExport, nil, 0},
		{"show me more options", IntentMoreOptions, nil, 0},
		{"find 10 more like these", IntentMoreOptions, nil, 10},
		{"any 5 other kettles?", IntentMoreOptions, nil, 5},
		{"add energy efficiency to the comparison", IntentNewFields, []string{"energy_efficiency"}, 0},
		{"add warranty and noise level", IntentNewFields, []string{"warranty", "noise_level"}, 0},
		{"the price for the Breville looks wrong", IntentRecheck, nil, 0},
		{"my budget is now £80", IntentRequirementsChanged, nil, 0},
		{"thanks, I'll take the Breville", IntentSatisfied, nil, 0},
		{"which one is quietest?", IntentFollowUp, nil, 0},
		{"thanks! which one is quietest?", IntentFollowUp, nil, 0},
		{"thanks. how loud is the Bosch", IntentFollowUp, nil, 0},
		{"how big is the Luna", IntentFollowUp, nil, 0},
		{"hmm", IntentUnclear, nil, 0},
		{"", IntentUnclear, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := KeywordIntent(tt.message)
			assert.Equal(t, tt.want, got.Intent)
			if tt.fields != nil {
				assert.Equal(t, tt.fields, got.Fields)
			}
			assert.Equal(t, tt.count, got.Count)
		})
	}
}

func adviseState() SessionState {
	tbl := table.New()
	tbl.AddField(table.FieldDefinition{Name: table.FieldPrice, Category: table.CategoryStandard})
	_, _ = tbl.AddRow(table.Candidate{Name: "Breville Luna Kettle"})
	return SessionState{
		ID:           "s1",
		Phase:        PhaseAdvise,
		Requirements: requirements.Requirements{ProductType: "kettle"},
		Table:        tbl,
	}
}

func TestClassifyIntentUsesModel(t *testing.T) {
	client := llmtest.New(llmtest.Rule{
		Match:    "You classify what a shopper",
		Response: `{"intent": "new_fields", "fields": ["Energy Rating"], "products": [], "reason": "asked for a column"}`,
	})
	h := NewAdviseHandler(client, DefaultSettings())

	c := h.classifyIntent(context.Background(), adviseState(), "could you also compare energy ratings")
	assert.Equal(t, IntentNewFields, c.Intent)
	assert.Equal(t, []string{"energy_rating"}, c.Fields)
	assert.False(t, c.Fallback)
}

func TestClassifyIntentFallsBackToKeywords(t *testing.T) {
	tests := []struct {
		name   string
		client *llmtest.Client
	}{
		{"model error", llmtest.Failing(errors.New("overloaded"))},
		{"unknown intent", llmtest.New(llmtest.Rule{Match: "You classify", Response: `{"intent": "dance"}`})},
		{"not json", llmtest.New(llmtest.Rule{Match: "You classify", Response: "I think they want to export"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAdviseHandler(tt.client, DefaultSettings())
			c := h.classifyIntent(context.Background(), adviseState(), "export it please")
			require.True(t, c.Fallback)
			assert.Equal(t, IntentExport, c.Intent)
		})
	}
}

func TestClassifyIntentReadsCount(t *testing.T) {
	client := llmtest.New(llmtest.Rule{
		Match:    "You classify what a shopper",
		Response: `{"intent": "more_options", "fields": [], "products": [], "count": 8, "reason": "wants more"}`,
	})
	h := NewAdviseHandler(client, DefaultSettings())

	c := h.classifyIntent(context.Background(), adviseState(), "eight more please")
	assert.Equal(t, IntentMoreOptions, c.Intent)
	assert.Equal(t, 8, c.Count)
}
