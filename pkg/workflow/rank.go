package workflow

import (
	"sort"

	"shortlist/pkg/enricher"
	"shortlist/pkg/requirements"
	"shortlist/pkg/table"
)

// Rank orders rows for presentation: rows known to meet the requirements first, then
// unknown, then known failures; within a group by completeness, then by how well the
// price fits the budget. Ties keep table order.
func Rank(tbl *table.Table, reqs requirements.Requirements) []*table.Row {
	rows := append([]*table.Row(nil), tbl.Rows()...)
	type key struct {
		qualified    int
		completeness float64
		priceFit     float64
	}
	keys := make(map[string]key, len(rows))
	for _, r := range rows {
		keys[r.ID] = key{
			qualified:    qualificationRank(r),
			completeness: tbl.Completeness(r),
			priceFit:     PriceFit(r, reqs),
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := keys[rows[i].ID], keys[rows[j].ID]
		if a.qualified != b.qualified {
			return a.qualified > b.qualified
		}
		if a.completeness != b.completeness {
			return a.completeness > b.completeness
		}
		return a.priceFit > b.priceFit
	})
	return rows
}

func qualificationRank(r *table.Row) int {
	switch {
	case r.MeetsRequirements == nil:
		return 1
	case *r.MeetsRequirements:
		return 2
	default:
		return 0
	}
}

// PriceFit scores a row's price against the budget: 1 inside the budget, falling towards
// 0 the further outside it is, and 0.5 when either side is unknown.
func PriceFit(r *table.Row, reqs requirements.Requirements) float64 {
	cell := r.Cell(table.FieldPrice)
	if cell == nil || cell.Status != table.StatusEnriched || !reqs.Budget.IsSet() {
		return 0.5
	}
	v, ok := enricher.Coerce(cell.Value, table.TypeNumber)
	if !ok {
		return 0.5
	}
	price := v.(float64)

	if reqs.Budget.Max != nil && price > *reqs.Budget.Max {
		if *reqs.Budget.Max <= 0 {
			return 0
		}
		over := (price - *reqs.Budget.Max) / *reqs.Budget.Max
		return clamp(0.5 - over)
	}
	if reqs.Budget.Min != nil && *reqs.Budget.Min > 0 && price < *reqs.Budget.Min {
		under := (*reqs.Budget.Min - price) / *reqs.Budget.Min
		return clamp(0.9 - under)
	}
	return 1
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
