package explorer

import (
	"strings"

	"shortlist/pkg/table"
)

// Dedupe merges fuzzy-duplicate candidates, drops those already in existing, and caps the
// result at limit (0 means no cap). Merging keeps the longer name and fills blank
// attributes from the duplicate. It returns the survivors and how many were dropped.
func Dedupe(cands []table.Candidate, existing *table.Table, limit int) ([]table.Candidate, int) {
	out := make([]table.Candidate, 0, len(cands))
	dropped := 0

	for _, c := range cands {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			dropped++
			continue
		}
		if existing != nil && existing.FindRow(c.Name) != nil {
			dropped++
			continue
		}

		merged := false
		for i := range out {
			if table.SameProduct(table.NormalizeName(out[i].Name), table.NormalizeName(c.Name)) {
				out[i] = mergeCandidates(out[i], c)
				merged = true
				break
			}
		}
		if merged {
			dropped++
			continue
		}
		out = append(out, c)
	}

	if limit > 0 && len(out) > limit {
		dropped += len(out) - limit
		out = out[:limit]
	}
	return out, dropped
}

func mergeCandidates(a, b table.Candidate) table.Candidate {
	if len(b.Name) > len(a.Name) {
		a.Name = b.Name
	}
	if a.Manufacturer == "" {
		a.Manufacturer = b.Manufacturer
	}
	if a.OfficialURL == "" {
		a.OfficialURL = b.OfficialURL
	}
	if len(b.Description) > len(a.Description) {
		a.Description = b.Description
	}
	if a.Category == "" {
		a.Category = b.Category
	}
	if a.SourceQuery == "" {
		a.SourceQuery = b.SourceQuery
	}
	return a
}
