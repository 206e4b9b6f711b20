package explorer

import (
	"context"
	"fmt"
	"strings"

	"shortlist/pkg/llm"
	"shortlist/pkg/search"
	"shortlist/pkg/table"
	"shortlist/pkg/templates"
)

type extractResponse struct {
	Products []struct {
		Name         string `json:"name"`
		Manufacturer string `json:"manufacturer"`
		Description  string `json:"description"`
	} `json:"products"`
}

// extractCandidates turns one query's results into candidates. The LLM names products;
// when it fails or finds nothing, results from known brand domains are used directly.
func (e *Explorer) extractCandidates(ctx context.Context, sc searchContext, q Query, results []search.Result) []table.Candidate {
	if len(results) == 0 {
		return nil
	}

	cands, err := e.llmExtract(ctx, sc, q, results)
	if err != nil {
		e.logger.Debug("LLM extraction failed for %q: %v", q.Text, err)
	}
	if len(cands) == 0 {
		cands = heuristicExtract(sc, q, results)
	}
	return cands
}

func (e *Explorer) llmExtract(ctx context.Context, sc searchContext, q Query, results []search.Result) ([]table.Candidate, error) {
	prompt, err := e.renderer.Render(templates.ExtractCandidatesTemplate, templates.ExtractCandidatesData{
		ProductType: sc.productType(),
		Query:       q.Text,
		Results:     results,
	})
	if err != nil {
		return nil, err
	}

	var resp extractResponse
	if err := llm.CompleteJSON(ctx, e.llm, llm.Prompt("", prompt), &resp); err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}

	out := make([]table.Candidate, 0, len(resp.Products))
	for _, p := range resp.Products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		mfr := strings.TrimSpace(p.Manufacturer)
		if strings.EqualFold(mfr, "unknown") {
			mfr = ""
		}
		out = append(out, table.Candidate{
			Name:         name,
			Manufacturer: mfr,
			OfficialURL:  ResolveOfficialURL(name, mfr, results),
			Description:  strings.TrimSpace(p.Description),
			Category:     sc.productType(),
			SourceQuery:  q.Text,
		})
	}
	return out, nil
}

// listicleMarkers flag titles that describe a roundup rather than one product.
//
//nolint:gochecknoglobals // static word list
var listicleMarkers = []string{"best ", "top ", " vs ", "review", "guide", "compare", "comparison", "deals", "?"}

// heuristicExtract keeps results hosted on a known brand's own domain and names the
// product after the page title.
func heuristicExtract(sc searchContext, q Query, results []search.Result) []table.Candidate {
	var out []table.Candidate
	for _, r := range results {
		if IsExcluded(r.URL) {
			continue
		}
		brand := brandForDomain(Domain(r.URL), sc.category.TopBrands)
		if brand == "" {
			continue
		}
		name := productNameFromTitle(r.Title)
		lower := strings.ToLower(name)
		if name == "" || containsAny(" "+lower, listicleMarkers) {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(brand)) {
			name = brand + " " + name
		}
		out = append(out, table.Candidate{
			Name:         name,
			Manufacturer: brand,
			OfficialURL:  r.URL,
			Description:  r.Snippet,
			Category:     sc.productType(),
			SourceQuery:  q.Text,
		})
	}
	return out
}

func brandForDomain(domain string, brands []string) string {
	if domain == "" {
		return ""
	}
	compactDomain := strings.ReplaceAll(domain, "-", "")
	for _, b := range brands {
		key := strings.ToLower(strings.NewReplacer(" ", "", "'", "", "&", "", "-", "").Replace(b))
		if len(key) > 2 && strings.Contains(compactDomain, key) {
			return b
		}
	}
	return ""
}

// productNameFromTitle drops site suffixes such as " | Brand UK" or " - Shop now".
func productNameFromTitle(title string) string {
	name := title
	for _, sep := range []string{" | ", " - ", " – ", " — ", " :: "} {
		if i := strings.Index(name, sep); i > 0 {
			name = name[:i]
		}
	}
	return strings.TrimSpace(name)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
