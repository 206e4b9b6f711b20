package explorer

import (
	"context"
	"fmt"
	"strings"

	"shortlist/pkg/llm"
	"shortlist/pkg/requirements"
	"shortlist/pkg/templates"
)

// Angle is the kind of source a discovery query targets.
type Angle string

// Query angles.
const (
	AngleReviewSite   Angle = "REVIEW_SITE"
	AngleReddit       Angle = "REDDIT"
	AngleBrandCatalog Angle = "BRAND_CATALOG"
	AngleComparison   Angle = "COMPARISON"
	AngleBudget       Angle = "BUDGET"
	AngleFeatureFocus Angle = "FEATURE_FOCUS"
	AngleUseCase      Angle = "USE_CASE"
	AngleAlternatives Angle = "ALTERNATIVES"
)

// Angles lists every angle in planning order.
//
//nolint:gochecknoglobals // closed set
var Angles = []Angle{
	AngleReviewSite, AngleReddit, AngleBrandCatalog, AngleComparison,
	AngleBudget, AngleFeatureFocus, AngleUseCase, AngleAlternatives,
}

func parseAngle(s string) (Angle, bool) {
	a := Angle(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Angles {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// Query is one planned search.
type Query struct {
	Text  string `json:"query"`
	Angle Angle  `json:"angle"`
}

// Plan is the set of searches for one exploration.
type Plan struct {
	Queries []Query
	Notes   string
	// Fallback is true when deterministic queries were needed to complete the plan.
	Fallback bool
}

// AngleCount returns how many distinct angles the plan covers.
func (p Plan) AngleCount() int {
	seen := make(map[Angle]bool)
	for _, q := range p.Queries {
		seen[q.Angle] = true
	}
	return len(seen)
}

// searchContext is the knowledge-base view of one set of requirements.
type searchContext struct {
	reqs         requirements.Requirements
	categoryName string
	category     Category
	regionKey    string
	region       Region
	year         int
}

func (e *Explorer) buildContext(reqs requirements.Requirements) searchContext {
	name, cat := e.kb.FindCategory(reqs.ProductType)
	key, region := e.kb.DetectRegion(reqs.Budget.Currency, e.opts.Region)
	return searchContext{
		reqs:         reqs,
		categoryName: name,
		category:     cat,
		regionKey:    key,
		region:       region,
		year:         e.now().Year(),
	}
}

func (sc searchContext) productType() string {
	if pt := strings.TrimSpace(sc.reqs.ProductType); pt != "" {
		return pt
	}
	return "product"
}

type planResponse struct {
	Queries []struct {
		Query string `json:"query"`
		Angle string `json:"angle"`
	} `json:"queries"`
	StrategyNotes string `json:"strategy_notes"`
}

// PlanQueries asks the LLM for a diverse query plan and tops it up from deterministic
// queries when the LLM fails, returns too few queries, or covers fewer than two angles.
// The result always holds between MinQueries and MaxQueries queries.
func (e *Explorer) PlanQueries(ctx context.Context, reqs requirements.Requirements) Plan {
	sc := e.buildContext(reqs)

	plan, err := e.llmPlan(ctx, sc)
	if err != nil {
		e.logger.Warn("⚠️  Query planning failed, using fallback queries: %v", err)
	}
	plan.Queries = sanitizeQueries(plan.Queries, e.opts.MaxQueries)

	if len(plan.Queries) < e.opts.MinQueries || plan.AngleCount() < 2 {
		plan.Queries = topUp(plan.Queries, fallbackQueries(sc), e.opts.MinQueries, e.opts.MaxQueries)
		plan.Fallback = true
	}

	e.logger.Info("🧭 Planned %d queries over %d angles for %s", len(plan.Queries), plan.AngleCount(), sc.productType())
	return plan
}

func (e *Explorer) llmPlan(ctx context.Context, sc searchContext) (Plan, error) {
	angles := make([]string, len(Angles))
	for i, a := range Angles {
		angles[i] = string(a)
	}
	prompt, err := e.renderer.Render(templates.QueryPlanTemplate, templates.QueryPlanData{
		Summary:     sc.reqs.Summary(),
		Category:    sc.categoryName,
		Region:      sc.region.SearchSuffix,
		Currency:    sc.region.Currency,
		Budget:      sc.reqs.BudgetString(),
		Brands:      head(sc.category.TopBrands, 10),
		ReviewSites: head(sc.category.ReviewSites, 6),
		Subreddits:  head(sc.category.Subreddits, 5),
		KeySpecs:    sc.category.KeySpecs,
		UseCases:    sc.category.UseCases,
		Angles:      angles,
		Constraints: sc.reqs.Constraints,
		Year:        sc.year,
		MinQueries:  e.opts.MinQueries,
		MaxQueries:  e.opts.MaxQueries,
	})
	if err != nil {
		return Plan{}, err
	}

	var resp planResponse
	if err := llm.CompleteJSON(ctx, e.llm, llm.Prompt("", prompt), &resp); err != nil {
		return Plan{}, fmt.Errorf("plan queries: %w", err)
	}

	plan := Plan{Notes: resp.StrategyNotes}
	for _, q := range resp.Queries {
		angle, ok := parseAngle(q.Angle)
		if !ok {
			continue
		}
		plan.Queries = append(plan.Queries, Query{Text: q.Query, Angle: angle})
	}
	return plan, nil
}

// sanitizeQueries trims, drops blanks and duplicates, and caps the plan at limit.
func sanitizeQueries(in []Query, limit int) []Query {
	seen := make(map[string]bool, len(in))
	out := make([]Query, 0, len(in))
	for _, q := range in {
		q.Text = strings.Join(strings.Fields(q.Text), " ")
		key := strings.ToLower(q.Text)
		if q.Text == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// topUp appends fallback queries, preferring angles the plan lacks, until the plan has at
// least minimum queries over at least two angles, never exceeding maximum.
func topUp(plan, fallback []Query, minimum, maximum int) []Query {
	out := sanitizeQueries(plan, maximum)
	seen := make(map[string]bool, len(out))
	angles := make(map[Angle]bool)
	for _, q := range out {
		seen[strings.ToLower(q.Text)] = true
		angles[q.Angle] = true
	}

	add := func(q Query) {
		if len(out) >= maximum || seen[strings.ToLower(q.Text)] {
			return
		}
		seen[strings.ToLower(q.Text)] = true
		angles[q.Angle] = true
		out = append(out, q)
	}

	// new angles first
	for _, q := range fallback {
		if !angles[q.Angle] {
			add(q)
		}
	}
	for _, q := range fallback {
		if len(out) >= minimum {
			break
		}
		add(q)
	}
	if len(angles) < 2 && len(out) == maximum {
		// make room for a second angle
		for _, q := range fallback {
			if q.Angle != out[0].Angle {
				out[len(out)-1] = q
				break
			}
		}
	}
	return out
}

// fallbackQueries builds a deterministic plan of at least 15 queries across all angles.
func fallbackQueries(sc searchContext) []Query {
	pt := sc.productType()
	year := sc.year
	region := sc.region.SearchSuffix
	currency := sc.region.Currency

	reviewSites := withDefault(sc.category.ReviewSites, "which.co.uk", "wirecutter.com")
	subreddits := withDefault(sc.category.Subreddits, "r/BuyItForLife")
	brands := head(sc.category.TopBrands, 4)

	budget := sc.category.PriceTiers.Budget
	if sc.reqs.Budget.Max != nil {
		budget = *sc.reqs.Budget.Max
	}
	if budget <= 0 {
		budget = 100
	}

	q := []Query{
		{Text: fmt.Sprintf("best %s %d site:%s", pt, year, reviewSites[0]), Angle: AngleReviewSite},
		{Text: fmt.Sprintf("best %s %d %s review", pt, year, region), Angle: AngleReviewSite},
		{Text: fmt.Sprintf("%s recommendations %s %d", pt, subreddits[0], year), Angle: AngleReddit},
		{Text: fmt.Sprintf("%s reddit buy it for life", pt), Angle: AngleReddit},
		{Text: fmt.Sprintf("best %s comparison vs %d", pt, year), Angle: AngleComparison},
		{Text: fmt.Sprintf("%s head to head comparison %s", pt, region), Angle: AngleComparison},
		{Text: fmt.Sprintf("best budget %s under %s%s %d", pt, currency, trimFloat(budget), year), Angle: AngleBudget},
		{Text: fmt.Sprintf("%s alternatives underrated %d", pt, year), Angle: AngleAlternatives},
		{Text: fmt.Sprintf("%s hidden gems lesser known brands", pt), Angle: AngleAlternatives},
	}
	if len(reviewSites) > 1 {
		q = append(q, Query{Text: fmt.Sprintf("%s buying guide site:%s", pt, reviewSites[1]), Angle: AngleReviewSite})
	}
	if len(subreddits) > 1 {
		q = append(q, Query{Text: fmt.Sprintf("%s %s", pt, subreddits[1]), Angle: AngleReddit})
	}
	for _, brand := range brands {
		q = append(q, Query{Text: fmt.Sprintf("%s %s range %d", brand, pt, year), Angle: AngleBrandCatalog})
	}
	features := append(append([]string{}, sc.reqs.MustHaves...), sc.category.KeySpecs...)
	for _, f := range head(features, 2) {
		q = append(q, Query{Text: fmt.Sprintf("best %s with %s %d", pt, f, year), Angle: AngleFeatureFocus})
	}
	for _, u := range head(sc.category.UseCases, 2) {
		q = append(q, Query{Text: fmt.Sprintf("best %s for %s", pt, u), Angle: AngleUseCase})
	}
	for _, p := range head(sc.reqs.Priorities, 1) {
		q = append(q, Query{Text: fmt.Sprintf("best %s for %s %s", pt, p, region), Angle: AngleUseCase})
	}
	q = append(q,
		Query{Text: fmt.Sprintf("top rated %s %s %d", pt, region, year), Angle: AngleComparison},
		Query{Text: fmt.Sprintf("most recommended %s %d", pt, year), Angle: AngleFeatureFocus},
	)
	return q
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func withDefault(s []string, def ...string) []string {
	if len(s) == 0 {
		return def
	}
	return s
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
