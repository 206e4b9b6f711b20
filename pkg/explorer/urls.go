package explorer

import (
	"net/url"
	"strings"

	"shortlist/pkg/search"
)

// MinURLScore is the score a result needs to become a candidate's official URL.
const MinURLScore = 2

// retailerDomains never become official URLs and cost a point when scoring.
//
//nolint:gochecknoglobals // static domain lists
var retailerDomains = []string{
	"amazon", "bestbuy", "walmart", "target.com", "ebay", "newegg", "argos", "currys",
	"johnlewis", "ao.com", "very.co.uk", "costco", "aliexpress", "bhphotovideo", "adorama",
	"richersounds", "scan.co.uk", "box.co.uk", "lakeland", "wayfair", "etsy", "autotrader",
	"cazoo", "cinch", "carwow", "idealo", "pricerunner", "pricespy", "kelkoo", "google.com",
}

// aggregatorDomains are review and community sites: useful for discovery, never official.
//
//nolint:gochecknoglobals // static domain lists
var aggregatorDomains = []string{
	"reddit", "wirecutter", "nytimes", "rtings", "which.co.uk", "techradar", "tomsguide",
	"tomshardware", "digitaltrends", "cnet", "theverge", "engadget", "pcmag", "wired.com",
	"notebookcheck", "gsmarena", "dpreview", "whathifi", "soundguys", "goodhousekeeping",
	"independent.co.uk", "telegraph.co.uk", "theguardian", "bbc.co.uk", "youtube", "wikipedia",
	"quora", "trustpilot", "whatcar", "autoexpress", "honestjohn", "caranddriver", "edmunds",
	"avforums", "vacuumwars", "coffeeness", "seriouseats", "forbes", "businessinsider",
	"t3.com", "stuff.tv", "expertreviews", "trustedreviews", "which.com", "facebook", "pinterest",
	"duckduckgo", "bing.com",
}

// Domain returns the lowercased host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// IsRetailer reports whether rawURL belongs to a known retailer or price comparison site.
func IsRetailer(rawURL string) bool {
	return domainMatches(Domain(rawURL), retailerDomains)
}

// IsAggregator reports whether rawURL belongs to a known review or community site.
func IsAggregator(rawURL string) bool {
	return domainMatches(Domain(rawURL), aggregatorDomains)
}

// IsExcluded reports whether rawURL can never be an official product page.
func IsExcluded(rawURL string) bool {
	d := Domain(rawURL)
	return d == "" || domainMatches(d, retailerDomains) || domainMatches(d, aggregatorDomains)
}

// domainMatches matches on label boundaries. A dotted pattern ("ao.com") matches that
// domain and its subdomains; a bare pattern ("amazon") matches any whole label, so it
// covers amazon.com and amazon.co.uk but not notamazon.com.
func domainMatches(domain string, patterns []string) bool {
	if domain == "" {
		return false
	}
	labels := strings.Split(domain, ".")
	for _, p := range patterns {
		if strings.Contains(p, ".") {
			if domain == p || strings.HasSuffix(domain, "."+p) {
				return true
			}
			continue
		}
		for _, l := range labels {
			if l == p {
				return true
			}
		}
	}
	return false
}

// ScoreURL rates how likely result is the product page for name by manufacturer.
// Manufacturer in the URL +3, in the title +2; each of the first four name words longer
// than two characters +1 in the URL and +1 in the title; retailer −1.
func ScoreURL(name, manufacturer string, result search.Result) int {
	urlLower := strings.ToLower(result.URL)
	titleLower := strings.ToLower(result.Title)
	score := 0

	mfr := strings.ToLower(strings.TrimSpace(manufacturer))
	if len(mfr) > 2 {
		compact := strings.NewReplacer(" ", "", "'", "", "&", "").Replace(mfr)
		if strings.Contains(urlLower, mfr) || strings.Contains(urlLower, compact) {
			score += 3
		}
		if strings.Contains(titleLower, mfr) {
			score += 2
		}
	}

	words := strings.Fields(strings.ToLower(name))
	if len(words) > 4 {
		words = words[:4]
	}
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if strings.Contains(urlLower, w) {
			score++
		}
		if strings.Contains(titleLower, w) {
			score++
		}
	}

	if IsRetailer(result.URL) {
		score--
	}
	return score
}

// ResolveOfficialURL picks the best-scoring non-excluded result for the product, or ""
// when nothing reaches MinURLScore.
func ResolveOfficialURL(name, manufacturer string, results []search.Result) string {
	best, bestScore := "", 0
	for _, r := range results {
		if IsExcluded(r.URL) {
			continue
		}
		if s := ScoreURL(name, manufacturer, r); s > bestScore {
			best, bestScore = r.URL, s
		}
	}
	if bestScore < MinURLScore {
		return ""
	}
	return best
}
