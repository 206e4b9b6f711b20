// Package duckduckgo searches the DuckDuckGo HTML endpoint. It needs no API key.
package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"shortlist/pkg/search"
)

const (
	// DefaultBaseURL is the no-JavaScript results page.
	DefaultBaseURL = "https://html.duckduckgo.com/html/"
	userAgent      = "Mozilla/5.0 (compatible; shortlist/1.0; +https://duckduckgo.com)"
	maxBodyBytes   = 1 << 20
)

// regions maps the configured region to DuckDuckGo's kl parameter.
var regions = map[string]string{
	"uk": "uk-en",
	"us": "us-en",
	"eu": "wt-wt",
}

// Client is a search.Searcher backed by DuckDuckGo.
type Client struct {
	baseURL    string
	region     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a DuckDuckGo searcher for region ("uk", "us", "eu").
func New(region string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		region:     regions[strings.ToLower(region)],
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements search.Searcher.
func (c *Client) Name() string { return "duckduckgo" }

// Search implements search.Searcher.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &search.Error{Provider: c.Name(), Err: errors.New("empty query")}
	}
	if maxResults <= 0 {
		maxResults = search.DefaultMaxResults
	}

	params := url.Values{}
	params.Set("q", query)
	if c.region != "" {
		params.Set("kl", c.region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, &search.Error{Provider: c.Name(), Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("duckduckgo search: %w", ctx.Err())
		}
		return nil, &search.Error{Provider: c.Name(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	// DuckDuckGo answers 202 with an empty page when it is throttling.
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, search.StatusError(c.Name(), resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))))
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &search.Error{Provider: c.Name(), Err: fmt.Errorf("parse results page: %w", err)}
	}
	return parseResults(doc, maxResults), nil
}

// parseResults walks the results page collecting organic hits. Ads are skipped.
func parseResults(doc *html.Node, maxResults int) []search.Result {
	var results []search.Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if !hasClass(n, "result--ad") {
				if r, ok := parseResult(n); ok {
					results = append(results, r)
				}
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return results
}

func parseResult(n *html.Node) (search.Result, bool) {
	var r search.Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				r.Title = textOf(n)
				r.URL = resolveLink(attr(n, "href"))
			case hasClass(n, "result__snippet"):
				r.Snippet = textOf(n)
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return r, r.Title != "" && r.URL != ""
}

// resolveLink unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
