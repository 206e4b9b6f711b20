// Package google searches with the Google Custom Search JSON API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shortlist/pkg/search"
)

// DefaultEndpoint is the Custom Search list endpoint.
// API docs: https://developers.google.com/custom-search/v1/reference/rest/v1/cse/list
const DefaultEndpoint = "https://www.googleapis.com/customsearch/v1"

// maxNum is the largest page size the API accepts.
const maxNum = 10

// Client is a search.Searcher backed by Google Custom Search.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	cx         string
	region     string
}

// New creates a Google Custom Search client. region ("uk", "us") biases results through gl.
func New(apiKey, cx, region string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		cx:         cx,
		region:     strings.ToLower(region),
	}
}

// WithEndpoint returns a copy targeting another endpoint (tests).
func (c *Client) WithEndpoint(endpoint string) *Client {
	cp := *c
	cp.endpoint = endpoint
	return &cp
}

// Name implements search.Searcher.
func (c *Client) Name() string { return "google" }

type item struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type response struct {
	Error *apiError `json:"error"`
	Items []item    `json:"items"`
}

// Search implements search.Searcher.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &search.Error{Provider: c.Name(), Err: errors.New("empty query")}
	}
	if maxResults <= 0 || maxResults > maxNum {
		maxResults = maxNum
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxResults))
	if c.region != "" && c.region != "eu" {
		params.Set("gl", c.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, &search.Error{Provider: c.Name(), Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("google search: %w", ctx.Err())
		}
		return nil, &search.Error{Provider: c.Name(), Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &search.Error{Provider: c.Name(), Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}

	var parsed response
	if unmarshalErr := json.Unmarshal(body, &parsed); unmarshalErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, search.StatusError(c.Name(), resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
		}
		return nil, &search.Error{Provider: c.Name(), Err: fmt.Errorf("parse response: %w", unmarshalErr)}
	}
	if parsed.Error != nil {
		code := parsed.Error.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, search.StatusError(c.Name(), code, errors.New(parsed.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, search.StatusError(c.Name(), resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	results := make([]search.Result, 0, len(parsed.Items))
	for i := range parsed.Items {
		it := &parsed.Items[i]
		results = append(results, search.Result{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}
	return results, nil
}
