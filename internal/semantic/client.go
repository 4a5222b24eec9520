// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package semantic fetches citation lists from the Semantic Scholar graph
// API and converts them into references.json entries.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// graphAPIBase is the Semantic Scholar paper endpoint. Declared as a var so
// tests can substitute an httptest server.
var graphAPIBase = "https://api.semanticscholar.org/graph/v1/paper"

const referenceFields = "references,references.title,references.authors,references.year,references.venue,references.externalIds,references.publicationDate"

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "arxiv-harvest/0.1"
)

// Client queries the graph API. Each reference worker owns one.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the paper endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithAPIKey sends the key in the x-api-key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithInterval sets the minimum gap between requests. Zero disables the limiter.
func WithInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewClient creates a graph API client. Without an API key the shared
// public pool allows roughly one request per second.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL:    graphAPIBase,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from the harvest client settings.
func NewClientFromConfig(cfg types.ClientConfig) *Client {
	opts := []ClientOption{
		WithInterval(cfg.SemanticInterval),
		WithAPIKey(cfg.SemanticScholarAPIKey),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	if cfg.SemanticAPIBase != "" {
		opts = append(opts, WithBaseURL(cfg.SemanticAPIBase))
	}
	return NewClient(opts...)
}

// Reference is one raw entry of a paper's references list.
type Reference struct {
	Title           string      `json:"title"`
	Authors         []Author    `json:"authors"`
	Year            int         `json:"year"`
	Venue           string      `json:"venue"`
	PublicationDate string      `json:"publicationDate"`
	ExternalIDs     ExternalIDs `json:"externalIds"`
}

// Author is a reference author.
type Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// ExternalIDs holds the identifiers the graph knows for a paper.
type ExternalIDs struct {
	ArXiv string `json:"ArXiv"`
	DOI   string `json:"DOI"`
}

type paperResponse struct {
	PaperID    string       `json:"paperId"`
	References []*Reference `json:"references"`
}

// References fetches the raw citation list for id. Any version suffix is
// stripped first. Null entries in the list are dropped.
func (c *Client) References(ctx context.Context, id string) ([]Reference, error) {
	cleanID := arxivid.StripVersion(id)
	reqURL := c.baseURL + "/arXiv:" + cleanID + "?" + url.Values{"fields": {referenceFields}}.Encode()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleanID)
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, PaperID: cleanID}
	}

	var pr paperResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	refs := make([]Reference, 0, len(pr.References))
	for _, r := range pr.References {
		if r != nil {
			refs = append(refs, *r)
		}
	}
	return refs, nil
}

// FetchReferences calls References under policy, retrying throttling and
// transient failures alike. A not-found answer ends the attempt with an
// empty list and no error.
func (c *Client) FetchReferences(ctx context.Context, id string, policy types.RetryPolicy, notify func(attempt int, wait time.Duration, err error)) ([]Reference, error) {
	var refs []Reference
	err := httputil.Retry(ctx, policy,
		func(err error) bool { return !IsNotFound(err) },
		notify,
		func(ctx context.Context) error {
			var fetchErr error
			refs, fetchErr = c.References(ctx, id)
			return fetchErr
		})
	if IsNotFound(err) {
		return []Reference{}, nil
	}
	if err != nil {
		return nil, err
	}
	return refs, nil
}
