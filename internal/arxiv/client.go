// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package arxiv talks to the archive: identifier existence, per-revision
// metadata records from the export API, and source bundles from /src/.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/internal/httputil"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

// Default endpoints. Tests point clients at httptest servers through the
// With* options instead.
const (
	DefaultAPIBase = "https://export.arxiv.org/api/query"
	DefaultHost    = "https://arxiv.org"

	// DefaultInterval is the minimum gap between requests from one client.
	DefaultInterval = 3 * time.Second

	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "arxiv-harvest/0.1"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Client queries the arXiv export API and source endpoint. A Client is
// not shared between workers; each worker builds its own.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiBase    string
	host       string
	userAgent  string
	policy     types.RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIBase sets the metadata query endpoint.
func WithAPIBase(u string) ClientOption {
	return func(c *Client) { c.apiBase = u }
}

// WithHost sets the host serving /src/ bundles.
func WithHost(u string) ClientOption {
	return func(c *Client) { c.host = strings.TrimSuffix(u, "/") }
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

// WithRetryPolicy sets the policy applied to throttled source downloads.
func WithRetryPolicy(p types.RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// NewClient creates an arXiv client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(DefaultInterval), 1),
		apiBase:    DefaultAPIBase,
		host:       DefaultHost,
		userAgent:  defaultUserAgent,
		policy:     httputil.DownloadPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from the harvest client settings.
func NewClientFromConfig(cfg types.ClientConfig, policy types.RetryPolicy) *Client {
	opts := []ClientOption{
		WithRetryPolicy(policy),
		WithInterval(cfg.ArxivInterval),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	if cfg.ArxivAPIBase != "" {
		opts = append(opts, WithAPIBase(cfg.ArxivAPIBase))
	}
	if cfg.ArxivHost != "" {
		opts = append(opts, WithHost(cfg.ArxivHost))
	}
	return NewClient(opts...)
}

// Record is one revision's metadata as reported by the export API.
type Record struct {
	// ShortID carries the version suffix, e.g. "2304.07856v2".
	ShortID    string
	Title      string
	Authors    []string
	Published  time.Time
	Updated    time.Time
	Categories []string
	Summary    string
	Comment    string
	JournalRef string
	DOI        string
}

// BaseID returns the identifier without its version suffix.
func (r *Record) BaseID() string {
	return arxivid.StripVersion(r.ShortID)
}

// Version returns the revision number from ShortID, or 0 when absent.
func (r *Record) Version() int {
	idx := strings.LastIndex(r.ShortID, "v")
	if idx < 0 {
		return 0
	}
	v, err := strconv.Atoi(r.ShortID[idx+1:])
	if err != nil {
		return 0
	}
	return v
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Fetch retrieves the record for id. Version 0 asks for the latest revision.
func (c *Client) Fetch(ctx context.Context, id arxivid.Identifier, version int) (*Record, error) {
	query := id.String()
	if version > 0 {
		query = arxivid.Revision{ID: id, Version: version}.String()
	}
	apiURL := c.apiBase + "?" + url.Values{"id_list": {query}, "max_results": {"1"}}.Encode()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: apiURL}
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	for _, entry := range feed.Entries {
		if rec := parseEntry(entry); rec != nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
}

// FetchWithRetry calls Fetch, retrying throttled responses under policy.
// Any other error is returned immediately.
func (c *Client) FetchWithRetry(ctx context.Context, id arxivid.Identifier, version int, policy types.RetryPolicy, notify func(attempt int, wait time.Duration, err error)) (*Record, error) {
	var rec *Record
	err := httputil.Retry(ctx, policy, IsThrottled, notify, func(ctx context.Context) error {
		var fetchErr error
		rec, fetchErr = c.Fetch(ctx, id, version)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Exists reports whether the archive knows id. A definitive absence is
// (false, nil); transport and HTTP failures are returned as errors so the
// caller can tell them apart.
func (c *Client) Exists(ctx context.Context, id arxivid.Identifier) (bool, error) {
	_, err := c.Fetch(ctx, id, 0)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// SourceURL returns the bundle URL for rev.
func (c *Client) SourceURL(rev arxivid.Revision) string {
	return c.host + "/src/" + rev.String()
}

// DownloadSource fetches the source bundle for rev into destPath through a
// temporary file in the same directory. Throttled responses are retried;
// any other non-200 status is returned as a *StatusError.
func (c *Client) DownloadSource(ctx context.Context, rev arxivid.Revision, destPath string) error {
	srcURL := c.SourceURL(rev)

	if err := c.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, c.policy)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, URL: srcURL}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".source-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// arXiv Atom feed XML structures.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Comment    string         `xml:"http://arxiv.org/schemas/atom comment"`
	JournalRef string         `xml:"http://arxiv.org/schemas/atom journal_ref"`
	DOI        string         `xml:"http://arxiv.org/schemas/atom doi"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// parseEntry converts an Atom entry to a Record. It returns nil for the
// error entries the API emits for unknown or malformed identifiers.
func parseEntry(entry atomEntry) *Record {
	const prefix = "/abs/"
	idx := strings.Index(entry.ID, prefix)
	if idx < 0 {
		return nil
	}
	shortID := entry.ID[idx+len(prefix):]
	if shortID == "" {
		return nil
	}

	rec := &Record{
		ShortID:    shortID,
		Title:      whitespaceRegex.ReplaceAllString(strings.TrimSpace(entry.Title), " "),
		Summary:    strings.TrimSpace(entry.Summary),
		Comment:    strings.TrimSpace(entry.Comment),
		JournalRef: strings.TrimSpace(entry.JournalRef),
		DOI:        strings.TrimSpace(entry.DOI),
	}
	for _, a := range entry.Authors {
		rec.Authors = append(rec.Authors, strings.TrimSpace(a.Name))
	}
	for _, cat := range entry.Categories {
		if cat.Term != "" {
			rec.Categories = append(rec.Categories, cat.Term)
		}
	}
	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		rec.Published = t
	}
	if t, err := time.Parse(time.RFC3339, entry.Updated); err == nil {
		rec.Updated = t
	}
	return rec
}
