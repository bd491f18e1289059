// Package jobsearch fetches job postings from the JSearch API on RapidAPI.
package jobsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/toolwatch/internal/resilience"
)

const (
	defaultBaseURL   = "https://jsearch.p.rapidapi.com"
	defaultHost      = "jsearch.p.rapidapi.com"
	defaultPageLimit = 3
)

// Posting is one job posting as returned by the provider.
type Posting struct {
	JobID       string    `json:"job_id"`
	Platform    string    `json:"job_publisher"`
	Company     string    `json:"employer_name"`
	Title       string    `json:"job_title"`
	Description string    `json:"job_description"`
	URL         string    `json:"job_apply_link"`
	PostedAt    time.Time `json:"-"`
}

// Client searches job postings for a query string.
type Client interface {
	Search(ctx context.Context, query string) ([]Posting, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHost overrides the X-RapidAPI-Host header.
func WithHost(host string) Option {
	return func(c *httpClient) { c.host = host }
}

// WithPageLimit sets how many result pages a single Search fetches.
func WithPageLimit(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second. RapidAPI free tiers are
// aggressive about 429s.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	host      string
	pageLimit int
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a JSearch client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		baseURL:   defaultBaseURL,
		host:      defaultHost,
		pageLimit: defaultPageLimit,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	Status string       `json:"status"`
	Data   []searchItem `json:"data"`
}

type searchItem struct {
	JobID       string `json:"job_id"`
	Publisher   string `json:"job_publisher"`
	Employer    string `json:"employer_name"`
	Title       string `json:"job_title"`
	Description string `json:"job_description"`
	ApplyLink   string `json:"job_apply_link"`
	PostedAtTS  int64  `json:"job_posted_at_timestamp"`
}

// Search fetches up to pageLimit pages of postings for query. Pages after
// the first are best-effort: a short page ends pagination early.
func (c *httpClient) Search(ctx context.Context, query string) ([]Posting, error) {
	var out []Posting
	for page := 1; page <= c.pageLimit; page++ {
		items, err := c.searchPage(ctx, query, page)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			p := Posting{
				JobID:       it.JobID,
				Platform:    it.Publisher,
				Company:     it.Employer,
				Title:       it.Title,
				Description: it.Description,
				URL:         it.ApplyLink,
			}
			if it.PostedAtTS > 0 {
				p.PostedAt = time.Unix(it.PostedAtTS, 0).UTC()
			}
			out = append(out, p)
		}
		if len(items) == 0 {
			break
		}
	}
	return out, nil
}

func (c *httpClient) searchPage(ctx context.Context, query string, page int) ([]searchItem, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "jobsearch: rate limit wait")
		}
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("num_pages", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "jobsearch: create request")
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.host)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "jobsearch: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "jobsearch: read response"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("jobsearch: search returned %d: %s", resp.StatusCode, truncate(body, 256))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "jobsearch: decode response")
	}
	return sr.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
