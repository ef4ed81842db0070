package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/pkg/httpclient"
	"github.com/FranksOps/harvest/pkg/ratelimit"
)

// DefaultBackoff is the wait before each retry of a 5xx API response.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// APIConfig is shared by the search API strategies.
type APIConfig struct {
	APIKey string
	// CX is the Programmable Search Engine id. Custom Search only.
	CX      string
	BaseURL string
	Timeout time.Duration
	// MaxResults caps links per keyword. Zero means 10.
	MaxResults int
	Backoff    []time.Duration
	Limiter    *ratelimit.Limiter
	Logger     *slog.Logger
}

type apiClient struct {
	cfg    APIConfig
	client *httpclient.Client
}

func newAPIClient(cfg APIConfig, defaultBase string) (*apiClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout: cfg.Timeout,
		Header:  http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	return &apiClient{cfg: cfg, client: client}, nil
}

// do sends the request built by newReq, retrying 5xx and transport failures
// per the backoff schedule, and decodes a 2xx body into out.
func (c *apiClient) do(ctx context.Context, newReq func() (*http.Request, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= len(c.cfg.Backoff); attempt++ {
		if attempt > 0 {
			if err := ratelimit.Pause(ctx, c.cfg.Backoff[attempt-1], 0); err != nil {
				return err
			}
		}
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := newReq()
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if err := httpclient.CheckStatus(resp); err != nil {
			if httpclient.Retryable(err) {
				lastErr = err
				c.cfg.Logger.Warn("search API server error, retrying", "error", err, "attempt", attempt+1)
				continue
			}
			return classify(err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrProvider, lastErr)
}

// classify maps a non-retryable status to its sentinel.
func classify(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	switch se.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrUnauthorized, se)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimit, se)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %v", ErrInvalidRequest, se)
	}
	return fmt.Errorf("%w: %v", ErrProvider, se)
}

// apiSession issues one query per keyword; it reports Last on its only page.
type apiSession struct {
	keyword string
	search  func(ctx context.Context, keyword string) ([]extract.RawResult, error)
}

func (s *apiSession) Fetch(ctx context.Context, index int) (*Page, error) {
	page := &Page{Keyword: s.keyword, Index: index, Authoritative: true, Last: true}
	if index > 0 {
		return page, nil
	}
	links, err := s.search(ctx, s.keyword)
	if err != nil {
		return nil, err
	}
	page.Links = links
	return page, nil
}

func (s *apiSession) Close() error { return nil }

// CustomSearch queries the Google Custom Search JSON API.
type CustomSearch struct {
	api *apiClient
}

// NewCustomSearch returns a Custom Search strategy. Both the key and the
// engine id are required.
func NewCustomSearch(cfg APIConfig) (*CustomSearch, error) {
	if cfg.APIKey == "" || cfg.CX == "" {
		return nil, fmt.Errorf("%w: custom search needs api.key and api.cx", ErrMissingCredentials)
	}
	if cfg.MaxResults > 10 {
		cfg.MaxResults = 10
	}
	api, err := newAPIClient(cfg, "https://www.googleapis.com/customsearch/v1")
	if err != nil {
		return nil, err
	}
	return &CustomSearch{api: api}, nil
}

func (c *CustomSearch) Name() string { return "api" }

func (c *CustomSearch) Open(ctx context.Context, keyword string) (Session, error) {
	return &apiSession{keyword: keyword, search: c.search}, nil
}

func (c *CustomSearch) Close() error { return nil }

type customSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (c *CustomSearch) search(ctx context.Context, keyword string) ([]extract.RawResult, error) {
	cfg := c.api.cfg
	q := url.Values{}
	q.Set("key", cfg.APIKey)
	q.Set("cx", cfg.CX)
	q.Set("q", `"`+keyword+`"`)
	q.Set("num", strconv.Itoa(cfg.MaxResults))
	endpoint := cfg.BaseURL + "?" + q.Encode()

	var resp customSearchResponse
	err := c.api.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, &resp)
	if err != nil {
		return nil, err
	}

	links := make([]extract.RawResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		links = append(links, extract.RawResult{URL: it.Link, AnchorText: it.Title, Snippet: it.Snippet})
	}
	cfg.Logger.Debug("custom search results", "keyword", keyword, "items", len(links))
	return links, nil
}

// Tavily queries the Tavily search API.
type Tavily struct {
	api *apiClient
}

// NewTavily returns a Tavily strategy.
func NewTavily(cfg APIConfig) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: tavily needs tavily.key", ErrMissingCredentials)
	}
	api, err := newAPIClient(cfg, "https://api.tavily.com")
	if err != nil {
		return nil, err
	}
	return &Tavily{api: api}, nil
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Open(ctx context.Context, keyword string) (Session, error) {
	return &apiSession{keyword: keyword, search: t.search}, nil
}

func (t *Tavily) Close() error { return nil }

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results,omitempty"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) search(ctx context.Context, keyword string) ([]extract.RawResult, error) {
	cfg := t.api.cfg
	body, err := json.Marshal(tavilyRequest{
		APIKey:      cfg.APIKey,
		Query:       `"` + keyword + `"`,
		MaxResults:  cfg.MaxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp tavilyResponse
	err = t.api.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/search", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}

	links := make([]extract.RawResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		links = append(links, extract.RawResult{URL: r.URL, AnchorText: r.Title, Snippet: r.Content})
	}
	cfg.Logger.Debug("tavily results", "keyword", keyword, "items", len(links))
	return links, nil
}
