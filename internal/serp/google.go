package serp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/internal/scraper"
)

// GoogleScrape fetches results pages over plain HTTP with a browser-like TLS
// fingerprint and rotating user agents. It does not execute scripts, so it
// only sees results the engine renders server-side.
type GoogleScrape struct {
	baseURL string
	fetcher *scraper.Fetcher
	logger  *slog.Logger
}

// NewGoogleScrape returns an HTTP strategy querying baseURL through fetcher.
func NewGoogleScrape(baseURL string, fetcher *scraper.Fetcher, logger *slog.Logger) *GoogleScrape {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleScrape{baseURL: baseURL, fetcher: fetcher, logger: logger}
}

func (g *GoogleScrape) Name() string { return "http" }

func (g *GoogleScrape) Paced() bool { return true }

func (g *GoogleScrape) Open(ctx context.Context, keyword string) (Session, error) {
	return &googleSession{g: g, keyword: keyword}, nil
}

func (g *GoogleScrape) Close() error { return nil }

type googleSession struct {
	g       *GoogleScrape
	keyword string
}

func (s *googleSession) Fetch(ctx context.Context, index int) (*Page, error) {
	target := SearchURL(s.g.baseURL, s.keyword, index)

	res, err := s.g.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		if res.Timeout {
			return nil, fmt.Errorf("%w: %s", ErrFetchTimeout, target)
		}
		return nil, fmt.Errorf("fetch %s: %s", target, res.Error)
	}

	page := &Page{
		Keyword:     s.keyword,
		Index:       index,
		URL:         target,
		Content:     string(res.Body),
		Blocked:     res.Blocked,
		BlockSource: res.BlockSource,
	}
	if page.Blocked {
		return page, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, res.StatusCode)
	}

	page.Links, err = extract.Anchors(target, res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	s.g.logger.Debug("fetched results page", "keyword", s.keyword, "page", index, "status", res.StatusCode, "links", len(page.Links), "duration", res.Duration)
	return page, nil
}

func (s *googleSession) Close() error { return nil }
