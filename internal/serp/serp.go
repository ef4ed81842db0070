// Package serp fetches search engine result pages for a keyword. Each
// Strategy hides one way of getting results: a headless browser, a plain
// fingerprinted HTTP client, or a search API.
package serp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/FranksOps/harvest/internal/extract"
)

// DefaultBaseURL is the search engine the scraping strategies query.
const DefaultBaseURL = "https://www.google.com"

// PageSize is the engine's result offset step per page.
const PageSize = 10

var (
	// ErrFetchTimeout is returned when a page did not load within the
	// navigation timeout.
	ErrFetchTimeout = errors.New("serp: page load timed out")
	// ErrBlocked is returned by strategies that detect an anti-automation
	// challenge themselves.
	ErrBlocked = errors.New("serp: blocked by search engine")
	// ErrMissingCredentials is returned when an API strategy is built
	// without its key.
	ErrMissingCredentials = errors.New("serp: missing API credentials")
	// ErrUnauthorized is returned when an API rejects the credentials.
	ErrUnauthorized = errors.New("serp: unauthorized")
	// ErrRateLimit is returned when an API reports quota exhaustion.
	ErrRateLimit = errors.New("serp: rate limit exceeded")
	// ErrInvalidRequest is returned when an API rejects the query.
	ErrInvalidRequest = errors.New("serp: invalid request")
	// ErrProvider wraps any other API failure.
	ErrProvider = errors.New("serp: provider error")
)

// Page is one fetched results page.
type Page struct {
	Keyword string
	// Index is the zero-based page number.
	Index int
	URL   string
	// Content is the rendered document. API strategies leave it empty.
	Content string
	Links   []extract.RawResult
	// Authoritative pages come from an API and skip challenge detection.
	Authoritative bool
	// Last is set when the strategy has no further pages for the keyword.
	Last bool
	// Blocked is set when the strategy saw a challenge in the raw response.
	Blocked     bool
	BlockSource string
}

// Session fetches the pages of a single keyword. Any browser state a
// session holds is discarded by Close and never shared with the next keyword.
type Session interface {
	Fetch(ctx context.Context, index int) (*Page, error)
	Close() error
}

// Strategy opens one Session per keyword.
type Strategy interface {
	Name() string
	Open(ctx context.Context, keyword string) (Session, error)
	Close() error
}

// Paced is implemented by strategies that hit the engine directly and should
// be given a pause between keywords.
type Paced interface {
	Paced() bool
}

// IsPaced reports whether s asks for inter-keyword pauses.
func IsPaced(s Strategy) bool {
	p, ok := s.(Paced)
	return ok && p.Paced()
}

// SearchURL builds the exact-phrase query URL for the given page:
// {base}/search?q="<keyword>"&start=<index*10>.
func SearchURL(base, keyword string, index int) string {
	if base == "" {
		base = DefaultBaseURL
	}
	q := url.QueryEscape(`"` + keyword + `"`)
	return fmt.Sprintf("%s/search?q=%s&start=%d", strings.TrimRight(base, "/"), q, index*PageSize)
}
