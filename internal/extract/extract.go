// Package extract turns the links observed on a search results page into
// candidate site records.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/FranksOps/harvest/internal/filter"
	"github.com/FranksOps/harvest/pkg/urlnorm"
	"github.com/PuerkitoBio/goquery"
)

// DefaultTitleMax bounds SearchResult.Title in runes.
const DefaultTitleMax = 100

// DefaultRejectHosts are fragments of the search engine's own hosts and its
// cache proxy.
var DefaultRejectHosts = []string{
	"google.",
	"webcache.googleusercontent.com",
}

// RawResult is a single hyperlink observed on a fetched page.
type RawResult struct {
	URL        string
	AnchorText string
	// Snippet is only filled by API strategies.
	Snippet string
}

// SearchResult is a link that passed every filter rule.
type SearchResult struct {
	Domain  string `json:"domain"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Keyword string `json:"keyword,omitempty"`
}

// Reason classifies what happened to one link.
type Reason string

const (
	Accepted      Reason = "accepted"
	SkipMalformed Reason = "malformed"
	SkipScheme    Reason = "not_http"
	SkipEngine    Reason = "engine_host"
	SkipExcluded  Reason = "excluded"
)

// Outcome records the decision for one link.
type Outcome struct {
	URL    string
	Reason Reason
	// Detail names the matching rule entry, if any.
	Detail string
}

// Accepted reports whether the link became a SearchResult.
func (o Outcome) Accepted() bool { return o.Reason == Accepted }

// Config parameterizes an Extractor.
type Config struct {
	// RejectHosts are substrings of link hosts that belong to the search
	// engine itself. Nil means DefaultRejectHosts.
	RejectHosts []string
	// Exclusions is the static block list. Nil excludes nothing.
	Exclusions *filter.ExclusionSet
	// TitleMax bounds titles in runes. Zero means DefaultTitleMax.
	TitleMax int
}

// Extractor applies the link filter rules in order: absolute http(s) scheme,
// engine host rejection, static exclusion, then title shaping.
type Extractor struct {
	rejectHosts []string
	exclusions  *filter.ExclusionSet
	titleMax    int
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.RejectHosts == nil {
		cfg.RejectHosts = DefaultRejectHosts
	}
	if cfg.TitleMax <= 0 {
		cfg.TitleMax = DefaultTitleMax
	}
	reject := make([]string, 0, len(cfg.RejectHosts))
	for _, h := range cfg.RejectHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			reject = append(reject, h)
		}
	}
	return &Extractor{
		rejectHosts: reject,
		exclusions:  cfg.Exclusions,
		titleMax:    cfg.TitleMax,
	}
}

// Extract classifies every raw link. The accepted results keep page order.
// One bad link never aborts the page; it only yields a skip Outcome.
func (e *Extractor) Extract(raws []RawResult) ([]SearchResult, []Outcome) {
	results := make([]SearchResult, 0, len(raws))
	outcomes := make([]Outcome, 0, len(raws))
	for _, raw := range raws {
		res, out := e.Classify(raw)
		outcomes = append(outcomes, out)
		if out.Accepted() {
			results = append(results, res)
		}
	}
	return results, outcomes
}

// Classify applies the filter rules to a single link.
func (e *Extractor) Classify(raw RawResult) (SearchResult, Outcome) {
	href := strings.TrimSpace(raw.URL)
	out := Outcome{URL: href}

	u, err := url.Parse(href)
	if err != nil {
		out.Reason = SkipMalformed
		out.Detail = err.Error()
		return SearchResult{}, out
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		out.Reason = SkipScheme
		return SearchResult{}, out
	}

	domain, _ := urlnorm.Host(href)
	for _, h := range e.rejectHosts {
		if strings.Contains(domain, h) {
			out.Reason = SkipEngine
			out.Detail = h
			return SearchResult{}, out
		}
	}
	if entry, hit := e.exclusions.Match(domain); hit {
		out.Reason = SkipExcluded
		out.Detail = entry
		return SearchResult{}, out
	}

	title := Truncate(raw.AnchorText, e.titleMax)
	if title == "" {
		title = domain
	}

	out.Reason = Accepted
	return SearchResult{
		Domain:  domain,
		URL:     href,
		Title:   title,
		Snippet: strings.TrimSpace(raw.Snippet),
	}, out
}

// Truncate collapses whitespace runs and cuts s to at most max runes.
func Truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

// Anchors parses an HTML document and returns every a[href] as a RawResult.
// Search engine redirect wrappers (/url?q=...) relative to pageURL are
// unwrapped; every other href is kept verbatim, so Extract reports relative
// links as not_http and unparsable ones as malformed.
func Anchors(pageURL string, body []byte) ([]RawResult, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var raws []RawResult
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		raws = append(raws, RawResult{
			URL:        resolve(base, href),
			AnchorText: s.Text(),
		})
	})

	return raws, nil
}

// resolve unwraps the engine's /url redirect wrapper. Every other href is
// returned as written: a relative link points back into the engine and must
// fail the absolute-scheme rule.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	resolved := base.ResolveReference(u)

	if resolved.Path == "/url" && resolved.Host == base.Host {
		q := resolved.Query()
		for _, key := range []string{"q", "url"} {
			if target := q.Get(key); urlnorm.IsAbsoluteHTTP(target) {
				return target
			}
		}
	}
	return href
}
