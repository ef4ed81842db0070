// Package dedupe collapses search results to one record per domain.
package dedupe

import (
	"fmt"

	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/pkg/urlnorm"
)

// Retention selects which URL the surviving record keeps.
type Retention string

const (
	// RetainBase reduces the URL to scheme://host.
	RetainBase Retention = "base"
	// RetainFull keeps the first-seen link untouched.
	RetainFull Retention = "full"
)

// ParseRetention validates a retention name. The empty string means RetainBase.
func ParseRetention(s string) (Retention, error) {
	switch Retention(s) {
	case "", RetainBase:
		return RetainBase, nil
	case RetainFull:
		return RetainFull, nil
	default:
		return "", fmt.Errorf("unknown url retention %q", s)
	}
}

// Set is an insertion-ordered mapping from domain to its first-seen result.
type Set struct {
	order   []string
	byKey   map[string]extract.SearchResult
	dropped int
}

// Dedupe keeps the first result seen for each domain and discards the rest,
// even when their paths differ.
func Dedupe(results []extract.SearchResult, retention Retention) *Set {
	s := &Set{byKey: make(map[string]extract.SearchResult, len(results))}
	for _, r := range results {
		if r.Domain == "" {
			s.dropped++
			continue
		}
		if _, seen := s.byKey[r.Domain]; seen {
			s.dropped++
			continue
		}
		if retention != RetainFull {
			if base, ok := urlnorm.BaseURL(r.URL); ok {
				r.URL = base
			}
		}
		s.byKey[r.Domain] = r
		s.order = append(s.order, r.Domain)
	}
	return s
}

// Get returns the record kept for domain.
func (s *Set) Get(domain string) (extract.SearchResult, bool) {
	r, ok := s.byKey[domain]
	return r, ok
}

// Len returns the number of distinct domains.
func (s *Set) Len() int { return len(s.order) }

// Dropped returns how many inputs were discarded as duplicates.
func (s *Set) Dropped() int { return s.dropped }

// Results returns the kept records in first-seen order.
func (s *Set) Results() []extract.SearchResult {
	out := make([]extract.SearchResult, 0, len(s.order))
	for _, d := range s.order {
		out = append(out, s.byKey[d])
	}
	return out
}
