// Package filter holds the static domain block list and the set of domains
// already delivered by a prior run.
package filter

import (
	"strings"

	"github.com/FranksOps/harvest/pkg/urlnorm"
)

// DefaultExcludedDomains are social and directory sites that are never useful
// harvest targets.
var DefaultExcludedDomains = []string{
	"youtube.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"linkedin.com",
	"justdial.com",
	"quora.com",
	"reddit.com",
	"telegram.org",
}

// ExclusionSet is a fixed list of substrings matched case-insensitively
// against candidate domains. An entry of "youtube.com" excludes
// "m.youtube.com".
type ExclusionSet struct {
	entries []string
}

// NewExclusionSet builds an ExclusionSet. Blank entries are ignored. A nil
// slice yields an empty set that excludes nothing; callers wanting the default
// list pass DefaultExcludedDomains explicitly.
func NewExclusionSet(entries []string) *ExclusionSet {
	s := &ExclusionSet{entries: make([]string, 0, len(entries))}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		s.entries = append(s.entries, e)
	}
	return s
}

// IsExcluded reports whether domain contains any configured entry.
func (s *ExclusionSet) IsExcluded(domain string) bool {
	if s == nil {
		return false
	}
	_, hit := s.Match(domain)
	return hit
}

// Match returns the entry that excluded domain, if any.
func (s *ExclusionSet) Match(domain string) (string, bool) {
	if s == nil {
		return "", false
	}
	d := strings.ToLower(domain)
	for _, e := range s.entries {
		if strings.Contains(d, e) {
			return e, true
		}
	}
	return "", false
}

// Entries returns a copy of the configured entries.
func (s *ExclusionSet) Entries() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// OldURLSet is the set of normalized domains delivered by an earlier run.
// Membership always goes through urlnorm.Normalize so that the historical list
// and freshly scraped URLs compare on the same key. It is not locked: fill it
// before handing it to a job.
type OldURLSet struct {
	keys map[string]struct{}
}

// NewOldURLSet normalizes raw URL or domain strings into a set. Values that
// normalize to the empty string are dropped.
func NewOldURLSet(raw []string) *OldURLSet {
	s := &OldURLSet{keys: make(map[string]struct{}, len(raw))}
	s.Add(raw...)
	return s
}

// Add normalizes and inserts more values.
func (s *OldURLSet) Add(raw ...string) {
	for _, r := range raw {
		if k := urlnorm.Normalize(r); k != "" {
			s.keys[k] = struct{}{}
		}
	}
}

// Contains reports whether the normalized form of rawURL is in the set.
func (s *OldURLSet) Contains(rawURL string) bool {
	if s == nil || len(s.keys) == 0 {
		return false
	}
	_, ok := s.keys[urlnorm.Normalize(rawURL)]
	return ok
}

// Len returns the number of distinct normalized domains.
func (s *OldURLSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}
