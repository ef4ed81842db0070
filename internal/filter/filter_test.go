package filter

import (
	"testing"

	"github.com/FranksOps/harvest/pkg/urlnorm"
)

func TestExclusionSet_Substring(t *testing.T) {
	s := NewExclusionSet([]string{"youtube.com", "  ", "LinkedIn.com"})

	if !s.IsExcluded("m.youtube.com") {
		t.Errorf("expected m.youtube.com to be excluded by youtube.com")
	}
	if !s.IsExcluded("WWW.LINKEDIN.COM") {
		t.Errorf("expected match to be case-insensitive")
	}
	if s.IsExcluded("example.com") {
		t.Errorf("expected example.com to pass")
	}

	entry, ok := s.Match("in.linkedin.com")
	if !ok || entry != "linkedin.com" {
		t.Errorf("expected linkedin.com match, got %q", entry)
	}

	if len(s.Entries()) != 2 {
		t.Errorf("expected blank entry to be dropped, got %v", s.Entries())
	}
}

func TestExclusionSet_Defaults(t *testing.T) {
	s := NewExclusionSet(DefaultExcludedDomains)
	for _, d := range []string{"justdial.com", "old.reddit.com", "t.telegram.org", "x.com"} {
		if !s.IsExcluded(d) {
			t.Errorf("expected %s to be excluded by default list", d)
		}
	}

	var nilSet *ExclusionSet
	if nilSet.IsExcluded("youtube.com") {
		t.Errorf("nil set should exclude nothing")
	}
}

func TestOldURLSet(t *testing.T) {
	s := NewOldURLSet([]string{"https://www.Example.com/page", "other.org:8080", "", "   "})

	if s.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", s.Len())
	}
	if !s.Contains("http://example.com") {
		t.Errorf("expected example.com to be contained")
	}
	if !s.Contains("https://other.org/x?y=z") {
		t.Errorf("expected other.org to be contained")
	}
	if s.Contains("https://new.example.com") {
		t.Errorf("subdomains are distinct keys")
	}

	s.Add("new.example.com")
	if !s.Contains("https://new.example.com") {
		t.Errorf("expected added key to be contained")
	}
}

func TestOldURLSet_SymmetricKeys(t *testing.T) {
	raw := "HTTPS://WWW.Shop.Example.com:443/cart?id=1"
	s := NewOldURLSet([]string{raw})

	// the same raw string flowing through the scrape path must hit the set
	if !s.Contains(raw) {
		t.Errorf("historical and scraped keys diverged for %q", raw)
	}
	if urlnorm.Normalize(raw) != "shop.example.com" {
		t.Errorf("unexpected key %q", urlnorm.Normalize(raw))
	}
}
