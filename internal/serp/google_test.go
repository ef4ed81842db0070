package serp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/internal/fingerprint"
	"github.com/FranksOps/harvest/internal/scraper"
)

func newTestFetcher(t *testing.T, timeout time.Duration) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     timeout,
		Fingerprint: fingerprint.ProfileGo,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f
}

func TestGoogleScrape_Fetch(t *testing.T) {
	var gotQuery, gotStart string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotStart = r.URL.Query().Get("start")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/url?q=https://a.com/page&amp;sa=U">Alpha</a>
			<a href="https://b.com/">Beta</a>
			<a href="/preferences">Settings</a>
		</body></html>`))
	}))
	defer ts.Close()

	g := NewGoogleScrape(ts.URL, newTestFetcher(t, 5*time.Second), nil)
	sess, err := g.Open(context.Background(), "alpha beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	page, err := sess.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != `"alpha beta"` || gotStart != "10" {
		t.Errorf("unexpected query q=%s start=%s", gotQuery, gotStart)
	}
	if page.Blocked || page.Authoritative {
		t.Errorf("unexpected page flags %+v", page)
	}
	if len(page.Links) != 3 || page.Links[0].URL != "https://a.com/page" {
		t.Errorf("unexpected links %v", page.Links)
	}
	results, _ := extract.New(extract.Config{}).Extract(page.Links)
	if len(results) != 2 {
		t.Errorf("the engine's own relative link must not become a result, got %v", results)
	}
}

func TestGoogleScrape_Blocked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("detected unusual traffic"))
	}))
	defer ts.Close()

	g := NewGoogleScrape(ts.URL, newTestFetcher(t, 5*time.Second), nil)
	sess, _ := g.Open(context.Background(), "alpha")

	page, err := sess.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("blocked page should not be an error: %v", err)
	}
	if !page.Blocked {
		t.Error("expected page to be flagged as blocked")
	}
}

func TestGoogleScrape_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer ts.Close()

	g := NewGoogleScrape(ts.URL, newTestFetcher(t, 10*time.Millisecond), nil)
	sess, _ := g.Open(context.Background(), "alpha")

	if _, err := sess.Fetch(context.Background(), 0); !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("expected ErrFetchTimeout, got %v", err)
	}
}

func TestGoogleScrape_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	g := NewGoogleScrape(ts.URL, newTestFetcher(t, 5*time.Second), nil)
	sess, _ := g.Open(context.Background(), "alpha")

	if _, err := sess.Fetch(context.Background(), 0); err == nil {
		t.Error("expected error for 500 status")
	}
}
