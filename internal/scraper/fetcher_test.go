package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/bypass"
	"github.com/FranksOps/harvest/internal/fingerprint"
	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/FranksOps/harvest/pkg/useragent"
)

const challengeBody = "<html>Our systems have detected unusual traffic from your computer network.</html>"

func newTestFetcher(t *testing.T, cfg FetchConfig) *Fetcher {
	t.Helper()
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileGo
	}
	f, err := NewFetcher(cfg)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func TestFetch_ResultsPage(t *testing.T) {
	var gotUA, gotLang string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("X-Engine", "fake")
		_, _ = w.Write([]byte(`<a href="https://example.com/">Example</a>`))
	}))
	defer ts.Close()

	f := newTestFetcher(t, FetchConfig{
		UAPool: useragent.NewPool([]string{"Harvester/2.0"}),
	})
	res, err := f.Fetch(context.Background(), ts.URL+"/search?q=plumber")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("fetch failed: %s", res.Error)
	}

	if gotUA != "Harvester/2.0" || gotLang != useragent.DefaultAcceptLanguage {
		t.Errorf("identity headers not sent: ua=%q lang=%q", gotUA, gotLang)
	}
	if res.StatusCode != http.StatusOK || !strings.Contains(string(res.Body), "example.com") {
		t.Errorf("unexpected response: %d %q", res.StatusCode, res.Body)
	}
	if got := http.Header(res.Headers).Get("X-Engine"); got != "fake" {
		t.Errorf("response headers not kept, X-Engine=%q", got)
	}
	if res.Blocked || res.ID == "" || res.Duration <= 0 {
		t.Errorf("unexpected result metadata: %+v", res)
	}
}

func TestFetch_Challenge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(challengeBody))
	}))
	defer ts.Close()

	res, err := newTestFetcher(t, FetchConfig{}).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Blocked || res.BlockSource != bypass.SourceSearchChallenge {
		t.Errorf("expected search challenge, got blocked=%v source=%q", res.Blocked, res.BlockSource)
	}
}

func TestFetch_CustomDetectors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("please verify you are a person"))
	}))
	defer ts.Close()

	f := newTestFetcher(t, FetchConfig{
		Detectors: []bypass.Detector{bypass.PhraseDetector(bypass.Phrases{"verify you are a person"})},
	})
	res, _ := f.Fetch(context.Background(), ts.URL)
	if !res.Blocked {
		t.Error("configured phrase should flag the page")
	}
}

func TestFetch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer ts.Close()

	res, err := newTestFetcher(t, FetchConfig{Timeout: 10 * time.Millisecond}).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("a client timeout is not a context error: %v", err)
	}
	if !strings.HasPrefix(res.Error, "request failed") || !res.Timeout {
		t.Errorf("expected a timed out request, got error=%q timeout=%v", res.Error, res.Timeout)
	}
}

func TestFetch_ContextDone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestFetcher(t, FetchConfig{}).Fetch(ctx, ts.URL); err == nil {
		t.Fatal("expected the context error to be returned")
	}
}

func TestFetch_BadURL(t *testing.T) {
	res, err := newTestFetcher(t, FetchConfig{}).Fetch(context.Background(), "://nope")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Error, "create request") {
		t.Errorf("unexpected error %q", res.Error)
	}
}

// proxyServer answers every proxied request itself with the given status and
// body, counting the requests that reached it.
func proxyServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !r.URL.IsAbs() {
			t.Errorf("proxy expected an absolute request URI, got %s", r.URL)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestFetch_ThroughProxy(t *testing.T) {
	px, hits := proxyServer(t, http.StatusOK, "proxied")
	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(px.URL); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t, FetchConfig{ProxyPool: pool})
	res, _ := f.Fetch(context.Background(), "http://engine.invalid/search?q=x")
	if res.Error != "" || string(res.Body) != "proxied" {
		t.Fatalf("request did not go through the proxy: %+v", res)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 proxied request, got %d", hits.Load())
	}
	if s := pool.Snapshot()[0]; s.Successes != 1 {
		t.Errorf("expected a recorded success, got %+v", s)
	}
}

func TestFetch_ProxyBenchedOnChallenge(t *testing.T) {
	flagged, _ := proxyServer(t, http.StatusOK, challengeBody)
	clean, _ := proxyServer(t, http.StatusOK, "results")

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(flagged.URL, clean.URL); err != nil {
		t.Fatal(err)
	}
	f := newTestFetcher(t, FetchConfig{ProxyPool: pool})

	first, _ := f.Fetch(context.Background(), "http://engine.invalid/search")
	if !first.Blocked {
		t.Fatal("expected the first proxy to be served a challenge")
	}
	if pool.Healthy() != 1 {
		t.Fatalf("flagged proxy should be benched, healthy=%d", pool.Healthy())
	}

	for range 3 {
		res, _ := f.Fetch(context.Background(), "http://engine.invalid/search")
		if res.Blocked || string(res.Body) != "results" {
			t.Fatalf("benched proxy was used again: %+v", res)
		}
	}
}

func TestFetch_ProxyFailure(t *testing.T) {
	// a closed server refuses connections
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	pool := proxy.NewPool(proxy.Config{MaxFailures: 1})
	if err := pool.Add(deadURL); err != nil {
		t.Fatal(err)
	}
	f := newTestFetcher(t, FetchConfig{ProxyPool: pool, Timeout: time.Second})

	res, err := f.Fetch(context.Background(), "http://engine.invalid/")
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == "" {
		t.Fatal("expected a transport error")
	}
	if pool.Healthy() != 0 {
		t.Error("failing proxy should be benched")
	}
}
