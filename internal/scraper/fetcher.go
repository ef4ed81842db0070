// Package scraper performs single page fetches through the fingerprinted,
// proxy-rotating HTTP client.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/harvest/internal/bypass"
	"github.com/FranksOps/harvest/internal/fingerprint"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/pkg/httpclient"
	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/FranksOps/harvest/pkg/ratelimit"
	"github.com/FranksOps/harvest/pkg/useragent"
	"github.com/google/uuid"
)

// maxBodyBytes caps how much of a results page is read.
const maxBodyBytes = 4 << 20

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// FetchConfig configures a Fetcher. Zero values take defaults: a 15s timeout,
// the default user agents, the chrome fingerprint and bypass.DefaultDetectors.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// ProxyPool, when set, supplies one proxy per fetch.
	ProxyPool   *proxy.Pool
	UAPool      *useragent.Pool
	Fingerprint fingerprint.Profile
	// Limiter is shared with every other fetcher of the process.
	Limiter   *ratelimit.Limiter
	Detectors []bypass.Detector
}

// Result is the outcome of one fetch.
type Result struct {
	ID          string
	URL         string
	StatusCode  int
	Headers     map[string][]string
	Body        []byte
	Duration    time.Duration
	Blocked     bool
	BlockSource string
	CreatedAt   time.Time
	// Error is non-empty if the fetch failed before a full response was read.
	Error string
	// Timeout is set when Error was caused by a deadline.
	Timeout bool
}

// Fetcher issues GET requests for results pages. It is safe for concurrent
// use; the cookie jar, if any, lives as long as the Fetcher.
type Fetcher struct {
	cfg    FetchConfig
	client *httpclient.Client
}

type proxyCtxKey struct{}

// chosenProxy routes a request through the proxy picked for it in Fetch, so
// that one transport and its connection pool serve every proxy.
func chosenProxy(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(proxyCtxKey{}).(*url.URL); ok {
		return u, nil
	}
	switch req.URL.Hostname() {
	case "127.0.0.1", "localhost":
		return nil, nil
	}
	return http.ProxyFromEnvironment(req)
}

// NewFetcher applies defaults to cfg and builds the underlying client.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}

	tr, err := fingerprint.NewTransport(fingerprint.Options{
		Profile: cfg.Fingerprint,
		Proxy:   chosenProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: transport: %w", err)
	}
	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    tr,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client: %w", err)
	}
	return &Fetcher{cfg: cfg, client: client}, nil
}

// Fetch GETs target and runs the block detectors over the response.
// Transport failures are reported in Result.Error; the returned error is only
// non-nil when ctx itself is done.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*Result, error) {
	began := time.Now()
	res := &Result{ID: uuid.NewString(), URL: target, CreatedAt: began.UTC()}
	defer func() { res.Duration = time.Since(began) }()

	if err := f.cfg.Limiter.Wait(ctx); err != nil {
		return res, err
	}

	px := f.nextProxy()
	if px != nil {
		ctx = context.WithValue(ctx, proxyCtxKey{}, px)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res.Error = fmt.Sprintf("create request: %v", err)
		return res, nil
	}
	id := f.cfg.UAPool.Next()
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", id.AcceptLanguage)

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		f.proxyFailed(px)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Error = fmt.Sprintf("request failed: %v", err)
		res.Timeout = isTimeout(err)
		return res, nil
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Headers = resp.Header
	res.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Error = fmt.Sprintf("read body: %v", err)
		res.Timeout = isTimeout(err)
	}

	res.Blocked, res.BlockSource = bypass.Analyze(&bypass.Response{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		Body:       res.Body,
	}, f.cfg.Detectors)
	f.proxyAnswered(px, res.Blocked)
	return res, nil
}

func (f *Fetcher) nextProxy() *url.URL {
	if f.cfg.ProxyPool == nil {
		return nil
	}
	return f.cfg.ProxyPool.Next()
}

func (f *Fetcher) proxyFailed(px *url.URL) {
	if px == nil {
		return
	}
	_ = f.cfg.ProxyPool.MarkFailure(px)
	metrics.RecordProxyFailure(px.Host)
}

// proxyAnswered benches a proxy the engine challenged; any other answer
// counts as a success.
func (f *Fetcher) proxyAnswered(px *url.URL, blocked bool) {
	if px == nil {
		return
	}
	if blocked {
		_ = f.cfg.ProxyPool.MarkBlocked(px)
		metrics.RecordProxyBlock(px.Host)
		return
	}
	_ = f.cfg.ProxyPool.MarkSuccess(px)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
