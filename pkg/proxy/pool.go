// Package proxy rotates outbound proxies for results page requests. A proxy
// that keeps failing, or whose exit address the search engine has flagged,
// sits out a cooldown before it is offered again.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	ErrNilURL   = errors.New("proxy: nil proxy url")
	ErrNotFound = errors.New("proxy: not found in pool")
)

// Config tunes benching. Zero values take the defaults.
type Config struct {
	// MaxFailures is the number of consecutive transport failures that bench
	// a proxy. Default 3.
	MaxFailures int
	// Cooldown is how long a failing proxy is benched. Default 5m.
	Cooldown time.Duration
	// BlockCooldown is how long a proxy is benched after the engine served it
	// a challenge page. Default 30m.
	BlockCooldown time.Duration
}

// Status is a point-in-time view of one proxy.
type Status struct {
	URL          string
	Successes    int
	Failures     int
	Blocks       int
	BenchedUntil time.Time
}

type entry struct {
	url          *url.URL
	successes    int
	failures     int
	blocks       int
	benchedUntil time.Time
}

// Pool hands out proxies round-robin, skipping benched ones. It is safe for
// concurrent use.
type Pool struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries []*entry
	byKey   map[string]*entry
	next    int
}

// NewPool returns an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.BlockCooldown <= 0 {
		cfg.BlockCooldown = 30 * time.Minute
	}
	return &Pool{cfg: cfg, now: time.Now, byKey: make(map[string]*entry)}
}

// LoadFile adds the proxies listed in path. See Read for the format.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open list: %w", err)
	}
	defer f.Close()
	return p.Read(f)
}

// Read adds one proxy per line. Blank lines and lines starting with '#' are
// skipped.
func (p *Pool) Read(r io.Reader) error {
	var raw []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw = append(raw, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: read list: %w", err)
	}
	return p.Add(raw...)
}

// Add parses and adds proxies. A missing scheme means http; only http,
// https and socks5 are accepted. Duplicates are ignored. Nothing is added
// when any entry is invalid.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*url.URL, 0, len(raw))
	for _, s := range raw {
		u, err := Parse(s)
		if err != nil {
			return err
		}
		parsed = append(parsed, u)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range parsed {
		key := u.String()
		if _, dup := p.byKey[key]; dup {
			continue
		}
		e := &entry{url: u}
		p.byKey[key] = e
		p.entries = append(p.entries, e)
	}
	return nil
}

// Parse validates a single proxy address.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("proxy: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy: %q has no host", raw)
	}
	return u, nil
}

// Next returns the next proxy that is not benched, or nil when the pool is
// empty or every proxy is benched.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range len(p.entries) {
		e := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)
		if now.Before(e.benchedUntil) {
			continue
		}
		if !e.benchedUntil.IsZero() {
			// back from the bench with a clean slate
			e.benchedUntil = time.Time{}
			e.failures = 0
		}
		return e.url
	}
	return nil
}

// MarkSuccess records a usable response through u.
func (p *Pool) MarkSuccess(u *url.URL) error {
	return p.update(u, func(e *entry) {
		e.successes++
		e.failures = 0
	})
}

// MarkFailure records a transport failure through u and benches it after
// MaxFailures in a row.
func (p *Pool) MarkFailure(u *url.URL) error {
	return p.update(u, func(e *entry) {
		e.failures++
		if e.failures >= p.cfg.MaxFailures {
			e.benchedUntil = p.now().Add(p.cfg.Cooldown)
		}
	})
}

// MarkBlocked benches u at once: the engine has flagged its exit address and
// retrying through it only earns more challenges.
func (p *Pool) MarkBlocked(u *url.URL) error {
	return p.update(u, func(e *entry) {
		e.blocks++
		e.benchedUntil = p.now().Add(p.cfg.BlockCooldown)
	})
}

func (p *Pool) update(u *url.URL, fn func(*entry)) error {
	if u == nil {
		return ErrNilURL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byKey[u.String()]
	if !ok {
		return ErrNotFound
	}
	fn(e)
	return nil
}

// Len returns the number of proxies, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Healthy returns the number of proxies not currently benched.
func (p *Pool) Healthy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, e := range p.entries {
		if !now.Before(e.benchedUntil) {
			n++
		}
	}
	return n
}

// Snapshot returns the status of every proxy in pool order. Credentials are
// redacted.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, Status{
			URL:          e.url.Redacted(),
			Successes:    e.successes,
			Failures:     e.failures,
			Blocks:       e.blocks,
			BenchedUntil: e.benchedUntil,
		})
	}
	return out
}
