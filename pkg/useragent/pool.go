// Package useragent supplies rotating desktop browser identities for results
// page fetches and browser sessions.
package useragent

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
)

// DefaultAgents are current desktop Chrome, Firefox, Safari and Edge builds.
var DefaultAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// DefaultAcceptLanguage is sent with every identity.
const DefaultAcceptLanguage = "en-US,en;q=0.9"

// Identity is what a client claims to be. Platform matches the agent so the
// browser's navigator.platform does not contradict the header.
type Identity struct {
	UserAgent      string
	Platform       string
	AcceptLanguage string
}

// Pool hands out identities round-robin or at random. It is safe for
// concurrent use.
type Pool struct {
	ids     []Identity
	counter atomic.Uint64
}

// NewPool builds a pool from user agent strings. An empty list means
// DefaultAgents. Blank entries are dropped.
func NewPool(agents []string) *Pool {
	if len(agents) == 0 {
		agents = DefaultAgents
	}
	p := &Pool{ids: make([]Identity, 0, len(agents))}
	for _, ua := range agents {
		if ua = strings.TrimSpace(ua); ua == "" {
			continue
		}
		p.ids = append(p.ids, Identity{
			UserAgent:      ua,
			Platform:       Platform(ua),
			AcceptLanguage: DefaultAcceptLanguage,
		})
	}
	return p
}

// Next returns identities in order, wrapping around. An empty pool yields the
// zero Identity.
func (p *Pool) Next() Identity {
	if len(p.ids) == 0 {
		return Identity{}
	}
	idx := p.counter.Add(1) - 1
	return p.ids[idx%uint64(len(p.ids))]
}

// Random returns any identity from the pool.
func (p *Pool) Random() Identity {
	if len(p.ids) == 0 {
		return Identity{}
	}
	return p.ids[rand.IntN(len(p.ids))]
}

// Len returns the number of identities in the pool.
func (p *Pool) Len() int { return len(p.ids) }

// Platform returns the navigator.platform value that matches ua. Unknown
// agents map to "".
func Platform(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Win32"
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "Linux"):
		return "Linux x86_64"
	}
	return ""
}
