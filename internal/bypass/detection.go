// Package bypass recognizes the challenge and block pages served to automated
// clients, both by search engines and by the bot-protection vendors that
// front them.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// SourceSearchChallenge labels a block recognized from page wording rather
// than from a bot-protection vendor signature.
const SourceSearchChallenge = "SearchChallenge"

// DefaultPhrases are lower-case fragments of the interstitials search engines
// show to automated clients.
var DefaultPhrases = Phrases{
	"unusual traffic",
	"detected unusual traffic",
	"captcha",
	"to continue, please type the characters below",
}

// Phrases is a set of fragments matched case-insensitively against page
// content.
type Phrases []string

// Match returns the first phrase found in content.
func (p Phrases) Match(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, phrase := range p {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return phrase, true
		}
	}
	return "", false
}

// IsBlocked reports whether content carries any of DefaultPhrases.
func IsBlocked(content string) bool {
	_, ok := DefaultPhrases.Match(content)
	return ok
}

// Response is the part of an HTTP exchange the detectors inspect.
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

func (r *Response) header(key string) string {
	return http.Header(r.Headers).Get(key)
}

// headerValue finds key case-insensitively, for header maps that were not
// built in canonical form.
func (r *Response) headerValue(key string) string {
	if v := r.header(key); v != "" {
		return v
	}
	for k, vals := range r.Headers {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// Detector reports whether a response is a block or challenge page, and who
// served it.
type Detector func(res *Response) (detected bool, source string)

// signature describes one vendor's block page.
type signature struct {
	source string
	// statuses the vendor blocks with
	statuses []int
	// server header fragment, lower-case
	server string
	// any of these headers being set is a match
	headers []string
	// any of these body fragments is a match
	markers []string
	// every one of these body fragments must be present
	allOf []string
}

func (s signature) detect(res *Response) (bool, string) {
	matchStatus := false
	for _, code := range s.statuses {
		if res.StatusCode == code {
			matchStatus = true
			break
		}
	}
	if !matchStatus {
		return false, ""
	}

	if s.server != "" && strings.Contains(strings.ToLower(res.headerValue("Server")), s.server) {
		return true, s.source
	}
	for _, h := range s.headers {
		if res.headerValue(h) != "" {
			return true, s.source
		}
	}
	for _, m := range s.markers {
		if bytes.Contains(res.Body, []byte(m)) {
			return true, s.source
		}
	}
	if len(s.allOf) > 0 {
		for _, m := range s.allOf {
			if !bytes.Contains(res.Body, []byte(m)) {
				return false, ""
			}
		}
		return true, s.source
	}
	return false, ""
}

var vendors = []signature{
	{
		source:   "Cloudflare",
		statuses: []int{http.StatusForbidden, http.StatusServiceUnavailable},
		server:   "cloudflare",
		markers:  []string{"cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare"},
	},
	{
		source:   "Akamai",
		statuses: []int{http.StatusForbidden},
		server:   "akamai",
		allOf:    []string{"Reference #", "Access Denied"},
	},
	{
		source:   "DataDome",
		statuses: []int{http.StatusForbidden},
		server:   "datadome",
		headers:  []string{"X-DataDome", "X-DataDome-Response"},
		markers:  []string{"geo.captcha-delivery.com", "datadome"},
	},
	{
		source:   "PerimeterX",
		statuses: []int{http.StatusForbidden},
		headers:  []string{"X-Px-Captcha"},
		markers:  []string{"client.perimeterx.net", "px-captcha", "_pxBlock"},
	},
}

// Detectors returns the vendor detectors followed by a phrase detector for
// phrases. Empty phrases fall back to DefaultPhrases.
func Detectors(phrases Phrases) []Detector {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	out := make([]Detector, 0, len(vendors)+1)
	for _, v := range vendors {
		out = append(out, v.detect)
	}
	return append(out, PhraseDetector(phrases))
}

// DefaultDetectors is Detectors(DefaultPhrases).
func DefaultDetectors() []Detector {
	return Detectors(DefaultPhrases)
}

// PhraseDetector flags any response whose body carries one of the phrases,
// whatever the status code. Search engines serve their challenge pages with
// 200 as often as with 429.
func PhraseDetector(p Phrases) Detector {
	return func(res *Response) (bool, string) {
		if _, ok := p.Match(string(res.Body)); ok {
			return true, SourceSearchChallenge
		}
		return false, ""
	}
}

// Analyze runs the response through the detectors and returns the first hit.
func Analyze(res *Response, detectors []Detector) (bool, string) {
	if res == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return true, source
		}
	}
	return false, ""
}
