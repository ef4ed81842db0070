// Package urlnorm canonicalizes URLs and bare domains into comparison keys.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize returns the comparison key for a URL or bare domain: the
// lower-cased host with any http(s) scheme, leading "www.", port, path, query
// and fragment removed. Empty input yields "". Malformed input never fails; it
// degrades to a best-effort substring.
//
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(s, "http://"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "https://"); ok {
		s = rest
	}

	return canonicalHost(hostPart(s))
}

// hostPart extracts the authority of a scheme-less URL. url.Parse is used when
// the input is well formed; otherwise the string is cut at the first path,
// query or fragment delimiter.
func hostPart(s string) string {
	if !strings.Contains(s, "%") {
		u, err := url.Parse("//" + s)
		if err == nil && u.Host != "" && !strings.ContainsAny(u.Host, "/?#@") {
			return strings.ToLower(u.Host)
		}
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// canonicalHost strips whitespace, "www." prefixes and ports until the value
// stops changing.
func canonicalHost(h string) string {
	for {
		next := strings.TrimSpace(h)
		next = strings.TrimPrefix(next, "www.")
		if i := strings.IndexByte(next, ':'); i >= 0 {
			next = next[:i]
		}
		if next == h {
			return h
		}
		h = next
	}
}

// Host returns the lower-cased network location (host and optional port) of an
// absolute http(s) URL.
func Host(rawURL string) (string, bool) {
	u, ok := parseAbsolute(rawURL)
	if !ok {
		return "", false
	}
	return strings.ToLower(u.Host), true
}

// BaseURL reduces an absolute http(s) URL to scheme://host, dropping path,
// query and fragment.
func BaseURL(rawURL string) (string, bool) {
	u, ok := parseAbsolute(rawURL)
	if !ok {
		return "", false
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), true
}

// IsAbsoluteHTTP reports whether rawURL parses with an http or https scheme and
// a non-empty host.
func IsAbsoluteHTTP(rawURL string) bool {
	_, ok := parseAbsolute(rawURL)
	return ok
}

func parseAbsolute(rawURL string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" {
		return nil, false
	}
	return u, true
}
