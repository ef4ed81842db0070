// Package httpclient wraps net/http with the timeout, redirect and cookie
// policies shared by the page fetcher and the search API clients.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept in a StatusError.
const maxErrorBody = 4 << 10

var ErrNilContext = errors.New("httpclient: nil context")

// Config configures New.
type Config struct {
	// Timeout covers the whole exchange, body included. Zero means 30s.
	Timeout time.Duration
	// MaxRedirects caps followed redirects. Negative returns the first
	// redirect response as is.
	MaxRedirects int
	// UseCookieJar keeps cookies for the life of the client.
	UseCookieJar bool
	// Transport replaces http.DefaultTransport, e.g. a fingerprinted one.
	Transport http.RoundTripper
	// Header is added to every request that does not already set the key.
	Header http.Header
}

// Client sends requests with a fixed set of default headers.
type Client struct {
	hc     *http.Client
	header http.Header
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{
		Timeout:       timeout,
		Transport:     cfg.Transport,
		CheckRedirect: redirectPolicy(cfg.MaxRedirects),
	}
	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	return &Client{hc: hc, header: cfg.Header.Clone()}, nil
}

func redirectPolicy(max int) func(*http.Request, []*http.Request) error {
	if max < 0 {
		return func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > max {
			return fmt.Errorf("httpclient: stopped after %d redirects", max)
		}
		return nil
	}
}

// Do sends req bound to ctx. The client timeout still applies when ctx has no
// deadline.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	out := req.Clone(ctx)
	for key, vals := range c.header {
		if _, set := out.Header[key]; !set {
			out.Header[key] = append([]string(nil), vals...)
		}
	}
	resp, err := c.hc.Do(out)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	return resp, nil
}

// StatusError is returned by CheckStatus for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("unexpected status %d", e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Retryable reports whether the server failed rather than rejected the
// request.
func (e *StatusError) Retryable() bool {
	return e.Code >= http.StatusInternalServerError
}

// Retryable reports whether err is a *StatusError for a server-side failure.
func Retryable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Retryable()
}

// CheckStatus returns nil for 2xx responses. Otherwise it reads a bounded
// prefix of the body into a *StatusError and closes the body.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
