// Package fingerprint builds HTTP transports that present a browser-like TLS
// ClientHello to the search engine.
package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Profile names a ClientHello to imitate.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	// ProfileGo uses crypto/tls unchanged.
	ProfileGo Profile = "go"
	// ProfileRandom sends a randomized hello on every connection.
	ProfileRandom Profile = "random"
)

// Profiles lists every accepted profile name.
var Profiles = []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom}

// ParseProfile maps a case-insensitive name to a Profile. The empty string
// selects ProfileChrome.
func ParseProfile(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProfileChrome, nil
	}
	for _, p := range Profiles {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("fingerprint: unknown profile %q", name)
}

func (p Profile) helloID() (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
}

// Options configures NewTransport.
type Options struct {
	Profile Profile
	// Proxy selects a proxy per request. Nil means http.ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)
	// HandshakeTimeout bounds the TLS handshake. Zero means 10s.
	HandshakeTimeout time.Duration
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool
}

// NewTransport returns a transport whose direct HTTPS connections carry the
// profile's ClientHello. The hello only offers http/1.1 in ALPN, since
// net/http cannot speak h2 over a custom TLS dial. Requests through a proxy
// are tunnelled by net/http with crypto/tls and keep Go's own hello.
func NewTransport(opts Options) (*http.Transport, error) {
	if opts.Profile == "" {
		opts.Profile = ProfileChrome
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSHandshakeTimeout = opts.HandshakeTimeout
	if opts.Proxy != nil {
		tr.Proxy = opts.Proxy
	}
	if opts.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if opts.Profile == ProfileGo {
		return tr, nil
	}

	id, err := opts.Profile.helloID()
	if err != nil {
		return nil, err
	}

	dial := tr.DialContext
	tr.ForceAttemptHTTP2 = false
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		hsCtx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
		uconn, err := handshake(hsCtx, conn, host, id, opts.InsecureSkipVerify)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: %s handshake with %s: %w", opts.Profile, host, err)
		}
		return uconn, nil
	}
	return tr, nil
}

func handshake(ctx context.Context, conn net.Conn, host string, id utls.ClientHelloID, insecure bool) (*utls.UConn, error) {
	cfg := &utls.Config{ServerName: host, InsecureSkipVerify: insecure}

	var uconn *utls.UConn
	if spec, err := utls.UTLSIdToSpec(id); err == nil {
		pinHTTP1(&spec)
		uconn = utls.UClient(conn, cfg, utls.HelloCustom)
		if err := uconn.ApplyPreset(&spec); err != nil {
			uconn = nil
		}
	}
	if uconn == nil {
		// randomized hellos cannot be expanded to a preset; ALPN comes from cfg
		cfg.NextProtos = []string{"http/1.1"}
		uconn = utls.UClient(conn, cfg, id)
	}

	if err := uconn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return uconn, nil
}

func pinHTTP1(spec *utls.ClientHelloSpec) {
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
}
