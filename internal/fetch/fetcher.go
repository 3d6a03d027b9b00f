// Package fetch retrieves manifests and health endpoints from
// attacker-controlled domains. Every request resolves the target hostname
// first, validates all resolved addresses against private ranges, then dials
// the one validated address directly while keeping the original hostname for
// SNI and the Host header. A second DNS answer can therefore never redirect
// the request somewhere other than what was validated.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"oaphub/internal/manifest"
)

// Timeouts and limits for outbound requests.
const (
	ManifestTimeout = 10 * time.Second
	HealthTimeout   = 5 * time.Second
	MaxBodyBytes    = 1 << 20 // 1 MiB
)

const userAgent = "oaphub-registry/1.0"

// Kind distinguishes fetch failure modes so callers can react to trust
// violations differently from transient remote errors.
type Kind string

const (
	KindInvalidURL     Kind = "invalid_url"
	KindScheme         Kind = "disallowed_scheme"
	KindPrivateAddress Kind = "private_address"
	KindResolve        Kind = "resolution_failed"
	KindTimeout        Kind = "timeout"
	KindTooLarge       Kind = "body_too_large"
	KindStatus         Kind = "bad_status"
	KindNetwork        Kind = "network"
)

// Error is a typed fetch failure.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("fetch %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func wrapError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// KindOf extracts the failure kind from an error chain, or KindNetwork for
// unclassified failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}

// Resolver is the DNS lookup surface the fetcher depends on. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DialFunc dials a validated numeric address. Injectable for tests.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Fetcher performs SSRF-safe HTTP fetches.
type Fetcher struct {
	resolver Resolver
	dial     DialFunc
	logger   *slog.Logger
	maxBody  int64
	devMode  bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDevMode permits plain HTTP targets. Private addresses stay blocked.
func WithDevMode(dev bool) Option {
	return func(f *Fetcher) { f.devMode = dev }
}

// WithResolver overrides the DNS resolver.
func WithResolver(r Resolver) Option {
	return func(f *Fetcher) { f.resolver = r }
}

// WithDialer overrides the dialer used after address validation.
func WithDialer(d DialFunc) Option {
	return func(f *Fetcher) { f.dial = d }
}

// WithMaxBody overrides the response size cap.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

// WithLogger sets a logger for fetch outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// New creates a Fetcher with production defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		resolver: net.DefaultResolver,
		dial:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		logger:   slog.Default(),
		maxBody:  MaxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchManifest retrieves the well-known manifest for a domain, returning the
// body bytes and the URL it was fetched from.
func (f *Fetcher) FetchManifest(ctx context.Context, domain string) ([]byte, string, error) {
	manifestURL := "https://" + domain + manifest.WellKnownPath
	body, err := f.Fetch(ctx, manifestURL, ManifestTimeout)
	return body, manifestURL, err
}

// Fetch retrieves a URL with the full validation pipeline: scheme allowlist,
// private-address rejection on literal IPs and on every resolved address, a
// dial pinned to the validated address, a per-request timeout, and a body
// size cap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, newError(KindInvalidURL, rawURL)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !f.devMode {
			return nil, newError(KindScheme, "http is only permitted in development mode")
		}
	default:
		return nil, newError(KindScheme, fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	target, err := f.validateTarget(ctx, host)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, wrapError(KindInvalidURL, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	// The transport dials the address validated above no matter what the
	// request URL resolves to later. req.URL keeps the hostname, so SNI and
	// the Host header still match the virtual host.
	pinned := net.JoinHostPort(target.String(), port)
	transport := &http.Transport{
		DialContext: func(dctx context.Context, network, _ string) (net.Conn, error) {
			return f.dial(dctx, network, pinned)
		},
		DisableKeepAlives: true,
	}
	client := &http.Client{
		Transport: transport,
		// Redirects would escape the validated address; refuse to follow.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, wrapError(KindTimeout, rawURL, err)
		}
		return nil, wrapError(KindNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(KindStatus, fmt.Sprintf("%s returned status %d", rawURL, resp.StatusCode))
	}
	if resp.ContentLength > f.maxBody {
		return nil, newError(KindTooLarge, fmt.Sprintf("content length %d exceeds limit %d", resp.ContentLength, f.maxBody))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, wrapError(KindTimeout, rawURL, err)
		}
		return nil, wrapError(KindNetwork, "reading body", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, newError(KindTooLarge, fmt.Sprintf("body exceeds limit %d", f.maxBody))
	}

	return body, nil
}

// validateTarget turns a hostname into one validated IP. Literal IPs are
// checked directly; hostnames are resolved across both address families and
// rejected if any answer is private, so a split-horizon record cannot smuggle
// an internal address past validation.
func (f *Fetcher) validateTarget(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if disallowedIP(ip) {
			return nil, newError(KindPrivateAddress, fmt.Sprintf("address %s is not routable from the registry", ip))
		}
		return ip, nil
	}

	addrs, err := f.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, wrapError(KindResolve, host, err)
	}
	if len(addrs) == 0 {
		return nil, newError(KindResolve, fmt.Sprintf("%s resolved to no addresses", host))
	}
	for _, addr := range addrs {
		if disallowedIP(addr.IP) {
			return nil, newError(KindPrivateAddress, fmt.Sprintf("%s resolves to %s", host, addr.IP))
		}
	}
	return addrs[0].IP, nil
}

// disallowedIP reports whether an address must never be fetched: loopback
// (127/8, ::1), RFC1918 and ULA ranges (10/8, 172.16/12, 192.168/16,
// fc00::/7), link-local (169.254/16, fe80::/10), multicast, unspecified, and
// the 0/8 block.
func disallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil && v4[0] == 0 {
		return true
	}
	return false
}
