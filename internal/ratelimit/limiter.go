// Package ratelimit provides a fixed-window request counter keyed by client
// identifier. State is process-local and best-effort: it is not a substitute
// for a distributed limiter when the registry runs multiple instances.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// sweepThreshold bounds memory: once the key map grows past this, expired
// entries are swept out during the next check.
const sweepThreshold = 10000

// defaultClientKey is used when no forwarded-for header is present.
const defaultClientKey = "unknown"

// Result is the outcome of an admission check.
type Result struct {
	Allowed      bool
	Remaining    int
	RetryAfterMs int64
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter admits up to maxRequests per key per fixed window.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a fixed-window limiter with the given quota and window. Each
// call site owns its own limiter so quotas stay independent per endpoint.
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		entries:     make(map[string]*entry),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or denies one request for the key. Denials report milliseconds
// until the window resets; no state is mutated on denial.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.entries) > sweepThreshold {
		l.sweep(now)
	}

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(l.window)}
		return Result{Allowed: true, Remaining: l.maxRequests - 1}
	}

	if e.count >= l.maxRequests {
		return Result{
			Allowed:      false,
			Remaining:    0,
			RetryAfterMs: e.resetAt.Sub(now).Milliseconds(),
		}
	}

	e.count++
	return Result{Allowed: true, Remaining: l.maxRequests - e.count}
}

// sweep drops expired entries. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
		}
	}
}

// ClientKey derives the limiter key for a request: the first value of the
// X-Forwarded-For header, falling back to the remote address, then a default.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return defaultClientKey
}
