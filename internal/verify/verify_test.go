package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oaphub/internal/fetch"
)

type fakeTXTResolver struct {
	records map[string][]string
	err     error
}

func (r *fakeTXTResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.records[name], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAttestationChecker(t *testing.T) {
	t.Run("marker present verifies", func(t *testing.T) {
		resolver := &fakeTXTResolver{records: map[string][]string{
			"_oap.example.com": {"v=oap1; cat=crm,support; manifest=https://example.com/.well-known/oap.json"},
		}}
		c := NewAttestationChecker(resolver, discardLogger())
		assert.True(t, c.Verified(context.Background(), "example.com"))
	})

	t.Run("marker anywhere in any record verifies", func(t *testing.T) {
		resolver := &fakeTXTResolver{records: map[string][]string{
			"_oap.example.com": {"unrelated", "prefix v=oap1 suffix"},
		}}
		c := NewAttestationChecker(resolver, discardLogger())
		assert.True(t, c.Verified(context.Background(), "example.com"))
	})

	t.Run("absent record is false not error", func(t *testing.T) {
		c := NewAttestationChecker(&fakeTXTResolver{records: map[string][]string{}}, discardLogger())
		assert.False(t, c.Verified(context.Background(), "example.com"))
	})

	t.Run("resolution failure is false not error", func(t *testing.T) {
		c := NewAttestationChecker(&fakeTXTResolver{err: errors.New("servfail")}, discardLogger())
		assert.False(t, c.Verified(context.Background(), "example.com"))
	})

	t.Run("wrong marker version is false", func(t *testing.T) {
		resolver := &fakeTXTResolver{records: map[string][]string{
			"_oap.example.com": {"v=oap2"},
		}}
		c := NewAttestationChecker(resolver, discardLogger())
		assert.False(t, c.Verified(context.Background(), "example.com"))
	})
}

type fakeIPResolver struct {
	addrs map[string][]net.IPAddr
}

func (r *fakeIPResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	return r.addrs[host], nil
}

func healthFetcher(t *testing.T, serverAddr string, host string) *fetch.Fetcher {
	t.Helper()
	resolver := &fakeIPResolver{addrs: map[string][]net.IPAddr{
		host: {{IP: net.ParseIP("93.184.216.34")}},
	}}
	var dialed atomic.Value
	return fetch.New(
		fetch.WithResolver(resolver),
		fetch.WithDevMode(true),
		fetch.WithLogger(discardLogger()),
		fetch.WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialed.Store(addr)
			return (&net.Dialer{}).DialContext(ctx, network, serverAddr)
		}),
	)
}

func TestHealthChecker(t *testing.T) {
	t.Run("2xx endpoint is healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		f := healthFetcher(t, srv.Listener.Addr().String(), "app.example.com")
		h := NewHealthChecker(f, discardLogger())
		assert.True(t, h.Check(context.Background(), "http://app.example.com/healthz"))
	})

	t.Run("5xx endpoint is unhealthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		f := healthFetcher(t, srv.Listener.Addr().String(), "app.example.com")
		h := NewHealthChecker(f, discardLogger())
		assert.False(t, h.Check(context.Background(), "http://app.example.com/healthz"))
	})

	t.Run("private target is unhealthy", func(t *testing.T) {
		f := fetch.New(fetch.WithDevMode(true), fetch.WithLogger(discardLogger()))
		h := NewHealthChecker(f, discardLogger())
		assert.False(t, h.Check(context.Background(), "http://10.0.0.5/healthz"))
	})

	t.Run("empty url is unhealthy", func(t *testing.T) {
		h := NewHealthChecker(fetch.New(), discardLogger())
		assert.False(t, h.Check(context.Background(), ""))
	})
}

func TestHealthCheckerRequiresFetcher(t *testing.T) {
	require.NotPanics(t, func() {
		NewHealthChecker(fetch.New(), nil)
	})
}
