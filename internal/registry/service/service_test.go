package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"oaphub/internal/docstore"
	"oaphub/internal/fetch"
	"oaphub/internal/platform/metrics"
	"oaphub/internal/registry/store"
	dErrors "oaphub/pkg/domain-errors"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeFetcher struct {
	bodies map[string][]byte
	errs   map[string]error
}

func (f *fakeFetcher) FetchManifest(_ context.Context, domain string) ([]byte, string, error) {
	url := "https://" + domain + "/.well-known/oap.json"
	if err, ok := f.errs[domain]; ok {
		return nil, url, err
	}
	if body, ok := f.bodies[domain]; ok {
		return body, url, nil
	}
	return nil, url, &fetch.Error{Kind: fetch.KindStatus, Detail: "404"}
}

type fakeAttester struct{ verified bool }

func (a *fakeAttester) Verified(context.Context, string) bool { return a.verified }

type fakeProber struct {
	healthy bool
	lastURL string
}

func (p *fakeProber) Check(_ context.Context, rawURL string) bool {
	p.lastURL = rawURL
	return p.healthy
}

// manifestJSON builds a structurally valid manifest document.
func manifestJSON(name, tagline string, categories []string) []byte {
	doc := map[string]any{
		"identity": map[string]any{
			"name":        name,
			"tagline":     tagline,
			"description": "does useful things",
			"url":         "https://example.com",
		},
		"builder": map[string]any{"name": "Acme Labs"},
		"capabilities": map[string]any{
			"summary":         "a useful app",
			"solves":          []string{"tedium"},
			"ideal_for":       []string{"teams"},
			"categories":      categories,
			"differentiators": []string{"fast"},
		},
		"pricing": map[string]any{
			"model": "freemium",
			"trial": map[string]any{"available": true},
		},
		"trust": map[string]any{
			"data_practices": map[string]any{
				"collects":    []string{"email"},
				"stores_in":   "eu-west-1",
				"shares_with": []string{},
			},
			"security":             map[string]any{"authentication": []string{"oauth2"}},
			"external_connections": []string{},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// =============================================================================
// Registry Service Test Suite
// =============================================================================

type RegistryServiceSuite struct {
	suite.Suite
	svc      *Service
	store    *store.Store
	fetcher  *fakeFetcher
	attester *fakeAttester
	prober   *fakeProber
	clock    time.Time
}

func TestRegistryServiceSuite(t *testing.T) {
	suite.Run(t, new(RegistryServiceSuite))
}

func (s *RegistryServiceSuite) SetupTest() {
	s.clock = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return s.clock }

	s.store = store.New(docstore.NewMemoryStore(), store.WithLogger(logger), store.WithClock(now))
	s.fetcher = &fakeFetcher{bodies: map[string][]byte{}, errs: map[string]error{}}
	s.attester = &fakeAttester{verified: true}
	s.prober = &fakeProber{healthy: true}

	s.svc = New(s.store, s.fetcher, s.attester, s.prober,
		WithLogger(logger),
		WithClock(now),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func (s *RegistryServiceSuite) register(domain string, categories ...string) {
	s.fetcher.bodies[domain] = manifestJSON(domain, "an app for "+domain, categories)
	_, err := s.svc.Register(context.Background(), domain)
	s.Require().NoError(err)
}

// =============================================================================
// Register
// =============================================================================

func (s *RegistryServiceSuite) TestRegister() {
	ctx := context.Background()

	s.Run("successful registration commits a verified record", func() {
		s.fetcher.bodies["xuru.app"] = manifestJSON("Xuru", "AI-powered support ticket CRM", []string{"CRM", "Support"})

		result, err := s.svc.Register(ctx, "xuru.app")
		s.Require().NoError(err)
		app := result.App
		s.Equal("Xuru", app.Name)
		s.Equal("https://xuru.app/.well-known/oap.json", app.ManifestURL)
		s.True(strings.HasPrefix(app.ManifestHash, "sha256:"))
		s.Equal([]string{"crm", "support"}, app.Categories)
		s.True(app.DNSVerified)
		s.True(app.HealthOK)
		s.True(app.ManifestValid)
		s.Equal(s.clock, app.RegisteredAt)
		s.Equal("https://xuru.app/", s.prober.lastURL, "health probe falls back to the root URL")

		stored, err := s.store.GetApp(ctx, "xuru.app")
		s.Require().NoError(err)
		s.Equal(app.ManifestHash, stored.ManifestHash)
	})

	s.Run("duplicate domain conflicts", func() {
		_, err := s.svc.Register(ctx, "xuru.app")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("domain is normalized before the pipeline runs", func() {
		s.fetcher.bodies["mixed.example.com"] = manifestJSON("Mixed", "case test", []string{"misc"})
		result, err := s.svc.Register(ctx, "HTTPS://Mixed.Example.COM/")
		s.Require().NoError(err)
		s.Equal("mixed.example.com", result.App.Domain)
	})

	s.Run("empty domain is a bad request", func() {
		_, err := s.svc.Register(ctx, "   ")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unreachable manifest surfaces as unavailable", func() {
		s.fetcher.errs["down.example.com"] = &fetch.Error{Kind: fetch.KindTimeout, Detail: "deadline"}
		_, err := s.svc.Register(ctx, "down.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		_, err = s.store.GetApp(ctx, "down.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "no record is written on failure")
	})

	s.Run("private manifest target is an input error", func() {
		s.fetcher.errs["sneaky.example.com"] = &fetch.Error{Kind: fetch.KindPrivateAddress, Detail: "10.0.0.5"}
		_, err := s.svc.Register(ctx, "sneaky.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("structural validation failure blocks registration", func() {
		body := manifestJSON("NoCats", "missing categories", nil)
		s.fetcher.bodies["nocats.example.com"] = body
		_, err := s.svc.Register(ctx, "nocats.example.com")
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Contains(dErrors.Message(err), "capabilities.categories")
	})

	s.Run("quality warnings do not block", func() {
		long := strings.Repeat("x", 121)
		s.fetcher.bodies["warny.example.com"] = manifestJSON("Warny", long, []string{"misc"})
		result, err := s.svc.Register(ctx, "warny.example.com")
		s.Require().NoError(err)
		s.NotEmpty(result.Warnings)
	})

	s.Run("malformed JSON is an input error", func() {
		s.fetcher.bodies["garbled.example.com"] = []byte("{not json")
		_, err := s.svc.Register(ctx, "garbled.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Refresh
// =============================================================================

func (s *RegistryServiceSuite) TestRefreshSuccess() {
	ctx := context.Background()
	s.register("app.example.com", "crm")
	registeredAt := s.clock

	s.clock = s.clock.Add(6 * time.Hour)
	s.fetcher.bodies["app.example.com"] = manifestJSON("Renamed", "new tagline", []string{"analytics"})

	result, outcome, err := s.svc.Refresh(ctx, "app.example.com")
	s.Require().NoError(err)
	s.Equal(OutcomeRefreshed, outcome)
	s.Equal("Renamed", result.App.Name)
	s.Equal(registeredAt, result.App.RegisteredAt, "registration time is immutable")
	s.Equal(s.clock, result.App.LastFetchedAt)

	s.Run("category diff reaches the aggregates", func() {
		aggs, err := s.store.GetCategories(ctx)
		s.Require().NoError(err)
		s.Require().Len(aggs, 1)
		s.Equal("analytics", aggs[0].Category)
		s.True(aggs[0].Contains("app.example.com"))
	})
}

func (s *RegistryServiceSuite) TestRefreshClearsFlag() {
	ctx := context.Background()
	s.register("flaky.example.com", "crm")

	// Fail a refresh at 10 days to set the flag, then recover.
	s.clock = s.clock.Add(10 * 24 * time.Hour)
	s.fetcher.errs["flaky.example.com"] = &fetch.Error{Kind: fetch.KindStatus, Detail: "503"}
	_, outcome, err := s.svc.Refresh(ctx, "flaky.example.com")
	s.Require().Error(err)
	s.Require().Equal(OutcomeFlagged, outcome)

	delete(s.fetcher.errs, "flaky.example.com")
	result, outcome, err := s.svc.Refresh(ctx, "flaky.example.com")
	s.Require().NoError(err)
	s.Equal(OutcomeRefreshed, outcome)
	s.False(result.App.Flagged)
	s.Empty(result.App.FlagReason)
}

func (s *RegistryServiceSuite) TestRefreshFailureLifecycle() {
	ctx := context.Background()

	s.Run("fresh failure is tolerated silently", func() {
		s.register("young.example.com", "crm")
		s.clock = s.clock.Add(2 * 24 * time.Hour)
		s.fetcher.errs["young.example.com"] = &fetch.Error{Kind: fetch.KindTimeout, Detail: "deadline"}

		_, outcome, err := s.svc.Refresh(ctx, "young.example.com")
		s.Error(err, "the synchronous caller still sees the failure")
		s.Equal(OutcomeTolerated, outcome)

		app, err := s.store.GetApp(ctx, "young.example.com")
		s.Require().NoError(err)
		s.False(app.Flagged)
	})

	s.Run("ten days of failure flags but keeps the app visible", func() {
		s.register("stale.example.com", "crm")
		s.clock = s.clock.Add(10 * 24 * time.Hour)
		s.fetcher.errs["stale.example.com"] = &fetch.Error{Kind: fetch.KindStatus, Detail: "500"}

		_, outcome, err := s.svc.Refresh(ctx, "stale.example.com")
		s.Error(err)
		s.Equal(OutcomeFlagged, outcome)

		app, err := s.store.GetApp(ctx, "stale.example.com")
		s.Require().NoError(err)
		s.True(app.Flagged)
		s.NotEmpty(app.FlagReason)
		s.False(app.Delisted)
	})

	s.Run("already flagged app is not re-flagged", func() {
		s.clock = s.clock.Add(24 * time.Hour)
		_, outcome, err := s.svc.Refresh(ctx, "stale.example.com")
		s.Error(err)
		s.Equal(OutcomeTolerated, outcome)
	})

	s.Run("thirty-one days of failure delists and empties categories", func() {
		s.register("dead.example.com", "niche-category")
		s.clock = s.clock.Add(31 * 24 * time.Hour)
		s.fetcher.errs["dead.example.com"] = &fetch.Error{Kind: fetch.KindResolve, Detail: "nxdomain"}

		_, outcome, err := s.svc.Refresh(ctx, "dead.example.com")
		s.Error(err)
		s.Equal(OutcomeDelisted, outcome)

		_, err = s.store.GetApp(ctx, "dead.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		aggs, err := s.store.GetCategories(ctx)
		s.Require().NoError(err)
		for _, agg := range aggs {
			s.False(agg.Contains("dead.example.com"), "category %s", agg.Category)
		}
	})

	s.Run("refresh of unknown domain fails without lifecycle side effects", func() {
		_, outcome, err := s.svc.Refresh(ctx, "never-registered.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(OutcomeFailed, outcome)
	})
}

// =============================================================================
// Health checks
// =============================================================================

func (s *RegistryServiceSuite) TestCheckHealth() {
	ctx := context.Background()
	s.register("probed.example.com", "crm")

	s.Run("healthy probe advances both counters", func() {
		healthy, err := s.svc.CheckHealth(ctx, "probed.example.com")
		s.Require().NoError(err)
		s.True(healthy)

		app, err := s.store.GetApp(ctx, "probed.example.com")
		s.Require().NoError(err)
		s.EqualValues(1, app.UptimeChecksPassed)
		s.EqualValues(1, app.UptimeChecksTotal)
		s.True(app.HealthOK)
	})

	s.Run("failed probe advances only the total", func() {
		s.prober.healthy = false
		healthy, err := s.svc.CheckHealth(ctx, "probed.example.com")
		s.Require().NoError(err)
		s.False(healthy)

		app, err := s.store.GetApp(ctx, "probed.example.com")
		s.Require().NoError(err)
		s.EqualValues(1, app.UptimeChecksPassed)
		s.EqualValues(2, app.UptimeChecksTotal)
		s.False(app.HealthOK)
		s.LessOrEqual(app.UptimeChecksPassed, app.UptimeChecksTotal)
		s.InDelta(50.0, app.UptimePercent(), 0.001)
	})
}

// =============================================================================
// Reads
// =============================================================================

func (s *RegistryServiceSuite) TestGetDetail() {
	ctx := context.Background()
	s.register("one.example.com", "crm")
	s.register("two.example.com", "crm")

	detail, err := s.svc.Get(ctx, "one.example.com")
	s.Require().NoError(err)
	s.Equal("one.example.com", detail.App.Domain)
	s.InDelta(100.0, detail.UptimePercent, 0.001, "no checks yet reports full uptime")
	s.Require().Len(detail.Siblings, 1, "apps share the fixture builder")
	s.Equal("two.example.com", detail.Siblings[0].Domain)
}

func (s *RegistryServiceSuite) TestSearch() {
	ctx := context.Background()
	s.fetcher.bodies["xuru.app"] = manifestJSON("Xuru", "AI-powered support ticket CRM", []string{"crm"})
	s.fetcher.bodies["sprout.app"] = manifestJSON("Sprout", "garden planning for allotments", []string{"gardening"})
	_, err := s.svc.Register(ctx, "xuru.app")
	s.Require().NoError(err)
	_, err = s.svc.Register(ctx, "sprout.app")
	s.Require().NoError(err)

	results, err := s.svc.Search(ctx, "CRM")
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("xuru.app", results[0].App.Domain)
	s.Greater(results[0].Score, 0.1)
}

func (s *RegistryServiceSuite) TestDump() {
	ctx := context.Background()
	domains := []string{"c.example.com", "a.example.com", "b.example.com"}
	for _, d := range domains {
		s.register(d, "crm")
		s.clock = s.clock.Add(time.Hour)
	}

	s.Run("ordered by registration time ascending", func() {
		apps, total, err := s.svc.Dump(ctx, 1, 2)
		s.Require().NoError(err)
		s.Equal(3, total)
		s.Require().Len(apps, 2)
		s.Equal("c.example.com", apps[0].Domain)
		s.Equal("a.example.com", apps[1].Domain)
	})

	s.Run("page past the end is empty", func() {
		apps, total, err := s.svc.Dump(ctx, 5, 2)
		s.Require().NoError(err)
		s.Equal(3, total)
		s.Empty(apps)
	})
}

func (s *RegistryServiceSuite) TestFetchErrorMapping() {
	cases := []struct {
		kind fetch.Kind
		code dErrors.Code
	}{
		{fetch.KindInvalidURL, dErrors.CodeBadRequest},
		{fetch.KindScheme, dErrors.CodeBadRequest},
		{fetch.KindPrivateAddress, dErrors.CodeInvalidInput},
		{fetch.KindTooLarge, dErrors.CodeInvalidInput},
		{fetch.KindTimeout, dErrors.CodeUnavailable},
		{fetch.KindStatus, dErrors.CodeUnavailable},
		{fetch.KindResolve, dErrors.CodeUnavailable},
		{fetch.KindNetwork, dErrors.CodeUnavailable},
	}
	for _, tc := range cases {
		err := fetchError(&fetch.Error{Kind: tc.kind, Detail: "x"})
		s.True(dErrors.HasCode(err, tc.code), "kind %s", tc.kind)
	}
	s.True(dErrors.HasCode(fetchError(errors.New("plain")), dErrors.CodeUnavailable))
}
