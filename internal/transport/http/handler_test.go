package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"oaphub/internal/jobs"
	"oaphub/internal/platform/config"
	"oaphub/internal/platform/metrics"
	"oaphub/internal/registry/models"
	"oaphub/internal/registry/service"
	"oaphub/internal/search"
	dErrors "oaphub/pkg/domain-errors"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRegistry struct {
	registerResult *service.Result
	registerErr    error
	refreshResult  *service.Result
	refreshOutcome service.Outcome
	refreshErr     error
	detail         *service.Detail
	detailErr      error
	searchResults  []search.Result
	categories     []*models.CategoryAggregate
	browseApps     []*models.AppRecord
	browseTotal    int
	stats          *models.StatsSnapshot
	dumpApps       []*models.AppRecord
	dumpTotal      int

	lastDomain   string
	lastQuery    string
	lastCategory string
	lastPage     int
	lastLimit    int
}

func (f *fakeRegistry) Register(_ context.Context, domain string) (*service.Result, error) {
	f.lastDomain = domain
	return f.registerResult, f.registerErr
}

func (f *fakeRegistry) Refresh(_ context.Context, domain string) (*service.Result, service.Outcome, error) {
	f.lastDomain = domain
	return f.refreshResult, f.refreshOutcome, f.refreshErr
}

func (f *fakeRegistry) Get(_ context.Context, domain string) (*service.Detail, error) {
	f.lastDomain = domain
	return f.detail, f.detailErr
}

func (f *fakeRegistry) Search(_ context.Context, query string) ([]search.Result, error) {
	f.lastQuery = query
	return f.searchResults, nil
}

func (f *fakeRegistry) Categories(context.Context) ([]*models.CategoryAggregate, error) {
	return f.categories, nil
}

func (f *fakeRegistry) Browse(_ context.Context, category string, page, limit int) ([]*models.AppRecord, int, error) {
	f.lastCategory, f.lastPage, f.lastLimit = category, page, limit
	return f.browseApps, f.browseTotal, nil
}

func (f *fakeRegistry) Stats(context.Context) (*models.StatsSnapshot, error) {
	return f.stats, nil
}

func (f *fakeRegistry) Dump(_ context.Context, page, limit int) ([]*models.AppRecord, int, error) {
	f.lastPage, f.lastLimit = page, limit
	return f.dumpApps, f.dumpTotal, nil
}

type fakeRunner struct {
	refreshSummary *jobs.RefreshSummary
	healthSummary  *jobs.HealthSummary
	err            error
	refreshCalls   int
	healthCalls    int
}

func (f *fakeRunner) RunRefresh(context.Context) (*jobs.RefreshSummary, error) {
	f.refreshCalls++
	return f.refreshSummary, f.err
}

func (f *fakeRunner) RunHealth(context.Context) (*jobs.HealthSummary, error) {
	f.healthCalls++
	return f.healthSummary, f.err
}

// =============================================================================
// HTTP Handler Test Suite
// =============================================================================

type HandlerSuite struct {
	suite.Suite
	registry *fakeRegistry
	runner   *fakeRunner
	router   chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.registry = &fakeRegistry{}
	s.runner = &fakeRunner{}
	s.buildRouter(generousLimits())
}

func (s *HandlerSuite) buildRouter(limits config.RateLimits) {
	reg := prometheus.NewRegistry()
	h := New(Config{
		Registry:  s.registry,
		Runner:    s.runner,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		CronToken: "cron-secret",
		Limits:    limits,
	})
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func generousLimits() config.RateLimits {
	q := config.Quota{MaxRequests: 1000, Window: time.Minute}
	return config.RateLimits{Register: q, Refresh: q, Search: q, Read: q, Dump: q}
}

func (s *HandlerSuite) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// =============================================================================
// Registration and refresh
// =============================================================================

func (s *HandlerSuite) TestRegister() {
	s.Run("created on success", func() {
		s.registry.registerResult = &service.Result{
			App:      &models.AppRecord{Domain: "xuru.app", Name: "Xuru"},
			Warnings: []string{"identity.tagline exceeds 120 characters"},
		}
		rec := s.do(http.MethodPost, "/api/v1/apps", `{"domain":"xuru.app"}`)
		s.Equal(http.StatusCreated, rec.Code)
		s.Equal("xuru.app", s.registry.lastDomain)
		body := s.decode(rec)
		s.NotNil(body["app"])
		s.NotNil(body["warnings"])
	})

	s.Run("malformed body is a bad request", func() {
		rec := s.do(http.MethodPost, "/api/v1/apps", `{domain}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("bad_request", s.decode(rec)["error"])
	})

	s.Run("conflict is surfaced", func() {
		s.registry.registerResult = nil
		s.registry.registerErr = dErrors.New(dErrors.CodeConflict, "domain is already registered")
		rec := s.do(http.MethodPost, "/api/v1/apps", `{"domain":"xuru.app"}`)
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestRefresh() {
	s.Run("refresh returns the updated record", func() {
		s.registry.refreshResult = &service.Result{App: &models.AppRecord{Domain: "xuru.app"}}
		s.registry.refreshOutcome = service.OutcomeRefreshed
		rec := s.do(http.MethodPost, "/api/v1/apps/xuru.app/refresh", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("xuru.app", s.registry.lastDomain)
	})

	s.Run("unknown domain is not found", func() {
		s.registry.refreshResult = nil
		s.registry.refreshErr = dErrors.New(dErrors.CodeNotFound, "app not found")
		rec := s.do(http.MethodPost, "/api/v1/apps/ghost.app/refresh", "")
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

// =============================================================================
// Reads
// =============================================================================

func (s *HandlerSuite) TestGet() {
	s.registry.detail = &service.Detail{
		App:           &models.AppRecord{Domain: "xuru.app"},
		State:         models.StateActiveHealthy,
		UptimePercent: 99.5,
	}
	rec := s.do(http.MethodGet, "/api/v1/apps/xuru.app", "")
	s.Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.Equal("active_healthy", body["state"])
	s.InDelta(99.5, body["uptime_percent"], 0.001)
}

func (s *HandlerSuite) TestSearch() {
	s.Run("missing query is a bad request", func() {
		rec := s.do(http.MethodGet, "/api/v1/search", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("results are wrapped with a count", func() {
		s.registry.searchResults = []search.Result{
			{App: &models.AppRecord{Domain: "xuru.app"}, Score: 0.9},
		}
		rec := s.do(http.MethodGet, "/api/v1/search?q=crm", "")
		s.Equal(http.StatusOK, rec.Code)
		body := s.decode(rec)
		s.EqualValues(1, body["count"])
		s.Equal("crm", s.registry.lastQuery)
	})
}

func (s *HandlerSuite) TestBrowse() {
	s.registry.browseApps = []*models.AppRecord{{Domain: "a.example.com"}}
	s.registry.browseTotal = 41

	rec := s.do(http.MethodGet, "/api/v1/categories/crm/apps?page=3&limit=5", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("crm", s.registry.lastCategory)
	s.Equal(3, s.registry.lastPage)
	s.Equal(5, s.registry.lastLimit)
	s.EqualValues(41, s.decode(rec)["total"])

	s.Run("bad paging params fall back to defaults", func() {
		rec := s.do(http.MethodGet, "/api/v1/categories/crm/apps?page=zero&limit=-4", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal(1, s.registry.lastPage)
		s.Equal(20, s.registry.lastLimit)
	})
}

func (s *HandlerSuite) TestStatsAndDump() {
	s.registry.stats = &models.StatsSnapshot{TotalApps: 7, TotalCategories: 3}
	rec := s.do(http.MethodGet, "/api/v1/stats", "")
	s.Equal(http.StatusOK, rec.Code)
	s.EqualValues(7, s.decode(rec)["total_apps"])

	s.registry.dumpApps = []*models.AppRecord{{Domain: "a.example.com"}}
	s.registry.dumpTotal = 1
	rec = s.do(http.MethodGet, "/api/v1/dump?page=1&limit=50", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(50, s.registry.lastLimit)
}

func (s *HandlerSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok", s.decode(rec)["status"])
}

// =============================================================================
// Rate limiting
// =============================================================================

func (s *HandlerSuite) TestRateLimit() {
	limits := generousLimits()
	limits.Register = config.Quota{MaxRequests: 1, Window: time.Minute}
	s.buildRouter(limits)
	s.registry.registerResult = &service.Result{App: &models.AppRecord{Domain: "a.example.com"}}

	first := s.do(http.MethodPost, "/api/v1/apps", `{"domain":"a.example.com"}`, "X-Forwarded-For", "203.0.113.9")
	s.Equal(http.StatusCreated, first.Code)

	second := s.do(http.MethodPost, "/api/v1/apps", `{"domain":"b.example.com"}`, "X-Forwarded-For", "203.0.113.9")
	s.Equal(http.StatusTooManyRequests, second.Code)
	s.NotEmpty(second.Header().Get("Retry-After"))
	s.Equal("rate_limited", s.decode(second)["error"])

	s.Run("other clients are unaffected", func() {
		rec := s.do(http.MethodPost, "/api/v1/apps", `{"domain":"c.example.com"}`, "X-Forwarded-For", "198.51.100.7")
		s.Equal(http.StatusCreated, rec.Code)
	})

	s.Run("other endpoint groups keep their own quota", func() {
		s.registry.searchResults = nil
		rec := s.do(http.MethodGet, "/api/v1/search?q=crm", "", "X-Forwarded-For", "203.0.113.9")
		s.Equal(http.StatusOK, rec.Code)
	})
}

// =============================================================================
// Job triggers
// =============================================================================

func (s *HandlerSuite) TestJobTriggers() {
	s.runner.refreshSummary = &jobs.RefreshSummary{Refreshed: 3, Flagged: 1}
	s.runner.healthSummary = &jobs.HealthSummary{Checked: 4, Healthy: 4}

	s.Run("missing token is unauthorized", func() {
		rec := s.do(http.MethodPost, "/internal/jobs/refresh", "")
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Zero(s.runner.refreshCalls)
	})

	s.Run("wrong token is unauthorized", func() {
		rec := s.do(http.MethodPost, "/internal/jobs/refresh", "", "Authorization", "Bearer nope")
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Zero(s.runner.refreshCalls)
	})

	s.Run("valid token runs the refresh job", func() {
		rec := s.do(http.MethodPost, "/internal/jobs/refresh", "", "Authorization", "Bearer cron-secret")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal(1, s.runner.refreshCalls)
		s.EqualValues(3, s.decode(rec)["refreshed"])
	})

	s.Run("valid token runs the health job", func() {
		rec := s.do(http.MethodPost, "/internal/jobs/health", "", "Authorization", "Bearer cron-secret")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal(1, s.runner.healthCalls)
		s.EqualValues(4, s.decode(rec)["checked"])
	})

	s.Run("job failure is an internal error", func() {
		s.runner.err = errors.New("store down")
		rec := s.do(http.MethodPost, "/internal/jobs/health", "", "Authorization", "Bearer cron-secret")
		s.Equal(http.StatusInternalServerError, rec.Code)
		_, described := s.decode(rec)["error_description"]
		s.False(described, "internal errors omit the description")
	})
}
