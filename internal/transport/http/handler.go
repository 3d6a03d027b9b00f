// Package httptransport is the thin HTTP layer over the registry service. It
// delegates to the service without embedding business logic so transport
// concerns stay isolated.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oaphub/internal/jobs"
	"oaphub/internal/platform/config"
	"oaphub/internal/platform/metrics"
	"oaphub/internal/platform/middleware"
	"oaphub/internal/ratelimit"
	"oaphub/internal/registry/models"
	"oaphub/internal/registry/service"
	"oaphub/internal/search"
	dErrors "oaphub/pkg/domain-errors"
	"oaphub/pkg/platform/httputil"
)

// RegistryService defines the service operations the HTTP layer exposes.
type RegistryService interface {
	Register(ctx context.Context, domain string) (*service.Result, error)
	Refresh(ctx context.Context, domain string) (*service.Result, service.Outcome, error)
	Get(ctx context.Context, domain string) (*service.Detail, error)
	Search(ctx context.Context, query string) ([]search.Result, error)
	Categories(ctx context.Context) ([]*models.CategoryAggregate, error)
	Browse(ctx context.Context, category string, page, limit int) ([]*models.AppRecord, int, error)
	Stats(ctx context.Context) (*models.StatsSnapshot, error)
	Dump(ctx context.Context, page, limit int) ([]*models.AppRecord, int, error)
}

// JobRunner defines the scheduled jobs the trigger endpoints invoke.
type JobRunner interface {
	RunRefresh(ctx context.Context) (*jobs.RefreshSummary, error)
	RunHealth(ctx context.Context) (*jobs.HealthSummary, error)
}

// Handler handles all registry endpoints.
type Handler struct {
	logger   *slog.Logger
	registry RegistryService
	runner   JobRunner
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	cronToken string
	limits    config.RateLimits

	registerLimiter *ratelimit.Limiter
	refreshLimiter  *ratelimit.Limiter
	searchLimiter   *ratelimit.Limiter
	readLimiter     *ratelimit.Limiter
	dumpLimiter     *ratelimit.Limiter
}

// Config carries the handler dependencies.
type Config struct {
	Registry  RegistryService
	Runner    JobRunner
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	CronToken string
	Limits    config.RateLimits
}

// New creates the HTTP handler. Each endpoint group owns its own limiter so
// quotas stay independent.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:          logger,
		registry:        cfg.Registry,
		runner:          cfg.Runner,
		metrics:         cfg.Metrics,
		gatherer:        cfg.Gatherer,
		cronToken:       cfg.CronToken,
		limits:          cfg.Limits,
		registerLimiter: ratelimit.New(cfg.Limits.Register.MaxRequests, cfg.Limits.Register.Window),
		refreshLimiter:  ratelimit.New(cfg.Limits.Refresh.MaxRequests, cfg.Limits.Refresh.Window),
		searchLimiter:   ratelimit.New(cfg.Limits.Search.MaxRequests, cfg.Limits.Search.Window),
		readLimiter:     ratelimit.New(cfg.Limits.Read.MaxRequests, cfg.Limits.Read.Window),
		dumpLimiter:     ratelimit.New(cfg.Limits.Dump.MaxRequests, cfg.Limits.Dump.Window),
	}
}

// Register registers all routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.ContentTypeJSON)

	api.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(h.registerLimiter, h.metrics, "register", h.logger))
		g.Use(middleware.Latency(h.metrics, "/api/v1/apps"))
		g.Post("/apps", h.handleRegister)
	})
	api.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(h.refreshLimiter, h.metrics, "refresh", h.logger))
		g.Use(middleware.Latency(h.metrics, "/api/v1/apps/{domain}/refresh"))
		g.Post("/apps/{domain}/refresh", h.handleRefresh)
	})
	api.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(h.searchLimiter, h.metrics, "search", h.logger))
		g.Use(middleware.Latency(h.metrics, "/api/v1/search"))
		g.Get("/search", h.handleSearch)
	})
	api.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(h.dumpLimiter, h.metrics, "dump", h.logger))
		g.Use(middleware.Latency(h.metrics, "/api/v1/dump"))
		g.Get("/dump", h.handleDump)
	})
	api.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(h.readLimiter, h.metrics, "read", h.logger))
		g.Get("/apps/{domain}", h.handleGet)
		g.Get("/categories", h.handleCategories)
		g.Get("/categories/{category}/apps", h.handleBrowse)
		g.Get("/stats", h.handleStats)
	})
	r.Mount("/api/v1", api)

	internalRouter := chi.NewRouter()
	internalRouter.Use(middleware.Recovery(h.logger))
	internalRouter.Use(middleware.RequestID)
	internalRouter.Use(middleware.Logger(h.logger))
	internalRouter.Use(middleware.ContentTypeJSON)
	internalRouter.Use(middleware.RequireCronToken(h.cronToken, h.logger))
	internalRouter.Post("/jobs/refresh", h.handleRefreshJob)
	internalRouter.Post("/jobs/health", h.handleHealthJob)
	r.Mount("/internal", internalRouter)

	r.Get("/healthz", h.handleHealthz)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

type registerRequest struct {
	Domain string `json:"domain"`
}

// handleRegister registers a new domain.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body must be JSON with a domain field"))
		return
	}

	result, err := h.registry.Register(ctx, req.Domain)
	if err != nil {
		h.logger.WarnContext(ctx, "registration rejected",
			"domain", req.Domain,
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// handleRefresh re-verifies an existing domain on demand.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	domain := chi.URLParam(r, "domain")

	result, outcome, err := h.registry.Refresh(ctx, domain)
	if err != nil {
		h.logger.WarnContext(ctx, "refresh failed",
			"domain", domain,
			"outcome", outcome,
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// handleGet returns the detail view for one domain.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.registry.Get(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// handleSearch ranks the corpus against the q parameter.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "query parameter q is required"))
		return
	}
	results, err := h.registry.Search(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// handleCategories lists all category aggregates.
func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.registry.Categories(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count":      len(categories),
		"categories": categories,
	})
}

// handleBrowse pages through one category.
func (h *Handler) handleBrowse(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	apps, total, err := h.registry.Browse(r.Context(), category, page, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"page":     page,
		"limit":    limit,
		"total":    total,
		"apps":     apps,
	})
}

// handleStats returns the global snapshot.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// handleDump serves the bulk mirroring feed, ordered by registration time.
func (h *Handler) handleDump(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 100)

	apps, total, err := h.registry.Dump(r.Context(), page, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"page":  page,
		"limit": limit,
		"total": total,
		"apps":  apps,
	})
}

// handleRefreshJob runs the refresh pass synchronously and reports counters.
func (h *Handler) handleRefreshJob(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunRefresh(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "refresh job failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// handleHealthJob runs the liveness pass synchronously and reports counters.
func (h *Handler) handleHealthJob(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunHealth(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "health job failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
