// Package service orchestrates the verification pipeline: fetch, decode,
// validate, attest, probe, commit. It owns the lifecycle state machine and is
// the only writer of trust signals onto app records.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"oaphub/internal/audit"
	"oaphub/internal/fetch"
	"oaphub/internal/manifest"
	"oaphub/internal/platform/metrics"
	"oaphub/internal/registry/models"
	"oaphub/internal/registry/store"
	"oaphub/internal/search"
	dErrors "oaphub/pkg/domain-errors"
	pstrings "oaphub/pkg/platform/strings"
)

// ManifestFetcher retrieves a domain's well-known manifest.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, domain string) ([]byte, string, error)
}

// Attester checks the DNS TXT attestation for a domain.
type Attester interface {
	Verified(ctx context.Context, domain string) bool
}

// HealthProber probes a health endpoint URL.
type HealthProber interface {
	Check(ctx context.Context, rawURL string) bool
}

// Result is the outcome of a successful register or refresh: the committed
// record plus any non-blocking quality warnings from validation.
type Result struct {
	App      *models.AppRecord `json:"app"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Detail is the read model for a single app: the record plus fields computed
// at read time.
type Detail struct {
	App           *models.AppRecord     `json:"app"`
	State         models.LifecycleState `json:"state"`
	UptimePercent float64               `json:"uptime_percent"`
	Siblings      []*models.AppRecord   `json:"sibling_apps,omitempty"`
}

// Service orchestrates registration, refresh, and reads over the store.
type Service struct {
	store    *store.Store
	fetcher  ManifestFetcher
	attester Attester
	prober   HealthProber
	auditor  *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAuditPublisher attaches the lifecycle event publisher. A nil publisher
// disables auditing.
func WithAuditPublisher(p *audit.Publisher) Option {
	return func(s *Service) { s.auditor = p }
}

// WithMetrics attaches the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the registry service.
func New(st *store.Store, fetcher ManifestFetcher, attester Attester, prober HealthProber, opts ...Option) *Service {
	s := &Service{
		store:    st,
		fetcher:  fetcher,
		attester: attester,
		prober:   prober,
		logger:   slog.Default(),
		tracer:   otel.Tracer("oaphub/registry"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register runs the full pipeline for a new domain and commits a record on
// success. It conflicts when the domain already has a live record.
func (s *Service) Register(ctx context.Context, domain string) (*Result, error) {
	domain = pstrings.NormalizeDomain(domain)
	if domain == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "domain is required")
	}

	ctx, span := s.tracer.Start(ctx, "registry.register",
		trace.WithAttributes(attribute.String("app.domain", domain)))
	defer span.End()

	staged, err := s.runPipeline(ctx, domain)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	app := staged.record(domain, now)
	app.RegisteredAt = now

	if err := s.store.CreateApp(ctx, app); err != nil {
		return nil, err
	}

	s.metrics.IncrementRegistrations()
	s.auditor.Emit(ctx, audit.EventAppRegistered, domain, "")
	s.logger.InfoContext(ctx, "app registered",
		"domain", domain,
		"dns_verified", app.DNSVerified,
		"health_ok", app.HealthOK,
	)
	return &Result{App: app, Warnings: staged.warnings}, nil
}

// Refresh re-runs the pipeline for an existing domain. On success the record
// is rewritten with fresh manifest data and trust signals and any flag is
// cleared. On fetch or validation failure the staleness lifecycle is applied
// as an explicit separate step and the original failure still surfaces to the
// caller.
func (s *Service) Refresh(ctx context.Context, domain string) (*Result, Outcome, error) {
	domain = pstrings.NormalizeDomain(domain)

	ctx, span := s.tracer.Start(ctx, "registry.refresh",
		trace.WithAttributes(attribute.String("app.domain", domain)))
	defer span.End()

	app, err := s.store.GetApp(ctx, domain)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	staged, err := s.runPipeline(ctx, domain)
	if err != nil {
		outcome, lcErr := s.applyStaleness(ctx, app, err)
		if lcErr != nil {
			s.logger.ErrorContext(ctx, "staleness transition failed", "domain", domain, "error", lcErr)
			return nil, OutcomeFailed, lcErr
		}
		s.metrics.ObserveRefreshOutcome(string(outcome))
		return nil, outcome, err
	}

	now := s.now().UTC()
	fresh := staged.record(domain, now)
	fresh.RegisteredAt = app.RegisteredAt
	fresh.UptimeChecksPassed = app.UptimeChecksPassed
	fresh.UptimeChecksTotal = app.UptimeChecksTotal

	if err := s.store.UpdateApp(ctx, fresh); err != nil {
		return nil, OutcomeFailed, err
	}

	s.metrics.ObserveRefreshOutcome(string(OutcomeRefreshed))
	s.auditor.Emit(ctx, audit.EventAppRefreshed, domain, "")
	return &Result{App: fresh, Warnings: staged.warnings}, OutcomeRefreshed, nil
}

// CheckHealth probes one app's health endpoint and updates its uptime
// counters. Returns the probe result.
func (s *Service) CheckHealth(ctx context.Context, domain string) (bool, error) {
	app, err := s.store.GetApp(ctx, domain)
	if err != nil {
		return false, err
	}

	healthy := s.prober.Check(ctx, healthURL(app.Domain, app.HealthEndpoint))

	app.HealthOK = healthy
	app.UptimeChecksTotal++
	if healthy {
		app.UptimeChecksPassed++
	}
	app.LastVerifiedAt = s.now().UTC()

	if err := s.store.UpdateApp(ctx, app); err != nil {
		return healthy, err
	}
	return healthy, nil
}

// Get returns the detail view for one domain: the record, its derived state,
// computed uptime, and sibling apps sharing the builder.
func (s *Service) Get(ctx context.Context, domain string) (*Detail, error) {
	domain = pstrings.NormalizeDomain(domain)
	app, err := s.store.GetApp(ctx, domain)
	if err != nil {
		return nil, err
	}
	siblings, err := s.store.AppsByBuilder(ctx, app.BuilderName, app.Domain)
	if err != nil {
		return nil, err
	}
	return &Detail{
		App:           app,
		State:         app.State(),
		UptimePercent: app.UptimePercent(),
		Siblings:      siblings,
	}, nil
}

// Search ranks the non-delisted corpus against a free-text query.
func (s *Service) Search(ctx context.Context, query string) ([]search.Result, error) {
	apps, err := s.store.GetAllApps(ctx)
	if err != nil {
		return nil, err
	}
	return search.Rank(apps, query), nil
}

// Categories lists all category aggregates.
func (s *Service) Categories(ctx context.Context) ([]*models.CategoryAggregate, error) {
	return s.store.GetCategories(ctx)
}

// Browse pages through one category's apps. The second return value is the
// category's total member count.
func (s *Service) Browse(ctx context.Context, category string, page, limit int) ([]*models.AppRecord, int, error) {
	return s.store.GetAppsByCategory(ctx, strings.ToLower(strings.TrimSpace(category)), page, limit)
}

// Stats returns the global snapshot.
func (s *Service) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	return s.store.GetStats(ctx)
}

// Dump returns one page of the full corpus ordered by registration time
// ascending, for mirror consumers. The second return value is the corpus size.
func (s *Service) Dump(ctx context.Context, page, limit int) ([]*models.AppRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	apps, err := s.store.GetAllApps(ctx)
	if err != nil {
		return nil, 0, err
	}
	sortByRegistration(apps)

	total := len(apps)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return apps[start:end], total, nil
}

// Domains returns every live domain, for job iteration.
func (s *Service) Domains(ctx context.Context) ([]string, error) {
	apps, err := s.store.GetAllApps(ctx)
	if err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(apps))
	for _, app := range apps {
		domains = append(domains, app.Domain)
	}
	return domains, nil
}

// staged holds the pipeline outputs before commit.
type staged struct {
	manifest    *manifest.Manifest
	manifestURL string
	hash        string
	warnings    []string
	dnsVerified bool
	healthOK    bool
}

// runPipeline executes the non-committing stages: fetch, decode, validate,
// attest, probe. Each stage failure carries its own error code; trust
// verification stages never fail, they produce boolean signals.
func (s *Service) runPipeline(ctx context.Context, domain string) (*staged, error) {
	body, manifestURL, err := s.fetcher.FetchManifest(ctx, domain)
	if err != nil {
		s.metrics.ObserveFetchFailure(string(fetch.KindOf(err)))
		return nil, fetchError(err)
	}

	m, err := manifest.Decode(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "manifest is not valid JSON")
	}

	errs, warnings := manifest.Validate(m)
	if len(errs) > 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "manifest validation failed: "+strings.Join(errs, "; "))
	}

	st := &staged{
		manifest:    m,
		manifestURL: manifestURL,
		hash:        manifest.Hash(body),
		warnings:    warnings,
		dnsVerified: s.attester.Verified(ctx, domain),
	}
	probeURL := ""
	if m.Verification != nil {
		probeURL = m.Verification.HealthEndpoint
	}
	st.healthOK = s.prober.Check(ctx, healthURL(domain, probeURL))
	return st, nil
}

// record materializes an AppRecord from the staged pipeline outputs.
func (st *staged) record(domain string, now time.Time) *models.AppRecord {
	m := st.manifest
	app := &models.AppRecord{
		Domain:          domain,
		ManifestURL:     st.manifestURL,
		ManifestHash:    st.hash,
		Name:            m.Identity.Name,
		Tagline:         m.Identity.Tagline,
		Description:     m.Identity.Description,
		Summary:         m.Capabilities.Summary,
		Categories:      m.Capabilities.Categories,
		Solves:          m.Capabilities.Solves,
		IdealFor:        m.Capabilities.IdealFor,
		Differentiators: m.Capabilities.Differentiators,
		PricingModel:    m.Pricing.Model,
		TrialAvailable:  m.Pricing.Trial.Available,
		BuilderName:     m.Builder.Name,
		SiblingDomains:  m.Builder.Domains,
		DNSVerified:     st.dnsVerified,
		HealthOK:        st.healthOK,
		ManifestValid:   true,
		LastVerifiedAt:  now,
		LastFetchedAt:   now,
	}
	if m.Verification != nil {
		app.HealthEndpoint = m.Verification.HealthEndpoint
	}
	return app
}

// healthURL picks the probe target: the declared endpoint, or the app's root
// URL when none is declared.
func healthURL(domain, declared string) string {
	if declared != "" {
		return declared
	}
	return "https://" + domain + "/"
}

// fetchError maps a typed fetch failure to a caller-facing error. Unsafe
// targets are input errors; remote trouble is an upstream availability error.
func fetchError(err error) error {
	switch fetch.KindOf(err) {
	case fetch.KindInvalidURL, fetch.KindScheme:
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "manifest URL is not fetchable")
	case fetch.KindPrivateAddress, fetch.KindTooLarge:
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "manifest target is not acceptable")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "manifest could not be fetched")
	}
}

func sortByRegistration(apps []*models.AppRecord) {
	sort.SliceStable(apps, func(i, j int) bool {
		return apps[i].RegisteredAt.Before(apps[j].RegisteredAt)
	})
}
