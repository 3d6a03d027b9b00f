// Package store implements the registry's aggregate engine: app records,
// per-category aggregates, and the global stats snapshot, persisted through
// the document store. All mutations to records and aggregates go through this
// package; the verification components only compute inputs to a write.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"oaphub/internal/docstore"
	"oaphub/internal/registry/models"
	dErrors "oaphub/pkg/domain-errors"
	pstrings "oaphub/pkg/platform/strings"
)

// Collection names in the document store.
const (
	collApps       = "apps"
	collCategories = "categories"
	collStats      = "stats"
)

const statsKey = "global"

// statsCacheTTL bounds how stale the cached stats snapshot may get between
// recomputations.
const statsCacheTTL = time.Minute

// Store is the registry's persistence layer.
type Store struct {
	docs   docstore.Store
	logger *slog.Logger
	stats  *gocache.Cache
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a registry store over the given document store.
func New(docs docstore.Store, opts ...Option) *Store {
	s := &Store{
		docs:   docs,
		logger: slog.Default(),
		stats:  gocache.New(statsCacheTTL, 5*time.Minute),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateApp inserts a new app record and adds its domain to every category
// aggregate in one atomic batch. It conflicts if the domain already has a
// live (non-delisted) record; a delisted record may be re-registered.
func (s *Store) CreateApp(ctx context.Context, app *models.AppRecord) error {
	app.Categories = pstrings.DedupeAndTrimLower(app.Categories)

	existing, err := s.getAppAny(ctx, app.Domain)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	if existing != nil && !existing.Delisted {
		return dErrors.New(dErrors.CodeConflict, "domain is already registered")
	}

	batch := docstore.NewBatch()
	if err := s.queueApp(batch, app); err != nil {
		return err
	}
	if err := s.queueCategoryDiff(ctx, batch, app.Domain, nil, app.Categories); err != nil {
		return err
	}
	if err := s.docs.ApplyBatch(ctx, batch); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit registration")
	}

	s.stats.Delete(statsKey)
	return nil
}

// UpdateApp rewrites an app record. When the category set changed (a delist
// counts as remove-all), the domain is removed from every
// aggregate no longer applicable and added to every new one within the same
// batch as the record write, so a reader can never observe a record and its
// aggregates disagreeing.
func (s *Store) UpdateApp(ctx context.Context, app *models.AppRecord) error {
	app.Categories = pstrings.DedupeAndTrimLower(app.Categories)

	existing, err := s.getAppAny(ctx, app.Domain)
	if err != nil {
		return err
	}

	oldCategories := existing.Categories
	if existing.Delisted {
		oldCategories = nil
	}
	newCategories := app.Categories
	if app.Delisted {
		newCategories = nil
	}

	batch := docstore.NewBatch()
	if err := s.queueApp(batch, app); err != nil {
		return err
	}
	if err := s.queueCategoryDiff(ctx, batch, app.Domain, oldCategories, newCategories); err != nil {
		return err
	}
	if err := s.docs.ApplyBatch(ctx, batch); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit update")
	}

	s.stats.Delete(statsKey)
	return nil
}

// GetApp returns the live record for a domain. Delisted records are excluded
// from every read path; they remain stored for audit only.
func (s *Store) GetApp(ctx context.Context, domain string) (*models.AppRecord, error) {
	app, err := s.getAppAny(ctx, domain)
	if err != nil {
		return nil, err
	}
	if app.Delisted {
		return nil, dErrors.New(dErrors.CodeNotFound, "app not found")
	}
	return app, nil
}

// GetAllApps returns every non-delisted record, ordered by domain.
func (s *Store) GetAllApps(ctx context.Context) ([]*models.AppRecord, error) {
	docs, err := s.docs.List(ctx, collApps)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list apps")
	}
	apps := make([]*models.AppRecord, 0, len(docs))
	for _, doc := range docs {
		var app models.AppRecord
		if err := json.Unmarshal(doc.Data, &app); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable app record", "key", doc.Key, "error", err)
			continue
		}
		if app.Delisted {
			continue
		}
		apps = append(apps, &app)
	}
	return apps, nil
}

// GetAppsByCategory pages through a category's member set. Only the slice of
// domains for the requested page is loaded, which bounds read cost to the
// page size rather than the category size. The second return value is the
// category's total member count.
func (s *Store) GetAppsByCategory(ctx context.Context, category string, page, limit int) ([]*models.AppRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	agg, err := s.getAggregate(ctx, category)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	domains := append([]string(nil), agg.Domains...)
	sort.Strings(domains)

	start := (page - 1) * limit
	if start >= len(domains) {
		return nil, agg.Count, nil
	}
	end := start + limit
	if end > len(domains) {
		end = len(domains)
	}

	apps := make([]*models.AppRecord, 0, end-start)
	for _, domain := range domains[start:end] {
		app, err := s.GetApp(ctx, domain)
		if err != nil {
			// Aggregate membership can briefly outrun a concurrent delist.
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return nil, 0, err
		}
		apps = append(apps, app)
	}
	return apps, agg.Count, nil
}

// GetCategories returns all category aggregates ordered by name.
func (s *Store) GetCategories(ctx context.Context) ([]*models.CategoryAggregate, error) {
	docs, err := s.docs.List(ctx, collCategories)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list categories")
	}
	aggs := make([]*models.CategoryAggregate, 0, len(docs))
	for _, doc := range docs {
		var agg models.CategoryAggregate
		if err := json.Unmarshal(doc.Data, &agg); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable category aggregate", "key", doc.Key, "error", err)
			continue
		}
		aggs = append(aggs, &agg)
	}
	return aggs, nil
}

// AppsByBuilder returns non-delisted records sharing a builder name,
// excluding the given domain. Used for the sibling-apps read.
func (s *Store) AppsByBuilder(ctx context.Context, builderName, excludeDomain string) ([]*models.AppRecord, error) {
	if builderName == "" {
		return nil, nil
	}
	apps, err := s.GetAllApps(ctx)
	if err != nil {
		return nil, err
	}
	var siblings []*models.AppRecord
	for _, app := range apps {
		if app.Domain != excludeDomain && app.BuilderName == builderName {
			siblings = append(siblings, app)
		}
	}
	return siblings, nil
}

// GetStats returns the global snapshot, recomputing from the full
// non-delisted corpus when the cached copy has expired or a write invalidated
// it. The snapshot is never incrementally maintained.
func (s *Store) GetStats(ctx context.Context) (*models.StatsSnapshot, error) {
	if cached, ok := s.stats.Get(statsKey); ok {
		return cached.(*models.StatsSnapshot), nil
	}

	apps, err := s.GetAllApps(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)
	snapshot := &models.StatsSnapshot{UpdatedAt: now}
	categories := make(map[string]struct{})
	for _, app := range apps {
		snapshot.TotalApps++
		if app.HealthOK {
			snapshot.HealthyApps++
		}
		if !app.RegisteredAt.UTC().Truncate(24 * time.Hour).Before(today) {
			snapshot.RegisteredToday++
		}
		for _, c := range app.Categories {
			categories[c] = struct{}{}
		}
	}
	snapshot.TotalCategories = len(categories)

	s.stats.SetDefault(statsKey, snapshot)
	if data, err := json.Marshal(snapshot); err == nil {
		if err := s.docs.Set(ctx, collStats, statsKey, data); err != nil {
			s.logger.WarnContext(ctx, "failed to persist stats snapshot", "error", err)
		}
	}
	return snapshot, nil
}

// getAppAny loads a record regardless of delist state.
func (s *Store) getAppAny(ctx context.Context, domain string) (*models.AppRecord, error) {
	data, err := s.docs.Get(ctx, collApps, domain)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "app not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load app")
	}
	var app models.AppRecord
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt app record")
	}
	return &app, nil
}

func (s *Store) getAggregate(ctx context.Context, category string) (*models.CategoryAggregate, error) {
	data, err := s.docs.Get(ctx, collCategories, category)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "category not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load category")
	}
	var agg models.CategoryAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt category aggregate")
	}
	return &agg, nil
}

func (s *Store) queueApp(batch *docstore.Batch, app *models.AppRecord) error {
	data, err := json.Marshal(app)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode app record")
	}
	batch.Set(collApps, app.Domain, data)
	return nil
}

// queueCategoryDiff queues the paired remove/add aggregate writes for a
// domain whose category set changed from old to new. Counts are recomputed
// from the member set on every write, never incremented, so count == |domains|
// holds after any commit. Empty aggregates are deleted rather than stored.
func (s *Store) queueCategoryDiff(ctx context.Context, batch *docstore.Batch, domain string, oldCategories, newCategories []string) error {
	oldSet := toSet(oldCategories)
	newSet := toSet(newCategories)

	for _, category := range oldCategories {
		if _, keep := newSet[category]; keep {
			continue
		}
		agg, err := s.getAggregate(ctx, category)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return err
		}
		members := make([]string, 0, len(agg.Domains))
		for _, d := range agg.Domains {
			if d != domain {
				members = append(members, d)
			}
		}
		if len(members) == 0 {
			batch.Delete(collCategories, category)
			continue
		}
		if err := queueAggregate(batch, category, members); err != nil {
			return err
		}
	}

	for _, category := range newCategories {
		if _, had := oldSet[category]; had {
			continue
		}
		var members []string
		agg, err := s.getAggregate(ctx, category)
		switch {
		case err == nil:
			members = agg.Domains
		case dErrors.HasCode(err, dErrors.CodeNotFound):
		default:
			return err
		}
		if !contains(members, domain) {
			members = append(members, domain)
		}
		if err := queueAggregate(batch, category, members); err != nil {
			return err
		}
	}
	return nil
}

func queueAggregate(batch *docstore.Batch, category string, members []string) error {
	agg := models.CategoryAggregate{
		Category: category,
		Count:    len(members),
		Domains:  members,
	}
	data, err := json.Marshal(&agg)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to encode category %s", category))
	}
	batch.Set(collCategories, category, data)
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
