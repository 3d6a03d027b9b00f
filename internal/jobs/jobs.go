// Package jobs runs the scheduled maintenance passes over the app corpus:
// the refresh cycle and the liveness check. Both iterate with a small bounded
// worker pool; one app's failure never aborts the batch.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"oaphub/internal/registry/service"
)

// Registry is the slice of the registry service the jobs drive.
type Registry interface {
	Domains(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context, domain string) (*service.Result, service.Outcome, error)
	CheckHealth(ctx context.Context, domain string) (bool, error)
}

// RefreshSummary aggregates per-app outcomes of one refresh pass.
type RefreshSummary struct {
	Refreshed int `json:"refreshed"`
	Flagged   int `json:"flagged"`
	Delisted  int `json:"delisted"`
	Tolerated int `json:"tolerated"`
	Failed    int `json:"failed"`
}

// HealthSummary aggregates per-app outcomes of one liveness pass.
type HealthSummary struct {
	Checked   int `json:"checked"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Failed    int `json:"failed"`
}

// Runner executes the scheduled jobs.
type Runner struct {
	registry    Registry
	logger      *slog.Logger
	concurrency int
	pace        *rate.Limiter
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the worker pool size.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithPace caps the aggregate outbound request rate across all workers.
func WithPace(perSecond float64) Option {
	return func(r *Runner) {
		if perSecond > 0 {
			r.pace = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a job runner over the registry service.
func NewRunner(registry Registry, opts ...Option) *Runner {
	r := &Runner{
		registry:    registry,
		logger:      slog.Default(),
		concurrency: 4,
		pace:        rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunRefresh re-verifies every live app. Refresh errors on individual apps
// are expected (they feed the staleness lifecycle) and are counted, not
// propagated; only corpus enumeration can fail the job.
func (r *Runner) RunRefresh(ctx context.Context) (*RefreshSummary, error) {
	domains, err := r.registry.Domains(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var refreshed, flagged, delisted, tolerated, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, domain := range domains {
		g.Go(func() error {
			if err := r.pace.Wait(gctx); err != nil {
				failed.Add(1)
				return nil
			}
			_, outcome, err := r.registry.Refresh(gctx, domain)
			switch outcome {
			case service.OutcomeRefreshed:
				refreshed.Add(1)
			case service.OutcomeFlagged:
				flagged.Add(1)
			case service.OutcomeDelisted:
				delisted.Add(1)
			case service.OutcomeTolerated:
				tolerated.Add(1)
			default:
				failed.Add(1)
				r.logger.ErrorContext(gctx, "refresh failed", "domain", domain, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &RefreshSummary{
		Refreshed: int(refreshed.Load()),
		Flagged:   int(flagged.Load()),
		Delisted:  int(delisted.Load()),
		Tolerated: int(tolerated.Load()),
		Failed:    int(failed.Load()),
	}
	r.logger.InfoContext(ctx, "refresh pass complete",
		"apps", len(domains),
		"refreshed", summary.Refreshed,
		"flagged", summary.Flagged,
		"delisted", summary.Delisted,
		"tolerated", summary.Tolerated,
		"failed", summary.Failed,
		"duration", time.Since(started),
	)
	return summary, nil
}

// RunHealth probes every live app's health endpoint and updates uptime
// counters.
func (r *Runner) RunHealth(ctx context.Context) (*HealthSummary, error) {
	domains, err := r.registry.Domains(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var healthy, unhealthy, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, domain := range domains {
		g.Go(func() error {
			if err := r.pace.Wait(gctx); err != nil {
				failed.Add(1)
				return nil
			}
			ok, err := r.registry.CheckHealth(gctx, domain)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.ErrorContext(gctx, "health check failed", "domain", domain, "error", err)
			case ok:
				healthy.Add(1)
			default:
				unhealthy.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &HealthSummary{
		Checked:   len(domains),
		Healthy:   int(healthy.Load()),
		Unhealthy: int(unhealthy.Load()),
		Failed:    int(failed.Load()),
	}
	r.logger.InfoContext(ctx, "health pass complete",
		"checked", summary.Checked,
		"healthy", summary.Healthy,
		"unhealthy", summary.Unhealthy,
		"failed", summary.Failed,
		"duration", time.Since(started),
	)
	return summary, nil
}
