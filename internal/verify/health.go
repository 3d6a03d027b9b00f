package verify

import (
	"context"
	"log/slog"

	"oaphub/internal/fetch"
)

// HealthChecker probes an app's declared health endpoint through the same
// SSRF-safe fetcher used for manifests.
type HealthChecker struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(fetcher *fetch.Fetcher, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{fetcher: fetcher, logger: logger}
}

// Check probes the given URL. Every failure mode (bad URL, private target,
// timeout, non-2xx) collapses to false; health is a binary signal with no
// error surface.
func (h *HealthChecker) Check(ctx context.Context, rawURL string) bool {
	if rawURL == "" {
		return false
	}
	_, err := h.fetcher.Fetch(ctx, rawURL, fetch.HealthTimeout)
	if err != nil {
		h.logger.DebugContext(ctx, "health probe failed", "url", rawURL, "reason", fetch.KindOf(err))
		return false
	}
	return true
}
