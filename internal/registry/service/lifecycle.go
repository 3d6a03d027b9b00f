package service

import (
	"context"
	"fmt"
	"time"

	"oaphub/internal/audit"
	"oaphub/internal/registry/models"
)

// Outcome labels the result of one refresh cycle for an app.
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFlagged   Outcome = "flagged"
	OutcomeDelisted  Outcome = "delisted"
	OutcomeTolerated Outcome = "tolerated"
	OutcomeFailed    Outcome = "failed"
)

// Staleness thresholds, measured from the last successful manifest fetch.
// Two thresholds so transient outages are absorbed without penalty while
// abandoned registrations are eventually pruned.
const (
	flagAfter   = 7 * 24 * time.Hour
	delistAfter = 30 * 24 * time.Hour
)

// applyStaleness is the failure branch of the lifecycle state machine,
// invoked explicitly when a refresh cycle's fetch or validation stage failed.
// The transition depends only on how long the manifest has been unfetchable:
// 30 days delists, 7 days flags, anything younger is tolerated with no state
// change.
func (s *Service) applyStaleness(ctx context.Context, app *models.AppRecord, cause error) (Outcome, error) {
	staleness := s.now().UTC().Sub(app.LastFetchedAt)

	switch {
	case staleness >= delistAfter:
		reason := fmt.Sprintf("manifest unreachable for %d days: %v", int(staleness.Hours()/24), cause)
		app.Delisted = true
		app.DelistReason = reason
		if err := s.store.UpdateApp(ctx, app); err != nil {
			return OutcomeFailed, err
		}
		s.auditor.Emit(ctx, audit.EventAppDelisted, app.Domain, reason)
		s.logger.WarnContext(ctx, "app delisted", "domain", app.Domain, "reason", reason)
		return OutcomeDelisted, nil

	case staleness >= flagAfter && !app.Flagged:
		reason := fmt.Sprintf("manifest unreachable for %d days: %v", int(staleness.Hours()/24), cause)
		app.Flagged = true
		app.FlagReason = reason
		if err := s.store.UpdateApp(ctx, app); err != nil {
			return OutcomeFailed, err
		}
		s.auditor.Emit(ctx, audit.EventAppFlagged, app.Domain, reason)
		s.logger.WarnContext(ctx, "app flagged", "domain", app.Domain, "reason", reason)
		return OutcomeFlagged, nil

	default:
		return OutcomeTolerated, nil
	}
}
