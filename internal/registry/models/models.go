// Package models defines the records owned by the registry store: per-app
// records, per-category aggregates, and the global stats snapshot.
package models

import (
	"time"
)

// LifecycleState describes where an app sits in the staleness-driven
// lifecycle. It is derived from record flags, never stored directly.
type LifecycleState string

const (
	StateActiveHealthy   LifecycleState = "active_healthy"
	StateActiveUnhealthy LifecycleState = "active_unhealthy"
	StateFlagged         LifecycleState = "flagged"
	StateDelisted        LifecycleState = "delisted"
)

// PricingModel enumerates the pricing models a manifest may declare.
type PricingModel string

const (
	PricingFree         PricingModel = "free"
	PricingFreemium     PricingModel = "freemium"
	PricingSubscription PricingModel = "subscription"
	PricingOneTime      PricingModel = "one_time"
	PricingUsageBased   PricingModel = "usage_based"
)

// IsValid checks if the pricing model is one of the supported enum values.
func (p PricingModel) IsValid() bool {
	switch p {
	case PricingFree, PricingFreemium, PricingSubscription, PricingOneTime, PricingUsageBased:
		return true
	}
	return false
}

// AppRecord is the registry's record for one registered domain. The domain is
// the primary key and is immutable once created. Fields extracted from the
// manifest are denormalized here so read paths never re-fetch.
type AppRecord struct {
	Domain       string `json:"domain"`
	ManifestURL  string `json:"manifest_url"`
	ManifestHash string `json:"manifest_hash"`

	Name            string   `json:"name"`
	Tagline         string   `json:"tagline"`
	Description     string   `json:"description"`
	Summary         string   `json:"summary"`
	Categories      []string `json:"categories"`
	Solves          []string `json:"solves,omitempty"`
	IdealFor        []string `json:"ideal_for,omitempty"`
	Differentiators []string `json:"differentiators,omitempty"`
	PricingModel    string   `json:"pricing_model"`
	TrialAvailable  bool     `json:"trial_available"`
	BuilderName     string   `json:"builder_name"`
	SiblingDomains  []string `json:"sibling_domains,omitempty"`
	HealthEndpoint  string   `json:"health_endpoint,omitempty"`

	DNSVerified   bool `json:"dns_verified"`
	HealthOK      bool `json:"health_ok"`
	ManifestValid bool `json:"manifest_valid"`

	RegisteredAt   time.Time `json:"registered_at"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
	LastFetchedAt  time.Time `json:"last_fetched_at"`

	UptimeChecksPassed int64 `json:"uptime_checks_passed"`
	UptimeChecksTotal  int64 `json:"uptime_checks_total"`

	Flagged      bool   `json:"flagged"`
	FlagReason   string `json:"flag_reason,omitempty"`
	Delisted     bool   `json:"delisted"`
	DelistReason string `json:"delist_reason,omitempty"`
}

// State derives the lifecycle state from the record flags.
func (a *AppRecord) State() LifecycleState {
	switch {
	case a.Delisted:
		return StateDelisted
	case a.Flagged:
		return StateFlagged
	case a.HealthOK:
		return StateActiveHealthy
	default:
		return StateActiveUnhealthy
	}
}

// UptimePercent computes the uptime ratio as a percentage. Records with no
// checks yet report 100 so a freshly registered app is not penalized.
func (a *AppRecord) UptimePercent() float64 {
	if a.UptimeChecksTotal == 0 {
		return 100
	}
	return float64(a.UptimeChecksPassed) / float64(a.UptimeChecksTotal) * 100
}

// CategoryAggregate is the derived per-category summary. Count must always
// equal the size of the member set; the store recomputes it on every write.
type CategoryAggregate struct {
	Category string   `json:"category"`
	Count    int      `json:"count"`
	Domains  []string `json:"domains"`
}

// Contains reports whether the aggregate's member set includes the domain.
func (c *CategoryAggregate) Contains(domain string) bool {
	for _, d := range c.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// StatsSnapshot is the global singleton recomputed from the full non-delisted
// corpus; it is never incrementally maintained.
type StatsSnapshot struct {
	TotalApps       int       `json:"total_apps"`
	TotalCategories int       `json:"total_categories"`
	HealthyApps     int       `json:"healthy_apps"`
	RegisteredToday int       `json:"registered_today"`
	UpdatedAt       time.Time `json:"updated_at"`
}
