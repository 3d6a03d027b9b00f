package manifest

import (
	"fmt"
	"net/url"

	"oaphub/internal/registry/models"
)

// Field length limits. Exceeding one is a quality warning, never an error.
const (
	maxNameLen        = 80
	maxTaglineLen     = 120
	maxSummaryLen     = 500
	maxDescriptionLen = 2000
)

// Validate runs the structural check on a decoded manifest. It returns
// human-readable structural errors (any of which blocks registration and
// refresh entirely) and a separate list of non-fatal quality warnings.
// Warnings never block.
func Validate(m *Manifest) (errs []string, warnings []string) {
	if m == nil {
		return []string{"manifest is empty"}, nil
	}

	req := func(path, value string) {
		if value == "" {
			errs = append(errs, fmt.Sprintf("missing required field %s", path))
		}
	}
	reqList := func(path string, value []string) {
		if value == nil {
			errs = append(errs, fmt.Sprintf("missing required field %s", path))
		}
	}

	req("identity.name", m.Identity.Name)
	req("identity.tagline", m.Identity.Tagline)
	req("identity.description", m.Identity.Description)
	req("identity.url", m.Identity.URL)
	req("builder.name", m.Builder.Name)
	req("capabilities.summary", m.Capabilities.Summary)
	reqList("capabilities.solves", m.Capabilities.Solves)
	reqList("capabilities.ideal_for", m.Capabilities.IdealFor)
	reqList("capabilities.differentiators", m.Capabilities.Differentiators)
	req("pricing.model", m.Pricing.Model)
	reqList("trust.data_practices.collects", m.Trust.DataPractices.Collects)
	req("trust.data_practices.stores_in", m.Trust.DataPractices.StoresIn)
	reqList("trust.data_practices.shares_with", m.Trust.DataPractices.SharesWith)
	reqList("trust.security.authentication", m.Trust.Security.Authentication)
	reqList("trust.external_connections", m.Trust.ExternalConnections)

	// Categories drive aggregate membership, so an empty set is structural.
	if len(m.Capabilities.Categories) == 0 {
		errs = append(errs, "missing required field capabilities.categories")
	}

	warnings = append(warnings, qualityWarnings(m)...)
	return errs, warnings
}

// qualityWarnings reports non-fatal quality issues: length limits,
// recommended-but-missing fields, enum membership, and URL syntax.
func qualityWarnings(m *Manifest) []string {
	var warnings []string

	overLimit := func(path, value string, limit int) {
		if len(value) > limit {
			warnings = append(warnings, fmt.Sprintf("%s exceeds %d characters", path, limit))
		}
	}
	overLimit("identity.name", m.Identity.Name, maxNameLen)
	overLimit("identity.tagline", m.Identity.Tagline, maxTaglineLen)
	overLimit("capabilities.summary", m.Capabilities.Summary, maxSummaryLen)
	overLimit("identity.description", m.Identity.Description, maxDescriptionLen)

	if m.Pricing.Model != "" && !models.PricingModel(m.Pricing.Model).IsValid() {
		warnings = append(warnings, fmt.Sprintf("pricing.model %q is not a recognized model", m.Pricing.Model))
	}

	checkURL := func(path, value string) {
		if value == "" {
			return
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			warnings = append(warnings, fmt.Sprintf("%s is not a valid http(s) URL", path))
		}
	}
	checkURL("identity.url", m.Identity.URL)
	checkURL("builder.url", m.Builder.URL)

	if m.Builder.URL == "" {
		warnings = append(warnings, "builder.url is recommended")
	}
	if m.Verification == nil || m.Verification.HealthEndpoint == "" {
		warnings = append(warnings, "verification.health_endpoint is recommended for uptime tracking")
	} else {
		checkURL("verification.health_endpoint", m.Verification.HealthEndpoint)
	}

	return warnings
}
