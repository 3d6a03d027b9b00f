// Package verify implements the two trust signals recorded on app records:
// DNS attestation and health probing. Both are best-effort; a missing signal
// is a normal state, never an error.
package verify

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Attestation record conventions. The full record format is
// "v=oap1; cat=<categories>; manifest=<url>" but only the version marker is
// checked; the remaining fields are advisory.
const (
	attestationPrefix = "_oap."
	attestationMarker = "v=oap1"
	lookupTimeout     = 5 * time.Second
)

// TXTResolver is the DNS lookup surface the checker depends on.
// *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// AttestationChecker verifies domain ownership through a DNS TXT record.
type AttestationChecker struct {
	resolver TXTResolver
	logger   *slog.Logger
}

// NewAttestationChecker creates a checker backed by the given resolver, or
// the system resolver when nil.
func NewAttestationChecker(resolver TXTResolver, logger *slog.Logger) *AttestationChecker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttestationChecker{resolver: resolver, logger: logger}
}

// Verified reports whether _oap.<domain> publishes a TXT record containing
// the v=oap1 marker. Resolution failures and absent records yield false;
// absence of attestation is expected for most registrants.
func (c *AttestationChecker) Verified(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	records, err := c.resolver.LookupTXT(ctx, attestationPrefix+domain)
	if err != nil {
		c.logger.DebugContext(ctx, "attestation lookup failed", "domain", domain, "error", err)
		return false
	}
	for _, record := range records {
		if strings.Contains(record, attestationMarker) {
			return true
		}
	}
	return false
}
