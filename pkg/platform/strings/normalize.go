// Package strings provides string normalization utilities shared across the
// registry.
package strings

import (
	"strings"
)

// DedupeAndTrimLower lowercases, trims, and de-duplicates a slice, dropping
// empty elements. Order of first occurrence is preserved. Category sets are
// normalized through this before they touch the store, which is what keeps
// aggregate membership keyed consistently.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  CRM ", "sales", "crm", ""})
//	// Returns: []string{"crm", "sales"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		normalized := strings.ToLower(strings.TrimSpace(v))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; !ok {
			seen[normalized] = struct{}{}
			result = append(result, normalized)
		}
	}

	return result
}

// NormalizeDomain canonicalizes a user-supplied domain: lowercased, trimmed,
// with any scheme prefix, path suffix, and trailing dot removed.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}
