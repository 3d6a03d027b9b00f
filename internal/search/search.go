// Package search ranks free-text queries against the app corpus with a
// bag-of-words heuristic. This is deliberately not semantic search; existing
// clients depend on the exact scoring behavior, so the formula is preserved
// as-is.
package search

import (
	"sort"
	"strings"

	"oaphub/internal/registry/models"
)

// Tuning constants. The 1.5 normalization divisor is an inherited heuristic
// with no stated rationale; it is kept for compatibility with existing
// clients and flagged for review rather than adjusted.
const (
	maxResults     = 20
	scoreThreshold = 0.1
	minTokenLen    = 3
	nameBoost      = 0.5
	normalizer     = 1.5
)

// Result is one scored match.
type Result struct {
	App   *models.AppRecord `json:"app"`
	Score float64           `json:"score"`
}

// Rank scores the corpus against a query and returns up to 20 results with
// score above 0.1, ordered by descending score. Ties keep the corpus
// iteration order, which is only stable within a single evaluation.
func Rank(apps []*models.AppRecord, query string) []Result {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	var results []Result
	for _, app := range apps {
		score := scoreApp(app, tokens)
		if score > scoreThreshold {
			results = append(results, Result{App: app, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// tokenize lower-cases and splits on whitespace, discarding tokens of length
// two or less.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// scoreApp computes (hits + 0.5·titleHits) / (tokens · 1.5), capped at 1.0.
func scoreApp(app *models.AppRecord, tokens []string) float64 {
	haystack := strings.ToLower(strings.Join([]string{
		app.Name,
		app.Tagline,
		app.Description,
		app.Summary,
		strings.Join(app.Solves, " "),
		strings.Join(app.IdealFor, " "),
		strings.Join(app.Categories, " "),
		strings.Join(app.Differentiators, " "),
		app.PricingModel,
	}, " "))
	title := strings.ToLower(app.Name + " " + app.Tagline)

	var raw float64
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			raw++
		}
		if strings.Contains(title, token) {
			raw += nameBoost
		}
	}

	score := raw / (float64(len(tokens)) * normalizer)
	if score > 1.0 {
		score = 1.0
	}
	return score
}
