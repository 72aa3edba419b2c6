// Package domain defines the core data types shared across the harvester pipeline:
// product identity locks, field rules, candidates with evidence, fetch results,
// and the frontier's URL and query records.
package domain

import "strings"

// AmbiguityLevel grades how easily a product can be confused with siblings.
// It drives the identity match threshold.
type AmbiguityLevel string

// Ambiguity levels, from easiest to hardest to disambiguate.
const (
	AmbiguityEasy      AmbiguityLevel = "easy"
	AmbiguityMedium    AmbiguityLevel = "medium"
	AmbiguityHard      AmbiguityLevel = "hard"
	AmbiguityVeryHard  AmbiguityLevel = "very_hard"
	AmbiguityExtraHard AmbiguityLevel = "extra_hard"
)

// IdentityLock is the immutable product identity every source must be
// reconciled against. A new run may produce a new lock; within a run it
// never changes.
type IdentityLock struct {
	ProductID string `json:"product_id"`
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	Variant   string `json:"variant,omitempty"`
	SKU       string `json:"sku,omitempty"`
	MPN       string `json:"mpn,omitempty"`
	GTIN      string `json:"gtin,omitempty"`

	// NegativeTokens disqualify a source when present in its title or URL.
	NegativeTokens []string `json:"negative_tokens,omitempty"`

	Ambiguity AmbiguityLevel `json:"ambiguity"`
}

// RequiredTokens returns the lowercased brand and model tokens a source
// must cover to be considered the same product.
func (l *IdentityLock) RequiredTokens() []string {
	tokens := Tokenize(l.Brand)
	tokens = append(tokens, Tokenize(l.Model)...)
	return tokens
}

// HasHardID reports whether the lock carries at least one hard identifier.
func (l *IdentityLock) HasHardID() bool {
	return l.SKU != "" || l.MPN != "" || l.GTIN != ""
}

// Tokenize lowercases a string and splits it on whitespace, hyphens,
// underscores, and slashes. Empty tokens are dropped.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '-', '_', '/', ',', '(', ')':
			return true
		}
		return false
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
