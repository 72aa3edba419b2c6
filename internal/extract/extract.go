// Package extract turns fetched pages and captured network payloads into
// field candidates. Each extractor is independent; a parse failure in one
// never blocks the others.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// Page bundles one extractable fetch result with the source's credibility
// metadata resolved by the planner.
type Page struct {
	Result     *domain.FetchResult
	Host       string
	RootDomain string
	Role       domain.Role
	Tier       domain.Tier
}

// Extractor produces candidates from a page.
type Extractor interface {
	Name() string
	Extract(page Page, rules *domain.RuleSet) ([]domain.Candidate, error)
}

// Registry runs a fixed set of extractors over a page, tolerating
// per-extractor failures.
type Registry struct {
	extractors []Extractor
	log        logger.Interface
}

// NewRegistry creates a registry over the given extractors.
func NewRegistry(log logger.Interface, extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors, log: log.WithComponent("extract")}
}

// DefaultRegistry wires the standard extractor set.
func DefaultRegistry(log logger.Interface) *Registry {
	return NewRegistry(log,
		NewDOMExtractor(),
		NewJSONLDExtractor(),
		NewEmbeddedStateExtractor(),
		NewNetworkExtractor(),
	)
}

// ExtractAll runs every extractor over the page and merges their candidates.
// Pages that should not be extracted (dead, blocked, failed) yield nothing.
func (r *Registry) ExtractAll(page Page, rules *domain.RuleSet) []domain.Candidate {
	if page.Result == nil || !page.Result.ShouldExtract() {
		return nil
	}

	var all []domain.Candidate
	for _, ex := range r.extractors {
		candidates, err := ex.Extract(page, rules)
		if err != nil {
			r.log.Debug("extractor failed on page",
				"extractor", ex.Name(),
				"url", page.Result.URL,
				"error", err.Error(),
			)
			continue
		}
		all = append(all, candidates...)
	}

	return all
}

// newCandidate fills the provenance shared by every extractor's output.
func newCandidate(page Page, field, value string, method domain.Method, ev domain.Evidence) domain.Candidate {
	if ev.URL == "" {
		ev.URL = page.Result.URL
	}
	if ev.FinalURL == "" && page.Result.FinalURL != page.Result.URL {
		ev.FinalURL = page.Result.FinalURL
	}
	if ev.RetrievedAt.IsZero() {
		ev.RetrievedAt = page.Result.FetchedAt
	}

	return domain.Candidate{
		ID:         uuid.NewString(),
		Field:      field,
		Value:      strings.TrimSpace(value),
		SourceURL:  page.Result.URL,
		Host:       page.Host,
		RootDomain: page.RootDomain,
		Role:       page.Role,
		Tier:       page.Tier,
		Method:     method,
		Evidence:   ev,
	}
}

// labelIndex maps normalized field labels (keys and aliases) to field keys.
type labelIndex map[string]string

// buildLabelIndex indexes a rule set's keys and aliases for label lookup.
func buildLabelIndex(rules *domain.RuleSet) labelIndex {
	idx := make(labelIndex, len(rules.Fields)*2)
	for key, rule := range rules.Fields {
		idx[normalizeLabel(key)] = key
		for _, alias := range rule.Aliases {
			idx[normalizeLabel(alias)] = key
		}
	}
	return idx
}

// match resolves a raw label to a field key, or "" when unknown.
func (idx labelIndex) match(label string) string {
	return idx[normalizeLabel(label)]
}

// normalizeLabel lowercases a label and collapses non-alphanumerics so
// "Max. DPI", "max_dpi", and "max dpi" all index identically.
func normalizeLabel(label string) string {
	var b strings.Builder
	b.Grow(len(label))

	lastSpace := true
	for _, r := range strings.ToLower(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

// quoteEvidence builds evidence carrying a quote and its span within the
// surrounding text.
func quoteEvidence(page Page, text string, span [2]int, retrievedAt time.Time) domain.Evidence {
	ev := domain.Evidence{
		URL:         page.Result.URL,
		Quote:       text,
		QuoteSpan:   span,
		RetrievedAt: retrievedAt,
	}
	if page.Result.FinalURL != page.Result.URL {
		ev.FinalURL = page.Result.FinalURL
	}
	return ev
}

// trimQuote bounds a quote's length for evidence storage.
func trimQuote(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// stringify renders a mined JSON leaf as a candidate value.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
