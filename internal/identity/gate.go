// Package identity scores fetched pages against the product's identity
// lock and reconciles per-page verdicts into an overall identity status.
package identity

import (
	"strings"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// Decision is the per-page identity verdict.
type Decision string

// Per-page decisions.
const (
	DecisionConfirmed  Decision = "CONFIRMED"
	DecisionWarning    Decision = "WARNING"
	DecisionQuarantine Decision = "QUARANTINE"
	DecisionRejected   Decision = "REJECTED"
)

// Admissible reports whether candidates from a page with this decision may
// enter consensus.
func (d Decision) Admissible() bool {
	return d == DecisionConfirmed || d == DecisionWarning
}

// Score component weights and decision bands.
const (
	brandWeight   = 0.35
	modelWeight   = 0.35
	variantWeight = 0.15
	hardIDWeight  = 0.15

	baseThreshold = 0.80
	thresholdMin  = 0.62
	thresholdMax  = 0.92

	strongOverlap  = 0.72
	numericOverlap = 0.55

	confirmBand    = 0.85
	warningBand    = 0.60
	quarantineBand = 0.40
)

// Page is the identity-relevant view of one fetched page.
type Page struct {
	URL        string
	Title      string
	Candidates []domain.Candidate
}

// Verdict is the deterministic outcome of scoring one page.
type Verdict struct {
	Decision  Decision `json:"decision"`
	Score     float64  `json:"score"`
	Threshold float64  `json:"threshold"`
	// Confidence is 1.0 on an exact hard-ID match, otherwise the score.
	Confidence        float64  `json:"confidence"`
	Reasons           []string `json:"reasons,omitempty"`
	CriticalConflicts []string `json:"critical_conflicts,omitempty"`
}

// Gate scores pages against an identity lock.
type Gate struct {
	lock domain.IdentityLock
}

// NewGate creates a gate for one product's lock.
func NewGate(lock domain.IdentityLock) *Gate {
	return &Gate{lock: lock}
}

// Score produces the page verdict. The computation is pure: the same page
// and lock always yield the same verdict.
func (g *Gate) Score(page Page) Verdict {
	verdict := Verdict{Threshold: g.threshold()}

	haystack := strings.ToLower(page.Title + " " + page.URL + " " + candidateText(page.Candidates))

	// Negative tokens disqualify outright.
	for _, token := range g.lock.NegativeTokens {
		if token != "" && strings.Contains(haystack, strings.ToLower(token)) {
			verdict.Decision = DecisionRejected
			verdict.Reasons = append(verdict.Reasons, "negative_token:"+token)
			return verdict
		}
	}

	if g.brandMatches(haystack) {
		verdict.Score += brandWeight
		verdict.Reasons = append(verdict.Reasons, "brand_match")
	} else if g.lock.Brand != "" {
		verdict.CriticalConflicts = append(verdict.CriticalConflicts, "brand_mismatch")
	}

	overlap, numericMissing := modelCoverage(g.lock.Model, haystack)
	numericPresent := !numericMissing

	switch {
	case overlap >= strongOverlap:
		verdict.Score += modelWeight
		verdict.Reasons = append(verdict.Reasons, "model_match")
	case overlap >= numericOverlap && numericPresent:
		verdict.Score += modelWeight
		verdict.Reasons = append(verdict.Reasons, "model_match")
	case overlap >= 0.5 && numericMissing:
		// "G Pro X" page for a "G Pro X 2" product: close but the
		// generation token is absent.
		verdict.CriticalConflicts = append(verdict.CriticalConflicts, "model_numeric_mismatch")
	}

	if g.variantMatches(haystack) {
		verdict.Score += variantWeight
		verdict.Reasons = append(verdict.Reasons, "variant_match")
	}

	hardMatch, hardMismatch := g.hardIDOutcome(page.Candidates)
	if hardMismatch {
		verdict.CriticalConflicts = append(verdict.CriticalConflicts, "hard_id_mismatch")
		verdict.Decision = DecisionRejected
		verdict.Confidence = 0
		return verdict
	}
	if hardMatch {
		verdict.Score += hardIDWeight
		verdict.Reasons = append(verdict.Reasons, "hard_id_match")
	}

	verdict.Confidence = verdict.Score
	if hardMatch {
		verdict.Confidence = 1.0
	}

	verdict.Decision = g.decide(verdict)
	return verdict
}

// decide applies the threshold and score bands.
func (g *Gate) decide(v Verdict) Decision {
	if v.Score >= v.Threshold && len(v.CriticalConflicts) == 0 {
		return DecisionConfirmed
	}

	switch {
	case v.Score >= confirmBand && len(v.CriticalConflicts) == 0:
		return DecisionConfirmed
	case v.Score >= warningBand:
		return DecisionWarning
	case v.Score >= quarantineBand:
		return DecisionQuarantine
	default:
		return DecisionRejected
	}
}

// threshold derives the match threshold from ambiguity and lock strength.
func (g *Gate) threshold() float64 {
	t := baseThreshold

	switch g.lock.Ambiguity {
	case domain.AmbiguityEasy:
		if g.lock.Variant == "" {
			t -= 0.15
		}
	case domain.AmbiguityHard:
		t += 0.03
	case domain.AmbiguityVeryHard:
		t += 0.05
	case domain.AmbiguityExtraHard:
		t += 0.08
	}

	if !g.lock.HasHardID() {
		t -= 0.05
	}

	if t < thresholdMin {
		t = thresholdMin
	}
	if t > thresholdMax {
		t = thresholdMax
	}
	return t
}

func (g *Gate) brandMatches(haystack string) bool {
	brand := strings.ToLower(strings.TrimSpace(g.lock.Brand))
	return brand != "" && strings.Contains(haystack, brand)
}

// variantMatches compares connection classes when the variant names one,
// falling back to literal variant presence.
func (g *Gate) variantMatches(haystack string) bool {
	variant := strings.ToLower(strings.TrimSpace(g.lock.Variant))
	if variant == "" {
		return false
	}

	lockClass := ConnectionClass(variant)
	pageClass := ConnectionClass(haystack)
	if lockClass != "" && pageClass != "" {
		return connectionCompatible(lockClass, pageClass)
	}

	return strings.Contains(haystack, variant)
}

// hardIDOutcome checks candidate sku/mpn/gtin values against the lock.
func (g *Gate) hardIDOutcome(candidates []domain.Candidate) (match, mismatch bool) {
	lockIDs := map[string]string{
		"sku":  g.lock.SKU,
		"mpn":  g.lock.MPN,
		"gtin": g.lock.GTIN,
	}

	for _, c := range candidates {
		want := lockIDs[c.Field]
		if want == "" || c.Value == "" {
			continue
		}
		if hardIDEqual(want, c.Value) {
			match = true
		} else {
			mismatch = true
		}
	}

	// A matching ID on the same page outweighs a stray mismatching one
	// (retailers often list sibling SKUs in accessory tables).
	if match {
		mismatch = false
	}
	return match, mismatch
}

// hardIDEqual compares identifiers after stripping separators. A lock ID
// that prefixes a fuller catalog ID still counts as the same product.
func hardIDEqual(lockID, observed string) bool {
	a := normalizeID(lockID)
	b := normalizeID(observed)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasPrefix(b, a) || strings.HasPrefix(a, b)
}

func normalizeID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// modelCoverage computes weighted token coverage of the lock's model over
// the page text. Numeric tokens weigh double: they carry the generation
// ("V3", "2") that separates sibling products.
func modelCoverage(model, haystack string) (overlap float64, numericMissing bool) {
	tokens := domain.Tokenize(model)
	if len(tokens) == 0 {
		return 0, false
	}

	pageTokens := make(map[string]struct{})
	for _, t := range domain.Tokenize(haystack) {
		pageTokens[t] = struct{}{}
	}

	var total, covered float64
	for _, token := range tokens {
		weight := 1.0
		numeric := hasDigit(token)
		if numeric {
			weight = 2.0
		}
		total += weight

		if _, ok := pageTokens[token]; ok {
			covered += weight
		} else if numeric {
			numericMissing = true
		}
	}

	return covered / total, numericMissing
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// candidateText joins candidate values for token matching.
func candidateText(candidates []domain.Candidate) string {
	var b strings.Builder
	for _, c := range candidates {
		b.WriteString(c.Value)
		b.WriteByte(' ')
	}
	return b.String()
}

// ConnectionClass maps free text onto the wired/wireless/dual taxonomy.
// Empty when the text names no connection at all.
func ConnectionClass(text string) string {
	t := strings.ToLower(text)

	wireless := strings.Contains(t, "wireless") || strings.Contains(t, "bluetooth") || strings.Contains(t, "2.4ghz") || strings.Contains(t, "2.4 ghz")
	wired := strings.Contains(t, "wired")

	switch {
	case strings.Contains(t, "dual"), wireless && wired:
		return "dual"
	case wireless:
		return "wireless"
	case wired:
		return "wired"
	default:
		return ""
	}
}

// connectionCompatible reports whether two connection classes can describe
// the same product. Dual covers both single classes.
func connectionCompatible(a, b string) bool {
	return a == b || a == "dual" || b == "dual"
}
