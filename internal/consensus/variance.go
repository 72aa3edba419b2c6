package consensus

import (
	"math"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// VarianceOutcome classifies an observed value against a reference.
type VarianceOutcome string

// Variance outcomes.
const (
	OutcomeMatch     VarianceOutcome = "match"
	OutcomePartial   VarianceOutcome = "partial"
	OutcomeViolation VarianceOutcome = "violation"
)

// VarianceResult is the graded comparison of an observed value with the
// component-DB reference.
type VarianceResult struct {
	Outcome VarianceOutcome
	// Score grades the comparison in [0, 1]; 1 is an exact or in-bounds
	// match.
	Score float64
	// NeedsReview marks hard violations for human follow-up.
	NeedsReview bool
}

// rangeTolerance is the ±fraction a range-policy value may drift from the
// reference.
const rangeTolerance = 0.10

// CompareVariance grades observed against reference under a policy.
// override_allowed behaves as authoritative; the user-override path lives
// outside the engine.
func CompareVariance(policy domain.VariancePolicy, observed, reference float64) VarianceResult {
	switch policy {
	case domain.VarianceUpperBound:
		if observed <= reference {
			return VarianceResult{Outcome: OutcomeMatch, Score: 1}
		}
		return VarianceResult{
			Outcome:     OutcomeViolation,
			Score:       safeRatio(reference, observed),
			NeedsReview: true,
		}

	case domain.VarianceLowerBound:
		if observed >= reference {
			return VarianceResult{Outcome: OutcomeMatch, Score: 1}
		}
		return VarianceResult{
			Outcome:     OutcomeViolation,
			Score:       safeRatio(observed, reference),
			NeedsReview: true,
		}

	case domain.VarianceRange:
		drift := relativeDrift(observed, reference)
		if drift <= rangeTolerance {
			return VarianceResult{Outcome: OutcomeMatch, Score: 1}
		}
		return VarianceResult{
			Outcome:     OutcomeViolation,
			Score:       falloff(drift, rangeTolerance),
			NeedsReview: true,
		}

	default: // authoritative, override_allowed
		drift := relativeDrift(observed, reference)
		switch {
		case drift == 0:
			return VarianceResult{Outcome: OutcomeMatch, Score: 1}
		case drift <= 0.05:
			return VarianceResult{Outcome: OutcomePartial, Score: 0.9}
		default:
			return VarianceResult{Outcome: OutcomeViolation, Score: falloff(drift, 0.05)}
		}
	}
}

// relativeDrift is |observed − reference| / |reference|, with a zero
// reference treated as exact-only.
func relativeDrift(observed, reference float64) float64 {
	if reference == 0 {
		if observed == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(observed-reference) / math.Abs(reference)
}

// falloff degrades the score smoothly past the tolerance edge.
func falloff(drift, tolerance float64) float64 {
	if math.IsInf(drift, 1) {
		return 0
	}
	score := 1 - (drift - tolerance)
	if score < 0 {
		return 0
	}
	// Cap below the partial band so violations never outrank partials.
	if score > 0.8 {
		score = 0.8
	}
	return score
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
