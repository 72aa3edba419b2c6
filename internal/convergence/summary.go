package convergence

import (
	"sort"

	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/identity"
)

// buildResult assembles the run summary, spec artifact, provenance, and
// traffic lights from the final round's state.
func (c *Controller) buildResult(product Product, runID string, rules *domain.RuleSet, state *runState) *RunResult {
	missingRequired, missingCritical, missingExpected := c.missingFields(rules, state.results)

	lights := make(map[string]domain.TrafficLight, len(state.results))
	provenance := make(map[string]domain.FieldProvenance)
	artifact := domain.SpecArtifact{
		ProductID:  product.ID,
		Fields:     make(map[string]string),
		Units:      make(map[string]string),
		Confidence: make(map[string]float64),
	}

	var (
		acceptedCount      int
		confidenceSum      float64
		criticalBelowPass  []string
		identityConfidence = identity.ConfidenceCap(state.identityReport.Status)
	)

	for field, result := range state.results {
		lights[field] = trafficLight(result)

		if result.Status == consensus.StatusAccepted || result.Status == consensus.StatusFlagged {
			provenance[field] = c.fieldProvenance(field, result, state)
		}

		if result.Status == consensus.StatusAccepted {
			acceptedCount++
			confidenceSum += result.Confidence

			artifact.Fields[field] = result.Value
			if result.Unit != "" {
				artifact.Units[field] = result.Unit
			}
			artifact.Confidence[field] = result.Confidence
		}

		if rule, ok := rules.Rule(field); ok && rule.Critical {
			belowPass := result.Status != consensus.StatusAccepted
			if prov, ok := provenance[field]; ok && !prov.MeetsPassTarget {
				belowPass = true
			}
			if belowPass {
				criticalBelowPass = append(criticalBelowPass, field)
			}
		}
	}
	sort.Strings(criticalBelowPass)

	requiredTotal := len(rules.RequiredKeys())
	requiredPercent := 100.0
	if requiredTotal > 0 {
		requiredPercent = 100 * float64(requiredTotal-len(missingRequired)) / float64(requiredTotal)
	}

	overallPercent := 0.0
	if len(rules.Fields) > 0 {
		overallPercent = 100 * float64(acceptedCount) / float64(len(rules.Fields))
	}

	confidence := 0.0
	if acceptedCount > 0 {
		confidence = confidenceSum / float64(acceptedCount)
		if confidence > identityConfidence {
			confidence = identityConfidence
		}
	}

	validated := true
	reason := ""
	switch {
	case state.identityReport.Status == identity.StatusFailed || state.identityReport.Status == identity.StatusConflict:
		validated = false
		reason = domain.ReasonIdentityFailed
	case len(missingRequired) > 0 || len(missingCritical) > 0:
		validated = false
		reason = domain.ReasonBelowRequiredCompleteness
	}

	summary := domain.RunSummary{
		ProductID:                   product.ID,
		RunID:                       runID,
		Validated:                   validated,
		ValidatedReason:             reason,
		Confidence:                  confidence,
		CompletenessRequiredPercent: requiredPercent,
		CoverageOverallPercent:      overallPercent,
		CriticalBelowPassTarget:     criticalBelowPass,
		MissingRequiredFields:       missingRequired,
		MissingExpectedFields:       missingExpected,
		Rounds:                      state.rounds,
		StopReason:                  state.stopReason,
		FinishedAt:                  c.now(),
	}

	return &RunResult{
		Summary:    summary,
		Artifact:   artifact,
		Provenance: provenance,
		Lights:     lights,
		Fields:     state.results,
		Identity:   state.identityReport,
	}
}

// trafficLight maps a field result onto the review surface: accepted is
// green, flagged is yellow, unresolved with competing clusters or a
// variance violation is red, unresolved without candidates is gray.
func trafficLight(result consensus.FieldResult) domain.TrafficLight {
	light := domain.TrafficLight{ReasonCodes: result.ReasonCodes}

	switch result.Status {
	case consensus.StatusAccepted:
		light.Color = domain.ColorGreen
		light.Status = domain.FieldAccepted
	case consensus.StatusFlagged:
		light.Color = domain.ColorYellow
		light.Status = domain.FieldFlagged
	default:
		light.Status = domain.FieldUnresolved
		if result.ConflictCount > 0 || result.NeedsAIReview {
			light.Color = domain.ColorRed
		} else {
			light.Color = domain.ColorGray
		}
	}
	return light
}

// fieldProvenance renders the evidence chain for one resolved field,
// recovering tier and method from the contributing candidates. Approved
// confirmations count only evidence from directory-trusted root domains,
// and the pass target is judged against that count.
func (c *Controller) fieldProvenance(field string, result consensus.FieldResult, state *runState) domain.FieldProvenance {
	refs := make([]domain.EvidenceRef, 0, len(result.Evidence))
	approved := 0

	for _, ev := range result.Evidence {
		ref := domain.EvidenceRef{
			URL:         ev.URL,
			Quote:       ev.Quote,
			QuoteSpan:   ev.QuoteSpan,
			RetrievedAt: ev.RetrievedAt,
		}

		if cand := findCandidate(state.candidates, field, ev); cand != nil {
			ref.Host = cand.Host
			ref.RootDomain = cand.RootDomain
			ref.Tier = cand.Tier
			ref.Method = cand.Method
		} else {
			ref.Host = hostname(ev.URL)
			ref.RootDomain = RootDomain(ref.Host)
		}

		if c.directory.Lookup(ref.RootDomain).Trusted {
			approved++
		}

		refs = append(refs, ref)
	}

	return domain.FieldProvenance{
		Value:                 result.Value,
		Confirmations:         result.Confirmations,
		ApprovedConfirmations: approved,
		PassTarget:            result.PassTarget,
		MeetsPassTarget:       approved >= result.PassTarget,
		Confidence:            result.Confidence,
		NeedsAIReview:         result.NeedsAIReview,
		Evidence:              refs,
	}
}

// findCandidate locates the candidate whose evidence backs an evidence ref.
func findCandidate(candidates []domain.Candidate, field string, ev domain.Evidence) *domain.Candidate {
	for i := range candidates {
		cand := &candidates[i]
		if cand.Field != field {
			continue
		}
		if cand.Evidence.URL == ev.URL && cand.Evidence.QuoteSpan == ev.QuoteSpan {
			return cand
		}
	}
	return nil
}
