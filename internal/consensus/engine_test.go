package consensus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/identity"
)

func engineRules() *domain.RuleSet {
	return &domain.RuleSet{
		Category: "gaming-mice",
		Fields: map[string]domain.FieldRule{
			"weight": {
				Key: "weight", Type: domain.FieldTypeInteger,
				CanonicalUnit: "g", Required: true,
			},
			"max_dpi": {
				Key: "max_dpi", Type: domain.FieldTypeInteger,
				Critical: true,
			},
			"connection": {
				Key: "connection", Type: domain.FieldTypeEnum,
				EnumValues: []string{"wired", "wireless", "dual"},
			},
			"sensor": {
				Key: "sensor", Type: domain.FieldTypeComponentRef,
			},
		},
	}
}

func mfgCandidate(id, field, value, url string) domain.Candidate {
	return domain.Candidate{
		ID: id, Field: field, Value: value, SourceURL: url,
		Host: "www.razer.com", RootDomain: "razer.com",
		Role: domain.RoleManufacturer, Tier: domain.TierManufacturer,
		Method: domain.MethodDOMTable,
	}
}

func labCandidate(id, field, value, url string) domain.Candidate {
	return domain.Candidate{
		ID: id, Field: field, Value: value, SourceURL: url,
		Host: "www.rtings.com", RootDomain: "rtings.com",
		Role: domain.RoleLabReview, Tier: domain.TierLab,
		Method: domain.MethodDOMTable,
	}
}

func confirmedInput() consensus.Input {
	return consensus.Input{
		Rules:          engineRules(),
		IdentityStatus: identity.StatusConfirmed,
		Decisions: map[string]identity.Decision{
			"https://razer.com/p":  identity.DecisionConfirmed,
			"https://rtings.com/r": identity.DecisionConfirmed,
			"https://blog.example.com/x": identity.DecisionWarning,
		},
	}
}

func TestEngine_CrossUnitValuesCluster(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	result := engine.Resolve(confirmedInput(), "weight", []domain.Candidate{
		mfgCandidate("a", "weight", "54 g", "https://razer.com/p"),
		labCandidate("b", "weight", "1.9 oz", "https://rtings.com/r"),
	})

	assert.Equal(t, "54", result.Value)
	assert.Equal(t, "g", result.Unit)
	assert.Equal(t, 2, result.Confirmations)
	assert.Zero(t, result.ConflictCount, "54 g and 1.9 oz round to the same gram value")
	assert.Equal(t, consensus.StatusAccepted, result.Status)
}

func TestEngine_UpperBoundSensorDPIAccepted(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	in.References = map[string]consensus.Reference{
		"max_dpi": {Value: 18000, Policy: domain.VarianceUpperBound},
	}

	result := engine.Resolve(in, "max_dpi", []domain.Candidate{
		mfgCandidate("a", "max_dpi", "16000", "https://razer.com/p"),
	})

	assert.Equal(t, "16000", result.Value)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Equal(t, consensus.StatusAccepted, result.Status)
	assert.False(t, result.NeedsAIReview)
}

func TestEngine_UpperBoundViolationNeedsReview(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	in.References = map[string]consensus.Reference{
		"max_dpi": {Value: 18000, Policy: domain.VarianceUpperBound},
	}

	result := engine.Resolve(in, "max_dpi", []domain.Candidate{
		mfgCandidate("a", "max_dpi", "26000", "https://razer.com/p"),
	})

	assert.True(t, result.NeedsAIReview)
	assert.Contains(t, result.ReasonCodes, "variance_violation")
	assert.NotEqual(t, consensus.StatusAccepted, result.Status)
}

func TestEngine_ConnectionEnumSingleWinner(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	in.Decisions["https://techpowerup.com/t"] = identity.DecisionConfirmed

	result := engine.Resolve(in, "connection", []domain.Candidate{
		mfgCandidate("a", "connection", "dual", "https://razer.com/p"),
		labCandidate("b", "connection", "Wired", "https://rtings.com/r"),
		{
			ID: "c", Field: "connection", Value: "Wireless (HyperSpeed)",
			SourceURL: "https://techpowerup.com/t",
			Role:      domain.RoleLabReview, Tier: domain.TierLab,
			Method: domain.MethodDOMTable,
		},
	})

	assert.Equal(t, "dual", result.Value, "highest-weight cluster wins")
	assert.Equal(t, 2, result.ConflictCount)
}

func TestEngine_ComponentAliasesCluster(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	in.Components = &domain.ComponentDB{
		Entries: map[string][]domain.ComponentEntry{
			"sensor": {{
				ComponentType: "sensor",
				CanonicalName: "PixArt PMW3389",
				Aliases:       []string{"PMW3389", "PMW-3389"},
			}},
		},
	}

	result := engine.Resolve(in, "sensor", []domain.Candidate{
		mfgCandidate("a", "sensor", "PMW3389", "https://razer.com/p"),
		labCandidate("b", "sensor", "PixArt PMW3389", "https://rtings.com/r"),
	})

	assert.Equal(t, "PixArt PMW3389", result.Value)
	assert.Zero(t, result.ConflictCount)
	assert.Equal(t, 2, result.Confirmations)
}

func TestEngine_WarningOnlyClusterCannotAutoAccept(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	result := engine.Resolve(in, "weight", []domain.Candidate{
		{
			ID: "a", Field: "weight", Value: "54 g",
			SourceURL: "https://blog.example.com/x",
			Role:      domain.RoleManufacturer, Tier: domain.TierManufacturer,
			Method: domain.MethodDOMTable,
		},
	})

	assert.NotEqual(t, consensus.StatusAccepted, result.Status)
	assert.Equal(t, consensus.StatusFlagged, result.Status)
}

func TestEngine_RejectedPagesAreExcluded(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	in.Decisions["https://wrong.example.com/p"] = identity.DecisionRejected

	result := engine.Resolve(in, "weight", []domain.Candidate{
		{
			ID: "a", Field: "weight", Value: "99 g",
			SourceURL: "https://wrong.example.com/p",
			Role:      domain.RoleRetail, Tier: domain.TierRetail,
			Method: domain.MethodDOMTable,
		},
	})

	assert.Equal(t, consensus.StatusUnresolved, result.Status)
	assert.Contains(t, result.ReasonCodes, "not_found_after_search")
	assert.Empty(t, result.Value)
}

func TestEngine_IdentityStatusCapsConfidence(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	in := confirmedInput()
	in.IdentityStatus = identity.StatusConflict

	result := engine.Resolve(in, "weight", []domain.Candidate{
		mfgCandidate("a", "weight", "54 g", "https://razer.com/p"),
		labCandidate("b", "weight", "54 g", "https://rtings.com/r"),
	})

	assert.LessOrEqual(t, result.Confidence, 0.50)
	assert.NotEqual(t, consensus.StatusAccepted, result.Status)
}

func TestEngine_ResolveAllReportsMissingFields(t *testing.T) {
	engine := consensus.NewEngine(consensus.Config{})

	results := engine.ResolveAll(confirmedInput(), []domain.Candidate{
		mfgCandidate("a", "weight", "54 g", "https://razer.com/p"),
	})

	require.Contains(t, results, "max_dpi")
	assert.Equal(t, consensus.StatusUnresolved, results["max_dpi"].Status)
	assert.Contains(t, results["max_dpi"].ReasonCodes, "not_found_after_search")

	assert.Equal(t, consensus.StatusAccepted, results["weight"].Status)
}
