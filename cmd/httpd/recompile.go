package httpd

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonesrussell/spechawk/cmd/common"
	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/database"
	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/identity"
)

// recompile replays consensus over the survivor ledger. Survivors already
// passed the identity gate in their original runs, so the replay treats
// identity as confirmed and re-clusters values only.
func recompile(
	ctx context.Context,
	deps *common.Deps,
	harvester *common.Harvester,
	req recompileRequest,
) (map[string]consensus.FieldResult, error) {
	pack := harvester.Pack()
	repo := harvester.Candidates()

	fields := []string{req.Field}
	if req.Field == "" {
		fields = fields[:0]
		for key := range pack.Rules.Fields {
			fields = append(fields, key)
		}
		sort.Strings(fields)
	}

	engine := consensus.NewEngine(deps.Config.ConsensusConfig())
	input := consensus.Input{
		Rules:          pack.Rules,
		Components:     pack.Components,
		IdentityStatus: identity.StatusConfirmed,
	}

	results := make(map[string]consensus.FieldResult, len(fields))
	for _, field := range fields {
		survivors, err := repo.ListByField(ctx, req.ProductID, field)
		if err != nil {
			return nil, fmt.Errorf("list survivors for %s: %w", field, err)
		}

		candidates := make([]domain.Candidate, 0, len(survivors))
		for _, s := range survivors {
			candidates = append(candidates, candidateFromSurvivor(s))
		}
		results[field] = engine.Resolve(input, field, candidates)
	}
	return results, nil
}

// candidateFromSurvivor reverses the persisted form back into a pipeline
// candidate.
func candidateFromSurvivor(s *database.SurvivorCandidate) domain.Candidate {
	return domain.Candidate{
		ID:         s.ID,
		Field:      s.Field,
		Value:      s.Value,
		SourceURL:  s.SourceURL,
		Host:       s.Host,
		RootDomain: s.RootDomain,
		Role:       domain.Role(s.Role),
		Tier:       domain.Tier(s.Tier),
		Method:     domain.Method(s.Method),
		Evidence: domain.Evidence{
			URL:         s.SourceURL,
			Quote:       s.Quote,
			QuoteSpan:   [2]int{s.SpanStart, s.SpanEnd},
			RetrievedAt: s.RetrievedAt,
		},
	}
}
