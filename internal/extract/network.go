package extract

import (
	"encoding/json"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// NetworkExtractor mines the recorder's captured JSON payloads by key
// name similarity against the rule set.
type NetworkExtractor struct{}

// NewNetworkExtractor creates a network payload extractor.
func NewNetworkExtractor() *NetworkExtractor { return &NetworkExtractor{} }

// Name identifies the extractor in logs.
func (e *NetworkExtractor) Name() string { return "network" }

// Extract mines each recorded response. Unknown-class payloads are skipped;
// everything the recorder classified as product-shaped is fair game.
func (e *NetworkExtractor) Extract(page Page, rules *domain.RuleSet) ([]domain.Candidate, error) {
	var candidates []domain.Candidate

	for _, resp := range page.Result.Responses {
		if resp.Class == domain.ClassUnknown || len(resp.Body) == 0 {
			continue
		}

		var root any
		if json.Unmarshal(resp.Body, &root) != nil {
			continue
		}

		mined := mineLeaves(page, rules, flattenJSON(root), domain.MethodNetwork)

		// Evidence points at the payload URL, not the page.
		for i := range mined {
			mined[i].Evidence.URL = resp.URL
		}
		candidates = append(candidates, mined...)
	}

	return candidates, nil
}
