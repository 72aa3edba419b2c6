package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// RouterSearch adapts a Router into a SearchProvider. The search call is
// non-essential: budget blocks and full degradation surface as errors the
// planner logs and continues past.
type RouterSearch struct {
	router  Router
	costUSD float64
}

// NewRouterSearch wraps a router. estimatedCostUSD is charged against the
// budget per query.
func NewRouterSearch(router Router, estimatedCostUSD float64) *RouterSearch {
	return &RouterSearch{router: router, costUSD: estimatedCostUSD}
}

// Search issues one web search through the router and decodes the SERP.
func (s *RouterSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	raw, err := s.router.Call(ctx, Request{
		Role: RolePlan,
		User: query,
		Context: map[string]any{
			"query": query,
			"limit": limit,
		},
		EstimatedCostUSD: s.costUSD,
	})
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	if unmarshalErr := json.Unmarshal(raw, &results); unmarshalErr != nil {
		return nil, fmt.Errorf("llm: decode search results: %w", unmarshalErr)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
