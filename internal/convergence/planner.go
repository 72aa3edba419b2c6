package convergence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/extract"
	"github.com/jonesrussell/spechawk/internal/frontier"
	"github.com/jonesrussell/spechawk/internal/intel"
	"github.com/jonesrussell/spechawk/internal/llm"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// SearchTier names the escalation level of a round's plan.
type SearchTier string

// Search tiers, cheapest to deepest.
const (
	TierSeeds SearchTier = "tier0"
	Tier1     SearchTier = "tier1"
	Tier2     SearchTier = "tier2"
	Tier3     SearchTier = "tier3"
)

// TierForRound applies the round escalation table.
func TierForRound(round, noProgressRounds int, missingRequiredOrCritical, onlyExpectedMissing bool) SearchTier {
	switch {
	case round == 0:
		return TierSeeds
	case round == 1:
		return Tier1
	case round == 2:
		return Tier2
	case round >= 3 && noProgressRounds >= 2 && missingRequiredOrCritical:
		return Tier3
	default:
		// Round 4+ with only expected fields missing stays at tier2, as
		// does any round the deeper conditions do not select.
		return Tier2
	}
}

// Product is the catalog entry a run targets.
type Product struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Brand    string   `json:"brand"`
	Model    string   `json:"model"`
	Variant  string   `json:"variant,omitempty"`
	SeedURLs []string `json:"seed_urls,omitempty"`
}

// Plan is one round's fetch plan.
type Plan struct {
	Tier    SearchTier
	Queries []string
	Sources []domain.Source
}

// Planner turns the round tier into concrete queries and sources,
// reranking SERP results with frontier penalties and domain intel.
type Planner struct {
	frontier *frontier.Store
	intel    *intel.Store
	search   llm.SearchProvider
	miner    *extract.EndpointMiner
	log      logger.Interface

	// Denied domains are never planned.
	denied map[string]struct{}
	// maxQueries bounds queries dispatched per round.
	maxQueries int
	// resultLimit bounds results requested per query.
	resultLimit int
}

// PlannerConfig configures a planner.
type PlannerConfig struct {
	MaxDispatchQueries int
	ResultLimit        int
	DeniedDomains      []string
}

// NewPlanner creates a planner. The search provider may be nil; planning
// then degrades to seeds and mined endpoints.
func NewPlanner(
	cfg PlannerConfig,
	frontierStore *frontier.Store,
	intelStore *intel.Store,
	search llm.SearchProvider,
	miner *extract.EndpointMiner,
	log logger.Interface,
) *Planner {
	denied := make(map[string]struct{}, len(cfg.DeniedDomains))
	for _, d := range cfg.DeniedDomains {
		denied[strings.ToLower(d)] = struct{}{}
	}

	if cfg.MaxDispatchQueries <= 0 {
		cfg.MaxDispatchQueries = 6
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = 10
	}

	return &Planner{
		frontier:    frontierStore,
		intel:       intelStore,
		search:      search,
		miner:       miner,
		log:         log.WithComponent("planner"),
		denied:      denied,
		maxQueries:  cfg.MaxDispatchQueries,
		resultLimit: cfg.ResultLimit,
	}
}

// Plan builds the round plan for a product at a tier. targetFields names
// the still-missing fields that tier2+ queries chase.
func (p *Planner) Plan(ctx context.Context, product Product, tier SearchTier, targetFields []string) Plan {
	plan := Plan{Tier: tier}

	if tier == TierSeeds {
		for _, seed := range product.SeedURLs {
			plan.Sources = append(plan.Sources, domain.Source{URL: seed})
		}
		return plan
	}

	plan.Queries = p.queries(product, tier, targetFields)
	plan.Sources = p.sourcesFromQueries(ctx, product, plan.Queries)

	// Tier2+ adds endpoint probes learned from earlier rounds.
	if tier != Tier1 && p.miner != nil {
		plan.Sources = append(plan.Sources, p.miner.NextBestURLs(5)...)
	}

	plan.Sources = p.filterSources(plan.Sources)
	return plan
}

// queries renders deterministic query templates for the tier.
func (p *Planner) queries(product Product, tier SearchTier, targetFields []string) []string {
	name := strings.TrimSpace(product.Brand + " " + product.Model)
	if product.Variant != "" {
		name = name + " " + product.Variant
	}

	var queries []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		for _, existing := range queries {
			if existing == q {
				return
			}
		}
		queries = append(queries, q)
	}

	add(name + " specifications")
	add(name + " specs")

	if tier == Tier2 || tier == Tier3 {
		add(name + " review")
		add(name + " technical specifications")
		for _, field := range targetFields {
			add(name + " " + strings.ReplaceAll(field, "_", " "))
		}
	}

	if tier == Tier3 {
		// Deepest pass widens phrasing and locale.
		add(fmt.Sprintf("%q full specifications", name))
		add(name + " datasheet")
		add(name + " spezifikationen")
	}

	if len(queries) > p.maxQueries {
		queries = queries[:p.maxQueries]
	}
	return queries
}

// sourcesFromQueries dispatches non-stale queries and reranks the merged
// results.
func (p *Planner) sourcesFromQueries(ctx context.Context, product Product, queries []string) []domain.Source {
	if p.search == nil {
		return nil
	}

	var merged []llm.SearchResult
	for _, query := range queries {
		if p.frontier != nil && p.frontier.ShouldSkipQuery(product.ID, query, false) {
			continue
		}

		results, err := p.search.Search(ctx, query, p.resultLimit)
		if err != nil {
			p.log.Warn("search query failed", "query", query, "error", err.Error())
			continue
		}

		if p.frontier != nil {
			recorded := make([]domain.QueryResult, 0, len(results))
			for _, r := range results {
				recorded = append(recorded, domain.QueryResult{
					URL: r.URL, Title: r.Title, Snippet: r.Snippet, Host: r.Host, Rank: r.Rank,
				})
			}
			p.frontier.RecordQuery(product.ID, query, "search", nil, recorded)
		}

		merged = append(merged, results...)
	}

	return p.rerank(product.Category, merged)
}

// rerank orders results by SERP rank, frontier standing, and domain intel,
// then deduplicates by canonical URL.
func (p *Planner) rerank(category string, results []llm.SearchResult) []domain.Source {
	type scored struct {
		result llm.SearchResult
		score  float64
	}

	ranked := make([]scored, 0, len(results))
	for _, r := range results {
		score := -0.05 * float64(r.Rank)
		if p.frontier != nil {
			score += p.frontier.RankPenaltyForURL(r.URL)
		}
		if p.intel != nil {
			score += 0.5 * p.intel.PlannerScore(category, rootDomainOf(r.URL))
		}
		ranked = append(ranked, scored{result: r, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].result.URL < ranked[j].result.URL
	})

	seen := make(map[string]struct{}, len(ranked))
	sources := make([]domain.Source, 0, len(ranked))
	for _, s := range ranked {
		key := frontier.MustCanonicalURL(s.result.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, domain.Source{URL: s.result.URL})
	}
	return sources
}

// filterSources drops denied domains and frontier-skipped URLs. A denied
// drop is recorded against the frontier as a synthetic 451 so the block
// shows up in the URL ledger instead of vanishing.
func (p *Planner) filterSources(sources []domain.Source) []domain.Source {
	kept := sources[:0]
	for _, source := range sources {
		root := rootDomainOf(source.URL)
		if _, deny := p.denied[root]; deny {
			p.log.Warn("denied domain dropped from plan", "url", source.URL, "root_domain", root)
			if p.frontier != nil {
				p.frontier.RecordFetch(frontier.FetchObservation{
					URL:       source.URL,
					Status:    http.StatusUnavailableForLegalReasons,
					FetchedAt: time.Now(),
				})
			}
			continue
		}
		if p.frontier != nil {
			if verdict := p.frontier.ShouldSkipURL(source.URL, false); verdict.Skip {
				continue
			}
		}
		kept = append(kept, source)
	}
	return kept
}

// rootDomainOf reduces a URL's host to its registrable-ish root: the last
// two labels. Good enough for the tier map; multi-label TLDs are listed
// explicitly in configuration when they matter.
func rootDomainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return RootDomain(parsed.Hostname())
}

// RootDomain reduces a hostname to its final two labels.
func RootDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
