package convergence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/extract"
	"github.com/jonesrussell/spechawk/internal/frontier"
	"github.com/jonesrussell/spechawk/internal/identity"
	"github.com/jonesrussell/spechawk/internal/intel"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/metrics"
	"github.com/jonesrussell/spechawk/internal/robots"
)

// Fetcher is the fetch capability the controller depends on.
type Fetcher interface {
	Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error)
}

// RobotsPolicy gates fetches on robots.txt.
type RobotsPolicy interface {
	CanFetch(ctx context.Context, rawURL, userAgent string) robots.Decision
}

// DirectoryEntry is the credibility classification of one root domain.
type DirectoryEntry struct {
	Role    domain.Role `json:"role"`
	Tier    domain.Tier `json:"tier"`
	Trusted bool        `json:"trusted,omitempty"`
}

// Directory maps root domains to their roles and tiers. Unknown domains
// default to other/unverified.
type Directory struct {
	entries map[string]DirectoryEntry
}

// NewDirectory builds a directory from a tier map.
func NewDirectory(entries map[string]DirectoryEntry) *Directory {
	normalized := make(map[string]DirectoryEntry, len(entries))
	for d, e := range entries {
		normalized[strings.ToLower(d)] = e
	}
	return &Directory{entries: normalized}
}

// Lookup classifies a root domain.
func (d *Directory) Lookup(rootDomain string) DirectoryEntry {
	if d != nil {
		if entry, ok := d.entries[strings.ToLower(rootDomain)]; ok {
			return entry
		}
	}
	return DirectoryEntry{Role: domain.RoleOther, Tier: domain.TierUnverified}
}

// Config tunes the convergence controller.
type Config struct {
	Category    string
	UserAgent   string
	MaxRounds   int
	MaxDuration time.Duration
	// Concurrency caps parallel fetches within a round; per-host spacing
	// is enforced underneath by the fetch service.
	Concurrency int
	// MaxTargetFields bounds how many missing fields tier2+ queries chase.
	MaxTargetFields int
	// NoProgressLimit is how many flat rounds trigger the
	// diminishing-returns stop. Zero means the stop package default.
	NoProgressLimit int
	// LowQualityConfidence marks accepted fields below this confidence as
	// still missing, so later rounds keep chasing stronger evidence.
	LowQualityConfidence float64
	// HighYieldFieldCount is the accepted-field count that marks a source
	// domain high-yield for the diminishing-returns tracker.
	HighYieldFieldCount int
}

func (c Config) normalized() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxTargetFields <= 0 {
		c.MaxTargetFields = 6
	}
	if c.HighYieldFieldCount <= 0 {
		c.HighYieldFieldCount = 2
	}
	if c.UserAgent == "" {
		c.UserAgent = "spechawk/1.0"
	}
	return c
}

// Controller runs the per-product convergence loop.
type Controller struct {
	cfg       Config
	fetcher   Fetcher
	robots    RobotsPolicy
	frontier  *frontier.Store
	intel     *intel.Store
	registry  *extract.Registry
	temporal  *extract.TemporalExtractor
	miner     *extract.EndpointMiner
	engine    *consensus.Engine
	planner   *Planner
	directory *Directory
	metrics   *metrics.Metrics
	log       logger.Interface
	now       func() time.Time
}

// NewController wires the controller.
func NewController(
	cfg Config,
	fetcher Fetcher,
	robotsPolicy RobotsPolicy,
	frontierStore *frontier.Store,
	intelStore *intel.Store,
	registry *extract.Registry,
	miner *extract.EndpointMiner,
	engine *consensus.Engine,
	planner *Planner,
	directory *Directory,
	m *metrics.Metrics,
	log logger.Interface,
) *Controller {
	return &Controller{
		cfg:       cfg.normalized(),
		fetcher:   fetcher,
		robots:    robotsPolicy,
		frontier:  frontierStore,
		intel:     intelStore,
		registry:  registry,
		temporal:  extract.NewTemporalExtractor("release_date"),
		miner:     miner,
		engine:    engine,
		planner:   planner,
		directory: directory,
		metrics:   m,
		log:       log.WithComponent("convergence"),
		now:       time.Now,
	}
}

// RunResult is the full outcome of one product run.
type RunResult struct {
	Summary    domain.RunSummary
	Artifact   domain.SpecArtifact
	Provenance map[string]domain.FieldProvenance
	Lights     map[string]domain.TrafficLight
	Fields     map[string]consensus.FieldResult
	Identity   identity.Report
}

// runState carries accumulators across rounds.
type runState struct {
	candidates []domain.Candidate
	pages      []identity.ScoredPage
	decisions  map[string]identity.Decision
	fetched    map[string]struct{}

	results        map[string]consensus.FieldResult
	identityReport identity.Report

	acceptedFields   map[string]struct{}
	highYieldDomains map[string]struct{}

	noNewFieldsRounds    int
	noNewHighYieldRounds int
	rounds               int
	stopReason           string
}

// Run executes rounds for one product until the stop decision fires.
func (c *Controller) Run(
	ctx context.Context,
	product Product,
	lock domain.IdentityLock,
	rules *domain.RuleSet,
	components *domain.ComponentDB,
) (*RunResult, error) {
	runID := uuid.NewString()
	started := c.now()
	gate := identity.NewGate(lock)

	log := c.log.WithProduct(product.ID).WithRun(runID)
	log.Info("run started", "category", c.cfg.Category, "brand", product.Brand, "model", product.Model)

	state := &runState{
		decisions:        make(map[string]identity.Decision),
		fetched:          make(map[string]struct{}),
		results:          make(map[string]consensus.FieldResult),
		acceptedFields:   make(map[string]struct{}),
		highYieldDomains: make(map[string]struct{}),
		identityReport:   identity.Report{Status: identity.StatusFailed},
	}

	for round := 0; ; round++ {
		if ctx.Err() != nil {
			state.stopReason = StopCancelled
			break
		}

		c.runRound(ctx, round, product, gate, rules, components, state, log)
		state.rounds = round + 1

		missingRequired, missingCritical, _ := c.missingFields(rules, state.results)

		decision := UberStopDecision(StopInput{
			Round:                round,
			MaxRounds:            c.cfg.MaxRounds,
			ElapsedMs:            c.now().Sub(started).Milliseconds(),
			MaxMs:                c.cfg.MaxDuration.Milliseconds(),
			RequiredSatisfied:    len(missingRequired) == 0,
			CriticalSatisfied:    len(missingCritical) == 0,
			NoNewHighYieldRounds: state.noNewHighYieldRounds,
			NoNewFieldsRounds:    state.noNewFieldsRounds,
			NoProgressLimit:      c.cfg.NoProgressLimit,
		})
		if decision.Stop {
			state.stopReason = decision.Reason
			break
		}
	}

	if c.metrics != nil {
		c.metrics.RoundsPerProduct.Observe(float64(state.rounds))
	}
	if saveErr := c.frontier.Save(); saveErr != nil {
		log.Warn("frontier snapshot failed", "error", saveErr.Error())
	}

	result := c.buildResult(product, runID, rules, state)
	log.Info("run finished",
		"rounds", state.rounds,
		"stop_reason", state.stopReason,
		"validated", result.Summary.Validated,
		"identity_status", string(state.identityReport.Status),
	)
	return result, nil
}

// runRound plans, fetches, extracts, gates, and merges one round.
func (c *Controller) runRound(
	ctx context.Context,
	round int,
	product Product,
	gate *identity.Gate,
	rules *domain.RuleSet,
	components *domain.ComponentDB,
	state *runState,
	log logger.Interface,
) {
	missingRequired, missingCritical, missingExpected := c.missingFields(rules, state.results)
	missingReqCrit := len(missingRequired)+len(missingCritical) > 0
	onlyExpected := !missingReqCrit && len(missingExpected) > 0

	noProgress := state.noNewFieldsRounds
	tier := TierForRound(round, noProgress, missingReqCrit, onlyExpected)

	targets := append(append([]string{}, missingCritical...), missingRequired...)
	targets = append(targets, missingExpected...)
	if len(targets) > c.cfg.MaxTargetFields {
		targets = targets[:c.cfg.MaxTargetFields]
	}

	plan := c.planner.Plan(ctx, product, tier, targets)
	log.Debug("round planned", "round", round, "tier", string(tier), "queries", len(plan.Queries), "sources", len(plan.Sources))

	fetched := c.fetchAll(ctx, plan.Sources, state, log)

	acceptedBefore := len(state.acceptedFields)
	highYieldBefore := len(state.highYieldDomains)

	roundObs := make(map[string]*intel.Observation)

	for _, page := range fetched {
		c.processPage(page, product, gate, rules, state, roundObs, log)
	}

	// Merge after every page of the round landed; ordering within the
	// round does not affect the outcome.
	state.identityReport = identity.Reconcile(state.pages)

	references := buildReferences(rules, components, state.candidates)
	in := consensus.Input{
		Rules:          rules,
		Components:     components,
		Decisions:      state.decisions,
		IdentityStatus: state.identityReport.Status,
		References:     references,
		RankWeight:     c.rankWeight,
	}
	state.results = c.engine.ResolveAll(in, state.candidates)

	c.recordOutcomes(rules, state, roundObs)

	if len(state.acceptedFields) > acceptedBefore {
		state.noNewFieldsRounds = 0
	} else {
		state.noNewFieldsRounds++
	}
	if len(state.highYieldDomains) > highYieldBefore {
		state.noNewHighYieldRounds = 0
	} else {
		state.noNewHighYieldRounds++
	}
}

// fetchedPage pairs a fetch result with its source.
type fetchedPage struct {
	source domain.Source
	result *domain.FetchResult
}

// fetchAll runs the round's fetches concurrently under the global cap.
// Robots-blocked sources are recorded, never fetched.
func (c *Controller) fetchAll(ctx context.Context, sources []domain.Source, state *runState, log logger.Interface) []fetchedPage {
	var (
		mu      sync.Mutex
		fetched []fetchedPage
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.Concurrency)

	for _, source := range sources {
		canonical := frontier.MustCanonicalURL(source.URL)

		mu.Lock()
		_, dup := state.fetched[canonical]
		if !dup {
			state.fetched[canonical] = struct{}{}
		}
		mu.Unlock()
		if dup {
			continue
		}

		group.Go(func() error {
			if decision := c.robots.CanFetch(groupCtx, source.URL, c.cfg.UserAgent); !decision.Allowed {
				c.frontier.RecordFetch(frontier.FetchObservation{
					URL:             source.URL,
					BlockedByRobots: true,
					FetchedAt:       c.now(),
				})
				if c.metrics != nil {
					c.metrics.FrontierSkips.WithLabelValues("robots_disallowed").Inc()
				}
				return nil
			}

			result, err := c.fetcher.Fetch(groupCtx, source)
			if err != nil {
				log.Debug("fetch failed", "url", source.URL, "error", err.Error())
				return nil
			}

			c.frontier.RecordFetch(frontier.FetchObservation{
				URL:         result.URL,
				FinalURL:    result.FinalURL,
				Status:      result.Status,
				ContentHash: contentHash(result.Body),
				FetchedAt:   result.FetchedAt,
			})

			mu.Lock()
			fetched = append(fetched, fetchedPage{source: source, result: result})
			mu.Unlock()
			return nil
		})
	}

	_ = group.Wait()
	return fetched
}

// processPage extracts, gates, and accumulates one fetched page.
func (c *Controller) processPage(
	page fetchedPage,
	product Product,
	gate *identity.Gate,
	rules *domain.RuleSet,
	state *runState,
	roundObs map[string]*intel.Observation,
	log logger.Interface,
) {
	host := hostname(page.result.FinalURL)
	if host == "" {
		host = hostname(page.result.URL)
	}
	root := RootDomain(host)
	entry := c.directory.Lookup(root)

	obs, ok := roundObs[root]
	if !ok {
		obs = &intel.Observation{
			Category:  c.cfg.Category,
			Domain:    root,
			Brand:     product.Brand,
			ProductID: product.ID,
		}
		roundObs[root] = obs
	}
	obs.HTTPOK = obs.HTTPOK || page.result.OK()

	// Dead and blocked pages never reach extraction.
	if !page.result.ShouldExtract() {
		return
	}

	ep := extract.Page{
		Result:     page.result,
		Host:       host,
		RootDomain: root,
		Role:       entry.Role,
		Tier:       entry.Tier,
	}

	candidates := c.registry.ExtractAll(ep, rules)
	if temporalCandidates, err := c.temporal.Extract(ep, rules); err == nil {
		candidates = append(candidates, temporalCandidates...)
	}

	if c.miner != nil {
		c.miner.Observe(root, page.result.Responses)
	}

	verdict := gate.Score(identity.Page{
		URL:        page.result.FinalURL,
		Title:      pageTitle(page.result.Body),
		Candidates: candidates,
	})

	if c.metrics != nil {
		c.metrics.IdentityDecisions.WithLabelValues(string(verdict.Decision)).Inc()
	}

	// The decision is keyed by the candidates' source URL so the engine's
	// admissibility check lines up.
	state.decisions[page.result.URL] = verdict.Decision
	state.decisions[page.result.FinalURL] = verdict.Decision

	obs.IdentityMatch = obs.IdentityMatch || verdict.Decision == identity.DecisionConfirmed
	obs.AnchorConflict = obs.AnchorConflict || len(verdict.CriticalConflicts) > 0

	state.pages = append(state.pages, identity.ScoredPage{
		Verdict:       verdict,
		RootDomain:    root,
		Role:          entry.Role,
		Tier:          entry.Tier,
		TrustedHelper: entry.Trusted,
		Candidates:    candidates,
	})

	if verdict.Decision.Admissible() && !page.source.DiscoveryOnly {
		state.candidates = append(state.candidates, candidates...)
		obs.FieldsContributed += len(candidates)
	} else if verdict.Decision.Admissible() {
		// Discovery-only sources are mined for endpoints and URLs but
		// their candidates stay out of consensus.
		log.Debug("discovery-only page mined", "url", page.result.URL, "candidates", len(candidates))
	}
}

// recordOutcomes propagates consensus results into the frontier, intel,
// and the run's progress trackers.
func (c *Controller) recordOutcomes(
	rules *domain.RuleSet,
	state *runState,
	roundObs map[string]*intel.Observation,
) {
	domainAccepted := make(map[string]int)
	domainCritical := make(map[string]int)
	domainRewards := make(map[string]map[string]float64)

	for field, result := range state.results {
		if c.metrics != nil {
			c.metrics.FieldOutcomes.WithLabelValues(string(result.Status)).Inc()
		}

		if result.Status != consensus.StatusAccepted {
			continue
		}

		if _, seen := state.acceptedFields[field]; !seen {
			state.acceptedFields[field] = struct{}{}
		}

		rule, _ := rules.Rule(field)
		conflict := result.ConflictCount > 0

		for _, ev := range result.Evidence {
			c.frontier.RecordYield(ev.URL, field, result.Value, result.Confidence, conflict)

			root := RootDomain(hostname(ev.URL))
			domainAccepted[root]++
			if rule.Critical {
				domainCritical[root]++
			}
			rewards, ok := domainRewards[root]
			if !ok {
				rewards = make(map[string]float64)
				domainRewards[root] = rewards
			}
			rewards[field] = result.Confidence
		}
	}

	for root, obs := range roundObs {
		obs.FieldsAccepted = domainAccepted[root]
		obs.CriticalFieldsAccepted = domainCritical[root]
		obs.FieldRewards = domainRewards[root]
		c.intel.Record(*obs)

		if domainAccepted[root] >= c.cfg.HighYieldFieldCount {
			state.highYieldDomains[root] = struct{}{}
		}
	}
}

// missingFields splits the schema into still-unaccepted required,
// critical, and expected keys.
func (c *Controller) missingFields(rules *domain.RuleSet, results map[string]consensus.FieldResult) (required, critical, expected []string) {
	accepted := func(key string) bool {
		r, ok := results[key]
		if !ok || r.Status != consensus.StatusAccepted {
			return false
		}
		return r.Confidence >= c.cfg.LowQualityConfidence
	}

	for _, key := range rules.RequiredKeys() {
		if !accepted(key) {
			required = append(required, key)
		}
	}
	for _, key := range rules.CriticalKeys() {
		if !accepted(key) {
			critical = append(critical, key)
		}
	}
	for _, key := range rules.ExpectedKeys() {
		if !accepted(key) {
			expected = append(expected, key)
		}
	}

	// Stable order so query targets are deterministic across runs.
	sort.Strings(required)
	sort.Strings(critical)
	sort.Strings(expected)
	return required, critical, expected
}

// rankWeight converts the frontier's additive penalty into a multiplier
// for consensus raw weights.
func (c *Controller) rankWeight(rawURL string) float64 {
	penalty := c.frontier.RankPenaltyForURL(rawURL)
	weight := 1 + penalty/2
	if weight < 0.25 {
		return 0.25
	}
	if weight > 1.25 {
		return 1.25
	}
	return weight
}

// buildReferences resolves component_ref candidates against the component
// DB and anchors numeric fields to the component's reference properties.
func buildReferences(rules *domain.RuleSet, components *domain.ComponentDB, candidates []domain.Candidate) map[string]consensus.Reference {
	if components == nil {
		return nil
	}

	references := make(map[string]consensus.Reference)

	for key, rule := range rules.Fields {
		if rule.Type != domain.FieldTypeComponentRef {
			continue
		}

		for _, c := range candidates {
			if c.Field != key {
				continue
			}
			entry, ok := components.Resolve(key, c.Value)
			if !ok {
				continue
			}

			for prop, raw := range entry.Properties {
				value, numeric := raw.(float64)
				if !numeric {
					if i, isInt := raw.(int); isInt {
						value, numeric = float64(i), true
					}
				}
				if !numeric {
					continue
				}

				if field := matchPropertyToField(rules, prop); field != "" {
					references[field] = consensus.Reference{
						Value:  value,
						Policy: entry.VarianceFor(prop),
					}
				}
			}
			break
		}
	}

	return references
}

// matchPropertyToField maps a component property name onto a schema field
// by key or alias.
func matchPropertyToField(rules *domain.RuleSet, property string) string {
	needle := normalizeToken(property)
	for key, rule := range rules.Fields {
		if normalizeToken(key) == needle {
			return key
		}
		for _, alias := range rule.Aliases {
			if normalizeToken(alias) == needle {
				return key
			}
		}
	}
	return ""
}

func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// pageTitle pulls the document title without a full parse.
func pageTitle(body []byte) string {
	m := titlePattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(string(m[1])), " ")
}

func hostname(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func contentHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
