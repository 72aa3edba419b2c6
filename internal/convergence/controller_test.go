package convergence_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/convergence"
	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/extract"
	"github.com/jonesrussell/spechawk/internal/frontier"
	"github.com/jonesrussell/spechawk/internal/identity"
	"github.com/jonesrussell/spechawk/internal/intel"
	"github.com/jonesrussell/spechawk/internal/llm"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/robots"
)

const (
	seedURL = "https://www.razer.com/gaming-mice/razer-viper-v3-pro"
	labURL  = "https://www.rtings.com/mouse/reviews/razer/viper-v3-pro"
	dbURL   = "https://www.techpowerup.com/review/razer-viper-v3-pro"
)

// fakeFetcher serves canned results by source URL; unknown URLs 404.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*domain.FetchResult
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, source domain.Source) (*domain.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, source.URL)
	if result, ok := f.pages[source.URL]; ok {
		return result, nil
	}
	return &domain.FetchResult{
		URL: source.URL, FinalURL: source.URL, Status: 404, FetchedAt: time.Now(),
	}, nil
}

type allowAllRobots struct{}

func (allowAllRobots) CanFetch(context.Context, string, string) robots.Decision {
	return robots.Decision{Allowed: true, Reason: "allowed"}
}

func harvestRules() *domain.RuleSet {
	return &domain.RuleSet{
		Category: "gaming_mice",
		Fields: map[string]domain.FieldRule{
			"weight": {
				Key: "weight", Type: domain.FieldTypeNumber,
				Unit: "g", CanonicalUnit: "g",
				Required: true, Critical: true,
			},
			"max_dpi": {
				Key: "max_dpi", Type: domain.FieldTypeInteger,
				CanonicalUnit: "dpi", Aliases: []string{"Max DPI"},
				Required: true,
			},
			"connection": {
				Key: "connection", Type: domain.FieldTypeEnum,
				EnumValues: []string{"wired", "wireless", "dual"},
				Expected:   true,
			},
			"sku": {
				Key: "sku", Type: domain.FieldTypeString,
				Aliases: []string{"SKU"},
			},
		},
	}
}

func viperLock() domain.IdentityLock {
	return domain.IdentityLock{
		ProductID: "mouse-viper-v3-pro",
		Brand:     "Razer",
		Model:     "Viper V3 Pro",
		SKU:       "RZ01-05120100",
		Ambiguity: domain.AmbiguityEasy,
	}
}

func specPage(url, title string, rows [][2]string) *domain.FetchResult {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><table>")
	for _, row := range rows {
		b.WriteString("<tr><th>" + row[0] + "</th><td>" + row[1] + "</td></tr>")
	}
	b.WriteString("</table></body></html>")

	body := []byte(b.String())
	return &domain.FetchResult{
		URL:         url,
		FinalURL:    url,
		Status:      200,
		ContentType: "text/html",
		Body:        body,
		Bytes:       len(body),
		FetchedAt:   time.Now(),
	}
}

func newTestController(fetcher *fakeFetcher, search llm.SearchProvider) *convergence.Controller {
	log := logger.NewNoOp()
	store := frontier.NewStore("gaming_mice", frontier.CooldownPolicy{}, log)
	intelStore := intel.NewStore("")
	miner := extract.NewEndpointMiner()

	planner := convergence.NewPlanner(convergence.PlannerConfig{}, store, intelStore, search, miner, log)

	directory := convergence.NewDirectory(map[string]convergence.DirectoryEntry{
		"razer.com":       {Role: domain.RoleManufacturer, Tier: domain.TierManufacturer, Trusted: true},
		"rtings.com":      {Role: domain.RoleLabReview, Tier: domain.TierLab, Trusted: true},
		"techpowerup.com": {Role: domain.RoleDatabase, Tier: domain.TierLab, Trusted: true},
	})

	return convergence.NewController(
		convergence.Config{Category: "gaming_mice", Concurrency: 2},
		fetcher,
		allowAllRobots{},
		store,
		intelStore,
		extract.DefaultRegistry(log),
		miner,
		consensus.NewEngine(consensus.DefaultConfig()),
		planner,
		directory,
		nil,
		log,
	)
}

func fullSpecRows(skuValue string) [][2]string {
	return [][2]string{
		{"Weight", "54 g"},
		{"Max DPI", "35000 DPI"},
		{"Connection", "Wireless"},
		{"SKU", skuValue},
	}
}

func TestController_ConvergesOnCorroboratedSpecs(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*domain.FetchResult{
		seedURL: specPage(seedURL, "Razer Viper V3 Pro Specifications | Razer", fullSpecRows("RZ01-05120100")),
		labURL:  specPage(labURL, "Razer Viper V3 Pro Review", fullSpecRows("RZ01-05120100")),
		dbURL:   specPage(dbURL, "Razer Viper V3 Pro Specs Database", fullSpecRows("RZ01-05120100")),
	}}
	search := &fakeSearch{results: []llm.SearchResult{
		{Rank: 1, URL: labURL},
		{Rank: 2, URL: dbURL},
	}}

	controller := newTestController(fetcher, search)

	result, err := controller.Run(context.Background(), testProduct(), viperLock(), harvestRules(), nil)
	require.NoError(t, err)

	assert.Equal(t, identity.StatusConfirmed, result.Identity.Status)

	summary := result.Summary
	assert.True(t, summary.Validated)
	assert.Empty(t, summary.ValidatedReason)
	assert.Equal(t, convergence.StopComplete, summary.StopReason)
	assert.Equal(t, 2, summary.Rounds)
	assert.InDelta(t, 100.0, summary.CompletenessRequiredPercent, 0.001)
	assert.Empty(t, summary.MissingRequiredFields)

	assert.Equal(t, "54", result.Artifact.Fields["weight"])
	assert.Equal(t, "g", result.Artifact.Units["weight"])
	assert.Equal(t, "35000", result.Artifact.Fields["max_dpi"])
	assert.Equal(t, "wireless", result.Artifact.Fields["connection"])

	assert.Equal(t, domain.ColorGreen, result.Lights["weight"].Color)
	assert.Equal(t, domain.ColorGreen, result.Lights["max_dpi"].Color)

	weight := result.Provenance["weight"]
	assert.True(t, weight.MeetsPassTarget)
	assert.Equal(t, weight.Confirmations, weight.ApprovedConfirmations, "every confirming domain is on the trusted list")
	assert.GreaterOrEqual(t, len(weight.Evidence), 2, "corroborated by more than one source")
	assert.Equal(t, domain.TierManufacturer, weight.Evidence[0].Tier)
}

func TestController_UntrustedConfirmationsDoNotCountTowardPassTarget(t *testing.T) {
	// The manufacturer page and a lab the directory lists without trusting
	// agree on every field. Only the trusted confirmation is approved, so a
	// pass target of two stays unmet even with two confirmations.
	fetcher := &fakeFetcher{pages: map[string]*domain.FetchResult{
		seedURL: specPage(seedURL, "Razer Viper V3 Pro Specifications | Razer", fullSpecRows("RZ01-05120100")),
		labURL:  specPage(labURL, "Razer Viper V3 Pro Review", fullSpecRows("RZ01-05120100")),
	}}
	search := &fakeSearch{results: []llm.SearchResult{
		{Rank: 1, URL: labURL},
	}}

	rules := harvestRules()
	weightRule := rules.Fields["weight"]
	weightRule.PassTarget = 2
	rules.Fields["weight"] = weightRule

	log := logger.NewNoOp()
	store := frontier.NewStore("gaming_mice", frontier.CooldownPolicy{}, log)
	intelStore := intel.NewStore("")
	planner := convergence.NewPlanner(convergence.PlannerConfig{}, store, intelStore, search, nil, log)

	directory := convergence.NewDirectory(map[string]convergence.DirectoryEntry{
		"razer.com":  {Role: domain.RoleManufacturer, Tier: domain.TierManufacturer, Trusted: true},
		"rtings.com": {Role: domain.RoleLabReview, Tier: domain.TierLab},
	})

	controller := convergence.NewController(
		convergence.Config{Category: "gaming_mice", Concurrency: 2},
		fetcher,
		allowAllRobots{},
		store,
		intelStore,
		extract.DefaultRegistry(log),
		nil,
		consensus.NewEngine(consensus.DefaultConfig()),
		planner,
		directory,
		nil,
		log,
	)

	result, err := controller.Run(context.Background(), testProduct(), viperLock(), rules, nil)
	require.NoError(t, err)

	weight := result.Provenance["weight"]
	assert.Equal(t, 2, weight.Confirmations)
	assert.Equal(t, 1, weight.ApprovedConfirmations, "the lab entry is not on the trusted list")
	assert.Equal(t, 2, weight.PassTarget)
	assert.False(t, weight.MeetsPassTarget)
	assert.Contains(t, result.Summary.CriticalBelowPassTarget, "weight")
}

func TestController_NoSourcesFailsIdentity(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*domain.FetchResult{}}
	search := &fakeSearch{}

	controller := newTestController(fetcher, search)

	product := testProduct()
	product.SeedURLs = nil

	result, err := controller.Run(context.Background(), product, viperLock(), harvestRules(), nil)
	require.NoError(t, err)

	summary := result.Summary
	assert.False(t, summary.Validated)
	assert.Equal(t, domain.ReasonIdentityFailed, summary.ValidatedReason)
	assert.Equal(t, convergence.StopDiminishingReturns, summary.StopReason)
	assert.Zero(t, summary.CoverageOverallPercent)
	assert.Contains(t, summary.MissingRequiredFields, "weight")
	assert.Contains(t, summary.MissingRequiredFields, "max_dpi")

	assert.Equal(t, domain.ColorGray, result.Lights["weight"].Color)
	assert.Equal(t, domain.FieldUnresolved, result.Lights["weight"].Status)
}

func TestController_MissingRequiredFieldBlocksValidation(t *testing.T) {
	// Every page omits Max DPI, so the run converges on the rest but can
	// never satisfy required completeness.
	rows := [][2]string{
		{"Weight", "54 g"},
		{"Connection", "Wireless"},
		{"SKU", "RZ01-05120100"},
	}
	fetcher := &fakeFetcher{pages: map[string]*domain.FetchResult{
		seedURL: specPage(seedURL, "Razer Viper V3 Pro Specifications | Razer", rows),
		labURL:  specPage(labURL, "Razer Viper V3 Pro Review", rows),
		dbURL:   specPage(dbURL, "Razer Viper V3 Pro Specs Database", rows),
	}}
	search := &fakeSearch{results: []llm.SearchResult{
		{Rank: 1, URL: labURL},
		{Rank: 2, URL: dbURL},
	}}

	controller := newTestController(fetcher, search)

	result, err := controller.Run(context.Background(), testProduct(), viperLock(), harvestRules(), nil)
	require.NoError(t, err)

	assert.Equal(t, identity.StatusConfirmed, result.Identity.Status)

	summary := result.Summary
	assert.False(t, summary.Validated)
	assert.Equal(t, domain.ReasonBelowRequiredCompleteness, summary.ValidatedReason)
	assert.Equal(t, []string{"max_dpi"}, summary.MissingRequiredFields)
	assert.Equal(t, convergence.StopDiminishingReturns, summary.StopReason)

	assert.Equal(t, "54", result.Artifact.Fields["weight"])
	assert.Equal(t, domain.ColorGreen, result.Lights["weight"].Color)
	assert.Equal(t, domain.ColorGray, result.Lights["max_dpi"].Color)
}

func TestController_RobotsBlockedSourcesAreNeverFetched(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*domain.FetchResult{
		seedURL: specPage(seedURL, "Razer Viper V3 Pro Specifications | Razer", fullSpecRows("RZ01-05120100")),
	}}

	log := logger.NewNoOp()
	store := frontier.NewStore("gaming_mice", frontier.CooldownPolicy{}, log)
	planner := convergence.NewPlanner(convergence.PlannerConfig{}, store, nil, &fakeSearch{}, nil, log)

	controller := convergence.NewController(
		convergence.Config{Category: "gaming_mice", MaxRounds: 2},
		fetcher,
		denyAllRobots{},
		store,
		intel.NewStore(""),
		extract.DefaultRegistry(log),
		nil,
		consensus.NewEngine(consensus.DefaultConfig()),
		planner,
		convergence.NewDirectory(nil),
		nil,
		log,
	)

	result, err := controller.Run(context.Background(), testProduct(), viperLock(), harvestRules(), nil)
	require.NoError(t, err)

	assert.Empty(t, fetcher.calls, "disallowed URLs never reach the fetcher")
	assert.False(t, result.Summary.Validated)
}

type denyAllRobots struct{}

func (denyAllRobots) CanFetch(context.Context, string, string) robots.Decision {
	return robots.Decision{Allowed: false, Reason: "disallowed"}
}

func TestController_CancelledContextStopsRun(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*domain.FetchResult{}}
	controller := newTestController(fetcher, &fakeSearch{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := controller.Run(ctx, testProduct(), viperLock(), harvestRules(), nil)
	require.NoError(t, err)

	assert.Equal(t, convergence.StopCancelled, result.Summary.StopReason)
	assert.Zero(t, result.Summary.Rounds)
	assert.False(t, result.Summary.Validated)
}
