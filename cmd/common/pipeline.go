package common

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/spechawk/internal/catalog"
	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/convergence"
	"github.com/jonesrussell/spechawk/internal/database"
	"github.com/jonesrussell/spechawk/internal/extract"
	"github.com/jonesrussell/spechawk/internal/fetch"
	"github.com/jonesrussell/spechawk/internal/frontier"
	"github.com/jonesrussell/spechawk/internal/intel"
	"github.com/jonesrussell/spechawk/internal/llm"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/robots"
	"github.com/jonesrussell/spechawk/internal/storage"
)

const (
	robotsCacheTTL       = time.Hour
	defaultMaxJSONBytes  = 2 * 1024 * 1024
	robotsClientTimeout  = 10 * time.Second
	catalogSubdir        = "catalog"
	artifactWriteTimeout = 15 * time.Second
	searchCallCostUSD    = 0.01
)

// loggerSink forwards fetch-service telemetry into the structured log.
type loggerSink struct {
	log logger.Interface
}

func (s *loggerSink) Emit(_ context.Context, event string, fields map[string]any) {
	kv := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	s.log.Info(event, kv...)
}

// Harvester bundles the assembled pipeline for one category pack.
type Harvester struct {
	deps *Deps
	pack *catalog.Pack

	service    *fetch.Service
	frontier   *frontier.Store
	intel      *intel.Store
	controller *convergence.Controller
	files      *storage.FileStore
	indexer    *storage.ArtifactIndexer
	candidates *database.CandidateRepository
	events     *database.EventRepository
	db         *sqlx.DB
	log        logger.Interface
}

// LoadPack loads the configured category's pack from the data directory.
func LoadPack(deps *Deps) (*catalog.Pack, error) {
	dir := filepath.Join(deps.Config.Storage.DataDir, catalogSubdir)
	return catalog.Load(dir, deps.Config.App.Category)
}

// NewHarvester assembles the full pipeline. Elasticsearch and Postgres are
// optional: when either is unreachable the harvester logs a warning and
// runs without that sink.
func NewHarvester(deps *Deps, pack *catalog.Pack) (*Harvester, error) {
	cfg := deps.Config
	log := deps.Logger

	files, err := storage.NewFileStore(cfg.Storage.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("create file store: %w", err)
	}

	frontierStore := frontier.NewStore(pack.Category, cfg.CooldownPolicy(), log)
	frontierStore.SetSnapshotPath(FrontierSnapshotPath(cfg.Storage.DataDir, pack.Category))
	if loadErr := frontierStore.Load(); loadErr != nil {
		log.Warn("frontier snapshot not loaded", "error", loadErr.Error())
	}

	intelStore := intel.NewStore(IntelSnapshotPath(cfg.Storage.DataDir))
	if loadErr := intelStore.Load(); loadErr != nil {
		log.Warn("intel snapshot not loaded", "error", loadErr.Error())
	}

	service := buildFetchService(deps)

	checker := robots.NewChecker(
		&http.Client{Timeout: robotsClientTimeout},
		cfg.Fetcher.UserAgent,
		robotsCacheTTL,
	)

	registry := extract.NewRegistry(log,
		extract.NewDOMExtractor(),
		extract.NewJSONLDExtractor(),
		extract.NewEmbeddedStateExtractor(),
		extract.NewNetworkExtractor(),
	)
	miner := extract.NewEndpointMiner()
	engine := consensus.NewEngine(cfg.ConsensusConfig())

	planner := convergence.NewPlanner(
		cfg.PlannerConfig(), frontierStore, intelStore, buildSearch(deps), miner, log,
	)

	controller := convergence.NewController(
		cfg.ControllerConfig(),
		service,
		checker,
		frontierStore,
		intelStore,
		registry,
		miner,
		engine,
		planner,
		pack.Directory,
		deps.Metrics,
		log,
	)

	h := &Harvester{
		deps:       deps,
		pack:       pack,
		service:    service,
		frontier:   frontierStore,
		intel:      intelStore,
		controller: controller,
		files:      files,
		log:        log.WithComponent("harvester"),
	}
	h.attachElasticsearch()
	h.attachDatabase()

	return h, nil
}

// FrontierSnapshotPath locates a category's frontier snapshot file.
func FrontierSnapshotPath(dataDir, category string) string {
	return filepath.Join(dataDir, "frontier", category+".json")
}

// IntelSnapshotPath locates the shared intel snapshot file.
func IntelSnapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "intel", "intel.json")
}

func buildFetchService(deps *Deps) *fetch.Service {
	cfg := deps.Config

	overrides := make(map[string]time.Duration, len(cfg.Fetcher.HostOverrides))
	for host, hp := range cfg.Fetcher.HostOverrides {
		if hp.MinDelayMs > 0 {
			overrides[host] = time.Duration(hp.MinDelayMs) * time.Millisecond
		}
	}
	waiter := robots.NewHostLimiter(cfg.Fetcher.PerHostMinDelay(), overrides)

	fetchers := []fetch.Fetcher{
		fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
			UserAgent:    cfg.Fetcher.UserAgent,
			Timeout:      cfg.Fetcher.PageGotoTimeout(),
			MaxJSONBytes: defaultMaxJSONBytes,
		}),
		fetch.NewCrawlerFetcher(fetch.CrawlerFetcherConfig{
			UserAgent:      cfg.Fetcher.UserAgent,
			RequestTimeout: cfg.Fetcher.PageGotoTimeout(),
			PostLoadWait:   cfg.Fetcher.PostLoadWait(),
			MaxJSONBytes:   defaultMaxJSONBytes,
		}, deps.Logger),
	}
	if cfg.Fetcher.FixtureDir != "" {
		fetchers = append(fetchers, fetch.NewDryRunFetcher(cfg.Fetcher.FixtureDir))
	}

	return fetch.NewService(
		cfg.ServiceConfig(),
		fetchers,
		waiter,
		&loggerSink{log: deps.Logger.WithComponent("fetch_telemetry")},
		deps.Metrics,
		deps.Logger,
	)
}

// buildSearch assembles the budget-gated, circuit-broken search provider
// when LLM assistance is enabled. No provider backends ship in this
// binary; configured names the registry does not know are skipped with a
// warning, and an empty provider list degrades every call, which the
// planner treats as "plan from seeds and mined endpoints".
func buildSearch(deps *Deps) llm.SearchProvider {
	cfg := deps.Config
	if !cfg.LLM.Enabled {
		return nil
	}

	var providers []llm.Provider
	for _, name := range cfg.LLM.Providers {
		deps.Logger.Warn("unknown llm provider, skipping", "provider", name)
	}

	router := llm.NewBreakerRouter(
		llm.BreakerConfig{
			FailureThreshold: cfg.LLM.BreakerThreshold,
			OpenTimeout:      cfg.LLM.BreakerOpenTimeout(),
		},
		providers,
		llm.NewBudget(cfg.LLM.PerProductUSD, cfg.LLM.MonthlyUSD),
		deps.Metrics,
		deps.Logger,
	)
	return llm.NewRouterSearch(router, searchCallCostUSD)
}

// attachElasticsearch wires the artifact indexer when a cluster is
// configured and reachable.
func (h *Harvester) attachElasticsearch() {
	cfg := h.deps.Config
	if len(cfg.Storage.ESAddresses) == 0 {
		return
	}

	client, err := storage.NewElasticClient(cfg.ElasticConfig())
	if err != nil {
		h.log.Warn("elasticsearch client not created, artifacts stay local", "error", err.Error())
		return
	}

	store := storage.NewElasticStore(client, h.deps.Logger)
	if pingErr := store.TestConnection(context.Background()); pingErr != nil {
		h.log.Warn("elasticsearch unreachable, artifacts stay local", "error", pingErr.Error())
		return
	}

	h.indexer = storage.NewArtifactIndexer(store, h.deps.Logger)
}

// attachDatabase wires the survivor ledger when Postgres is reachable.
func (h *Harvester) attachDatabase() {
	db, err := database.NewPostgresConnection(h.deps.Config.DatabaseConfig())
	if err != nil {
		h.log.Warn("database unreachable, survivor ledger disabled", "error", err.Error())
		return
	}

	h.db = db
	h.candidates = database.NewCandidateRepository(db)
	h.events = database.NewEventRepository(db)
}

// Pack returns the loaded category pack.
func (h *Harvester) Pack() *catalog.Pack { return h.pack }

// Frontier returns the frontier store.
func (h *Harvester) Frontier() *frontier.Store { return h.frontier }

// Intel returns the intel store.
func (h *Harvester) Intel() *intel.Store { return h.intel }

// Candidates returns the survivor repository, nil without a database.
func (h *Harvester) Candidates() *database.CandidateRepository { return h.candidates }

// Start starts the fetch service.
func (h *Harvester) Start(ctx context.Context) error {
	if err := h.service.Start(ctx); err != nil {
		return fmt.Errorf("start fetch service: %w", err)
	}
	return nil
}

// Close stops the fetch service, saves snapshots, and releases the
// database connection.
func (h *Harvester) Close(ctx context.Context) {
	if err := h.service.Stop(ctx); err != nil {
		h.log.Warn("fetch service stop failed", "error", err.Error())
	}
	if err := h.frontier.Save(); err != nil {
		h.log.Warn("frontier snapshot save failed", "error", err.Error())
	}
	if err := h.intel.Save(); err != nil {
		h.log.Warn("intel snapshot save failed", "error", err.Error())
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			h.log.Warn("database close failed", "error", err.Error())
		}
	}
}

// HarvestProduct runs convergence for one product and persists the
// outputs.
func (h *Harvester) HarvestProduct(ctx context.Context, productID string) (*convergence.RunResult, error) {
	record, err := h.pack.Product(productID)
	if err != nil {
		return nil, err
	}

	result, err := h.controller.Run(ctx, record.Product, record.Lock, h.pack.Rules, h.pack.Components)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", productID, err)
	}

	h.persist(ctx, result)
	return result, nil
}

// persist writes the run outputs to every attached sink. Sink failures
// are logged, never fatal: the run result is already complete.
func (h *Harvester) persist(ctx context.Context, result *convergence.RunResult) {
	productID := result.Summary.ProductID

	writeCtx, cancel := context.WithTimeout(ctx, artifactWriteTimeout)
	defer cancel()

	artifactKey := fmt.Sprintf("artifacts/%s/%s.json", h.pack.Category, productID)
	if err := h.files.WriteObject(writeCtx, artifactKey, result); err != nil {
		h.log.Error("artifact write failed", "product_id", productID, "error", err.Error())
	}

	if h.indexer != nil {
		if err := h.indexer.EnsureArtifactIndex(writeCtx, h.pack.Category); err != nil {
			h.log.Warn("ensure artifact index failed", "error", err.Error())
		}
		if err := h.indexer.IndexArtifact(
			writeCtx, h.pack.Category,
			result.Summary, result.Artifact, result.Provenance, result.Lights,
		); err != nil {
			h.log.Warn("artifact indexing failed", "product_id", productID, "error", err.Error())
		}
	}

	if h.candidates != nil {
		h.persistSurvivors(writeCtx, result)
	}
	if h.events != nil {
		if err := h.events.AppendJSON(
			writeCtx, productID, result.Summary.RunID, result.Summary.Rounds,
			database.EventRunFinished, result.Summary,
		); err != nil {
			h.log.Warn("run event append failed", "product_id", productID, "error", err.Error())
		}
	}
}

// persistSurvivors upserts the winning evidence rows into the ledger.
func (h *Harvester) persistSurvivors(ctx context.Context, result *convergence.RunResult) {
	for field, prov := range result.Provenance {
		for _, ref := range prov.Evidence {
			entry := h.pack.Directory.Lookup(ref.RootDomain)
			survivor := database.SurvivorCandidate{
				ID:          uuid.NewString(),
				ProductID:   result.Summary.ProductID,
				RunID:       result.Summary.RunID,
				Field:       field,
				Value:       prov.Value,
				SourceURL:   ref.URL,
				Host:        ref.Host,
				RootDomain:  ref.RootDomain,
				Role:        string(entry.Role),
				Tier:        int(ref.Tier),
				Method:      string(ref.Method),
				Confidence:  prov.Confidence,
				Quote:       ref.Quote,
				SpanStart:   ref.QuoteSpan[0],
				SpanEnd:     ref.QuoteSpan[1],
				RetrievedAt: ref.RetrievedAt,
			}
			if err := h.candidates.Upsert(ctx, &survivor); err != nil {
				h.log.Warn("survivor upsert failed",
					"product_id", survivor.ProductID,
					"field", field,
					"error", err.Error(),
				)
			}
		}
	}
}
