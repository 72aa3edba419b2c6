// Package config loads the harvester configuration from YAML, .env, and
// environment variables, with production-safe defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultUserAgent         = "spechawk/1.0 (+https://github.com/jonesrussell/spechawk)"
	defaultFetchMode         = "crawler"
	defaultPageGotoMs        = 30000
	defaultNetworkIdleMs     = 10000
	defaultPerHostMinDelayMs = 1200
	defaultRetryBudget       = 2
	defaultRetryBackoffMs    = 2000
	defaultQueryCooldownSecs = 6 * 3600
	defaultMaxRounds         = 8
	defaultNoProgressLimit   = 2
	defaultDispatchQueries   = 6
	defaultMaxTargetFields   = 6
	defaultConcurrency       = 4
	defaultLowQualityScore   = 0.40
	defaultAutoAcceptScore   = 0.95
	defaultFlagReviewScore   = 0.65
	defaultServerAddress     = ":8070"
	defaultShutdownTimeout   = 15 * time.Second
	defaultIntelReportCron   = "0 6 * * *"
	defaultDataDir           = "./data"
	defaultESAddress         = "http://127.0.0.1:9200"
	defaultDBPort            = "5432"
	defaultDBSSLMode         = "disable"
	defaultLLMPerProductUSD  = 0.50
	defaultLLMMonthlyUSD     = 250.0
	defaultBreakerThreshold  = 3
	defaultBreakerOpenMs     = 30000
)

// Config is the full harvester configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Frontier    FrontierConfig    `mapstructure:"frontier"`
	Convergence ConvergenceConfig `mapstructure:"convergence"`
	Consensus   ConsensusConfig   `mapstructure:"consensus"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// AppConfig names the deployment.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Category    string `mapstructure:"category"`
	Debug       bool   `mapstructure:"debug"`
}

// LoggerConfig controls the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// FetcherConfig tunes the fetcher hierarchy. Timing knobs are integer
// milliseconds to mirror the environment variable surface.
type FetcherConfig struct {
	Mode                   string `mapstructure:"mode"`
	UserAgent              string `mapstructure:"user_agent"`
	PageGotoTimeoutMs      int    `mapstructure:"page_goto_timeout_ms"`
	NetworkIdleTimeoutMs   int    `mapstructure:"page_network_idle_timeout_ms"`
	PerHostMinDelayMs      int    `mapstructure:"per_host_min_delay_ms"`
	PostLoadWaitMs         int    `mapstructure:"post_load_wait_ms"`
	AutoScrollEnabled      bool   `mapstructure:"auto_scroll_enabled"`
	AutoScrollPasses       int    `mapstructure:"auto_scroll_passes"`
	GraphQLReplayEnabled   bool   `mapstructure:"graphql_replay_enabled"`
	MaxGraphQLReplays      int    `mapstructure:"max_graphql_replays"`
	RetryBudget            int    `mapstructure:"retry_budget"`
	RetryBackoffMs         int    `mapstructure:"retry_backoff_ms"`
	FixtureDir             string `mapstructure:"fixture_dir"`
	// HostOverrides keys are hostnames; values override delay, budget,
	// and fetch mode per host.
	HostOverrides map[string]HostPolicy `mapstructure:"host_overrides"`
}

// PageGotoTimeout returns the page load timeout as a duration.
func (c *FetcherConfig) PageGotoTimeout() time.Duration {
	return time.Duration(c.PageGotoTimeoutMs) * time.Millisecond
}

// PerHostMinDelay returns the politeness delay as a duration.
func (c *FetcherConfig) PerHostMinDelay() time.Duration {
	return time.Duration(c.PerHostMinDelayMs) * time.Millisecond
}

// PostLoadWait returns the post-load settle wait as a duration.
func (c *FetcherConfig) PostLoadWait() time.Duration {
	return time.Duration(c.PostLoadWaitMs) * time.Millisecond
}

// RetryBackoff returns the retry base sleep as a duration.
func (c *FetcherConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// HostPolicy is a per-host fetch policy override. TimeoutMs overrides the
// page load timeout for the host; zero keeps the global value.
type HostPolicy struct {
	MinDelayMs  int    `mapstructure:"min_delay_ms"`
	RetryBudget int    `mapstructure:"retry_budget"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	Mode        string `mapstructure:"mode"`
}

// FrontierConfig holds cooldown policy overrides, in seconds to mirror
// the environment variable surface.
type FrontierConfig struct {
	QueryCooldownSeconds     int `mapstructure:"query_cooldown_seconds"`
	Cooldown404Seconds       int `mapstructure:"cooldown_404_seconds"`
	Cooldown404RepeatSeconds int `mapstructure:"cooldown_404_repeat_seconds"`
	Cooldown410Seconds       int `mapstructure:"cooldown_410_seconds"`
	CooldownTimeoutSeconds   int `mapstructure:"cooldown_timeout_seconds"`
	Cooldown403BaseSeconds   int `mapstructure:"cooldown_403_base_seconds"`
	Cooldown429BaseSeconds   int `mapstructure:"cooldown_429_base_seconds"`
	PathPenaltyThreshold     int `mapstructure:"path_penalty_notfound_threshold"`
}

// ConvergenceConfig bounds the round loop.
type ConvergenceConfig struct {
	MaxRounds          int           `mapstructure:"max_rounds"`
	NoProgressLimit    int           `mapstructure:"no_progress_limit"`
	MaxDispatchQueries int           `mapstructure:"max_dispatch_queries"`
	MaxTargetFields    int           `mapstructure:"max_target_fields"`
	MaxDuration        time.Duration `mapstructure:"max_duration"`
	Concurrency        int           `mapstructure:"concurrency"`
	LowQualityScore    float64       `mapstructure:"low_quality_confidence"`
	// DeniedDomains are root domains the planner must never schedule.
	DeniedDomains []string `mapstructure:"denied_domains"`
}

// ConsensusConfig carries the scoring thresholds.
type ConsensusConfig struct {
	AutoAcceptScore float64 `mapstructure:"auto_accept_score"`
	FlagReviewScore float64 `mapstructure:"flag_review_score"`
}

// LLMConfig configures providers, budgets, and breakers.
type LLMConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Providers        []string `mapstructure:"providers"`
	PerProductUSD    float64  `mapstructure:"per_product_usd"`
	MonthlyUSD       float64  `mapstructure:"monthly_usd"`
	BreakerThreshold uint32   `mapstructure:"breaker_threshold"`
	BreakerOpenMs    int      `mapstructure:"breaker_open_ms"`
}

// BreakerOpenTimeout returns the open-breaker probe delay as a duration.
func (c *LLMConfig) BreakerOpenTimeout() time.Duration {
	return time.Duration(c.BreakerOpenMs) * time.Millisecond
}

// StorageConfig locates local artifacts and the artifact cluster.
type StorageConfig struct {
	DataDir     string   `mapstructure:"data_dir"`
	ESAddresses []string `mapstructure:"es_addresses"`
	ESUsername  string   `mapstructure:"es_username"`
	ESPassword  string   `mapstructure:"es_password"`
	ESAPIKey    string   `mapstructure:"es_api_key"`
}

// DatabaseConfig holds the Postgres ledger settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig configures cron jobs.
type SchedulerConfig struct {
	IntelReportCron string `mapstructure:"intel_report_cron"`
}

// Load reads configuration. Precedence: environment variables, then the
// config file at path (optional), then defaults. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	if err := bindEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnvironmentVariables maps the short operational env var names onto
// their config keys. Keys whose dotted path already matches the env name
// through the replacer (CONVERGENCE_MAX_ROUNDS, FRONTIER_*) need no
// explicit binding.
func bindEnvironmentVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"app.environment":                      {"APP_ENV"},
		"app.category":                         {"CATEGORY"},
		"logger.level":                         {"LOG_LEVEL"},
		"logger.encoding":                      {"LOG_FORMAT"},
		"fetcher.mode":                         {"MODE", "FETCH_MODE"},
		"fetcher.page_goto_timeout_ms":         {"PAGE_GOTO_TIMEOUT_MS"},
		"fetcher.page_network_idle_timeout_ms": {"PAGE_NETWORK_IDLE_TIMEOUT_MS"},
		"fetcher.per_host_min_delay_ms":        {"PER_HOST_MIN_DELAY_MS"},
		"fetcher.post_load_wait_ms":            {"POST_LOAD_WAIT_MS"},
		"fetcher.auto_scroll_enabled":          {"AUTO_SCROLL_ENABLED"},
		"fetcher.auto_scroll_passes":           {"AUTO_SCROLL_PASSES"},
		"fetcher.graphql_replay_enabled":       {"GRAPHQL_REPLAY_ENABLED"},
		"fetcher.max_graphql_replays":          {"MAX_GRAPHQL_REPLAYS"},
		"fetcher.retry_budget":                 {"DYNAMIC_FETCH_RETRY_BUDGET"},
		"fetcher.retry_backoff_ms":             {"DYNAMIC_FETCH_RETRY_BACKOFF_MS"},
		"convergence.low_quality_confidence":   {"LOW_QUALITY_CONFIDENCE"},
		"convergence.denied_domains":           {"DENIED_DOMAINS"},
		"consensus.auto_accept_score":          {"AUTO_ACCEPT_SCORE"},
		"consensus.flag_review_score":          {"FLAG_REVIEW_SCORE"},
		"storage.es_addresses":                 {"ELASTICSEARCH_HOSTS", "ELASTICSEARCH_ADDRESSES"},
		"storage.es_password":                  {"ELASTIC_PASSWORD", "ELASTICSEARCH_PASSWORD"},
		"storage.es_api_key":                   {"ELASTICSEARCH_API_KEY"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app", map[string]any{
		"name":        "spechawk",
		"environment": "production",
		"category":    "gaming_mice",
		"debug":       false,
	})

	v.SetDefault("logger", map[string]any{
		"level":       "info",
		"development": false,
		"encoding":    "json",
	})

	v.SetDefault("fetcher", map[string]any{
		"mode":                         defaultFetchMode,
		"user_agent":                   defaultUserAgent,
		"page_goto_timeout_ms":         defaultPageGotoMs,
		"page_network_idle_timeout_ms": defaultNetworkIdleMs,
		"per_host_min_delay_ms":        defaultPerHostMinDelayMs,
		"post_load_wait_ms":            0,
		"auto_scroll_enabled":          false,
		"auto_scroll_passes":           2,
		"graphql_replay_enabled":       false,
		"max_graphql_replays":          3,
		"retry_budget":                 defaultRetryBudget,
		"retry_backoff_ms":             defaultRetryBackoffMs,
	})

	v.SetDefault("frontier", map[string]any{
		"query_cooldown_seconds":          defaultQueryCooldownSecs,
		"cooldown_404_seconds":            72 * 3600,
		"cooldown_404_repeat_seconds":     14 * 24 * 3600,
		"cooldown_410_seconds":            90 * 24 * 3600,
		"cooldown_timeout_seconds":        6 * 3600,
		"cooldown_403_base_seconds":       30 * 60,
		"cooldown_429_base_seconds":       15 * 60,
		"path_penalty_notfound_threshold": 3,
	})

	v.SetDefault("convergence", map[string]any{
		"max_rounds":             defaultMaxRounds,
		"no_progress_limit":      defaultNoProgressLimit,
		"max_dispatch_queries":   defaultDispatchQueries,
		"max_target_fields":      defaultMaxTargetFields,
		"max_duration":           "10m",
		"concurrency":            defaultConcurrency,
		"low_quality_confidence": defaultLowQualityScore,
		"denied_domains":         []string{},
	})

	v.SetDefault("consensus", map[string]any{
		"auto_accept_score": defaultAutoAcceptScore,
		"flag_review_score": defaultFlagReviewScore,
	})

	v.SetDefault("llm", map[string]any{
		"enabled":           false,
		"providers":         []string{},
		"per_product_usd":   defaultLLMPerProductUSD,
		"monthly_usd":       defaultLLMMonthlyUSD,
		"breaker_threshold": defaultBreakerThreshold,
		"breaker_open_ms":   defaultBreakerOpenMs,
	})

	v.SetDefault("storage", map[string]any{
		"data_dir":     defaultDataDir,
		"es_addresses": []string{defaultESAddress},
	})

	v.SetDefault("database", map[string]any{
		"host":    "localhost",
		"port":    defaultDBPort,
		"user":    "spechawk",
		"dbname":  "spechawk",
		"sslmode": defaultDBSSLMode,
	})

	v.SetDefault("server", map[string]any{
		"address":          defaultServerAddress,
		"shutdown_timeout": defaultShutdownTimeout,
	})

	v.SetDefault("scheduler", map[string]any{
		"intel_report_cron": defaultIntelReportCron,
	})
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Category == "" {
		errs = append(errs, errors.New("app.category is required"))
	}

	switch c.Fetcher.Mode {
	case "dryrun", "http", "crawler", "browser-full":
	default:
		errs = append(errs, fmt.Errorf("fetcher.mode %q is not one of dryrun, http, crawler, browser-full", c.Fetcher.Mode))
	}
	if c.Fetcher.Mode == "dryrun" && c.Fetcher.FixtureDir == "" {
		errs = append(errs, errors.New("fetcher.fixture_dir is required in dryrun mode"))
	}
	if c.Fetcher.RetryBudget < 0 {
		errs = append(errs, errors.New("fetcher.retry_budget must not be negative"))
	}
	if c.Fetcher.PerHostMinDelayMs < 0 {
		errs = append(errs, errors.New("fetcher.per_host_min_delay_ms must not be negative"))
	}

	if c.Convergence.MaxRounds < 1 {
		errs = append(errs, errors.New("convergence.max_rounds must be at least 1"))
	}
	if c.Convergence.Concurrency < 1 {
		errs = append(errs, errors.New("convergence.concurrency must be at least 1"))
	}

	if c.Consensus.AutoAcceptScore < c.Consensus.FlagReviewScore {
		errs = append(errs, errors.New("consensus.auto_accept_score must be >= consensus.flag_review_score"))
	}
	if c.Consensus.AutoAcceptScore <= 0 || c.Consensus.AutoAcceptScore > 1 {
		errs = append(errs, errors.New("consensus.auto_accept_score must be in (0, 1]"))
	}

	if c.LLM.Enabled && len(c.LLM.Providers) == 0 {
		errs = append(errs, errors.New("llm.providers is required when llm.enabled is true"))
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}

	return errors.Join(errs...)
}
