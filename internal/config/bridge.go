package config

import (
	"github.com/jonesrussell/spechawk/internal/consensus"
	"github.com/jonesrussell/spechawk/internal/convergence"
	"github.com/jonesrussell/spechawk/internal/database"
	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/fetch"
	"github.com/jonesrussell/spechawk/internal/frontier"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/storage"
)

// LoggerConfig converts the logger section for the zap wrapper.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Logger.Level,
		Encoding:    c.Logger.Encoding,
		Development: c.Logger.Development,
	}
}

// FetchMode returns the configured startup mode as a domain value.
func (c *FetcherConfig) FetchMode() domain.FetchMode {
	return domain.FetchMode(c.Mode)
}

// ServiceConfig converts the fetcher section for the fetch service,
// including per-host overrides.
func (c *Config) ServiceConfig() fetch.ServiceConfig {
	policies := make(map[string]fetch.HostPolicy, len(c.Fetcher.HostOverrides))
	for host, hp := range c.Fetcher.HostOverrides {
		policies[host] = fetch.HostPolicy{
			RetryBudget:  hp.RetryBudget,
			RetryBackoff: c.Fetcher.RetryBackoff(),
			RateLimitMs:  hp.MinDelayMs,
			TimeoutMs:    hp.TimeoutMs,
			ForcedMode:   domain.FetchMode(hp.Mode),
		}
	}

	return fetch.ServiceConfig{
		Mode:         c.Fetcher.FetchMode(),
		RetryBudget:  c.Fetcher.RetryBudget,
		RetryBackoff: c.Fetcher.RetryBackoff(),
		HostPolicies: policies,
	}
}

// CooldownPolicy converts the frontier section. Zero values fall through
// to the frontier package defaults.
func (c *Config) CooldownPolicy() frontier.CooldownPolicy {
	return frontier.CooldownPolicy{
		QueryCooldownSeconds:  int64(c.Frontier.QueryCooldownSeconds),
		NotFoundSeconds:       int64(c.Frontier.Cooldown404Seconds),
		NotFoundRepeatSeconds: int64(c.Frontier.Cooldown404RepeatSeconds),
		GoneSeconds:           int64(c.Frontier.Cooldown410Seconds),
		TimeoutSeconds:        int64(c.Frontier.CooldownTimeoutSeconds),
		ForbiddenBaseSeconds:  int64(c.Frontier.Cooldown403BaseSeconds),
		RateLimitBaseSeconds:  int64(c.Frontier.Cooldown429BaseSeconds),
		PathPenaltyThreshold:  c.Frontier.PathPenaltyThreshold,
	}
}

// ControllerConfig converts the convergence section for the controller.
func (c *Config) ControllerConfig() convergence.Config {
	return convergence.Config{
		Category:             c.App.Category,
		UserAgent:            c.Fetcher.UserAgent,
		MaxRounds:            c.Convergence.MaxRounds,
		MaxDuration:          c.Convergence.MaxDuration,
		Concurrency:          c.Convergence.Concurrency,
		MaxTargetFields:      c.Convergence.MaxTargetFields,
		NoProgressLimit:      c.Convergence.NoProgressLimit,
		LowQualityConfidence: c.Convergence.LowQualityScore,
	}
}

// PlannerConfig converts the convergence section for the planner.
func (c *Config) PlannerConfig() convergence.PlannerConfig {
	return convergence.PlannerConfig{
		MaxDispatchQueries: c.Convergence.MaxDispatchQueries,
		DeniedDomains:      c.Convergence.DeniedDomains,
	}
}

// ConsensusConfig returns the default weight tables with the configured
// acceptance thresholds applied.
func (c *Config) ConsensusConfig() consensus.Config {
	cfg := consensus.DefaultConfig()
	if c.Consensus.AutoAcceptScore > 0 {
		cfg.AutoAccept = c.Consensus.AutoAcceptScore
	}
	if c.Consensus.FlagReviewScore > 0 {
		cfg.FlagReview = c.Consensus.FlagReviewScore
	}
	return cfg
}

// DatabaseConfig converts the database section for the Postgres ledger.
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		DBName:   c.Database.DBName,
		SSLMode:  c.Database.SSLMode,
	}
}

// ElasticConfig converts the storage section for the artifact cluster.
func (c *Config) ElasticConfig() storage.ElasticConfig {
	return storage.ElasticConfig{
		Addresses: c.Storage.ESAddresses,
		Username:  c.Storage.ESUsername,
		Password:  c.Storage.ESPassword,
		APIKey:    c.Storage.ESAPIKey,
	}
}
