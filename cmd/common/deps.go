// Package common builds the dependencies shared by every subcommand:
// configuration, logger, metrics registry, and the assembled harvest
// pipeline.
package common

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/spechawk/internal/config"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/metrics"
)

// Deps holds the cross-cutting dependencies of a command.
type Deps struct {
	Config   *config.Config
	Logger   logger.Interface
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// NewDeps loads configuration and creates the logger and metrics registry.
func NewDeps(cfgPath string) (*Deps, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := cfg.LoggerConfig()
	log, err := logger.New(&logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	registry := prometheus.NewRegistry()

	deps := &Deps{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics.New(registry),
		Registry: registry,
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return deps, nil
}

func (d *Deps) validate() error {
	if d.Config == nil {
		return errors.New("config is required")
	}
	if d.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
