package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/metrics"
)

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long an open breaker waits before probing.
	OpenTimeout time.Duration
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// BreakerRouter fronts an ordered provider list with one circuit breaker
// per provider. Calls fail over down the list; when every provider is
// unavailable the router returns ErrDegraded so the pipeline can continue
// without assistance.
type BreakerRouter struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	budget    *Budget
	metrics   *metrics.Metrics
	log       logger.Interface
}

// NewBreakerRouter wires breakers around providers in failover order.
func NewBreakerRouter(
	cfg BreakerConfig,
	providers []Provider,
	budget *Budget,
	m *metrics.Metrics,
	log logger.Interface,
) *BreakerRouter {
	cfg = cfg.normalized()

	r := &BreakerRouter{
		providers: providers,
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(providers)),
		budget:    budget,
		metrics:   m,
		log:       log.WithComponent("llm_router"),
	}

	for _, p := range providers {
		name := p.Name()
		r.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.log.Warn("provider breaker state changed",
					"provider", name,
					"from", from.String(),
					"to", to.String(),
				)
				if r.metrics != nil {
					r.metrics.BreakerEvents.WithLabelValues(name, to.String()).Inc()
				}
			},
		})
	}

	return r
}

// Call gates the request on the budget, then tries providers in order
// through their breakers.
func (r *BreakerRouter) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	if r.budget != nil {
		if budgetErr := r.budget.Allow(req.ProductID, req.EstimatedCostUSD); budgetErr != nil {
			return nil, budgetErr
		}
	}

	var lastErr error
	for _, provider := range r.providers {
		breaker := r.breakers[provider.Name()]

		out, err := breaker.Execute(func() (any, error) {
			return provider.Call(ctx, req)
		})
		if err != nil {
			lastErr = err
			r.log.Debug("provider call failed",
				"provider", provider.Name(),
				"role", string(req.Role),
				"error", err.Error(),
			)
			continue
		}

		if r.budget != nil {
			r.budget.Commit(req.ProductID, req.EstimatedCostUSD)
		}

		raw, ok := out.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("llm: provider %s returned unexpected payload type", provider.Name())
		}
		return raw, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegraded, lastErr)
	}
	return nil, ErrDegraded
}

// Degraded reports whether an error means "continue without the LLM".
func Degraded(err error) bool {
	return errors.Is(err, ErrDegraded)
}
