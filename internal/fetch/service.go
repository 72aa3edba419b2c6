package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/logger"
	"github.com/jonesrussell/spechawk/internal/metrics"
)

// EventModeSwitch is emitted when the service falls back to another mode.
const EventModeSwitch = "dynamic_fetcher_mode_switched"

// TelemetrySink receives structured service events.
type TelemetrySink interface {
	Emit(ctx context.Context, event string, fields map[string]any)
}

// HostWaiter gates fetches on per-host politeness delays.
type HostWaiter interface {
	Wait(ctx context.Context, host string, sourceRateLimitMs int) error
}

// HostPolicy is the per-host fetch policy resolved before each fetch.
// TimeoutMs caps a single attempt; zero leaves the fetcher's own deadline
// in charge.
type HostPolicy struct {
	RetryBudget  int
	RetryBackoff time.Duration
	RateLimitMs  int
	TimeoutMs    int
	ForcedMode   domain.FetchMode
}

// ServiceConfig configures the dynamic crawler service.
type ServiceConfig struct {
	// Mode is the startup fetch mode.
	Mode domain.FetchMode
	// RetryBudget is the default number of retries after the first attempt.
	RetryBudget int
	// RetryBackoff is the base sleep between retries.
	RetryBackoff time.Duration
	// HostPolicies maps hostnames to per-host overrides.
	HostPolicies map[string]HostPolicy
}

// Service state machine states.
const (
	stateStopped  = "stopped"
	stateStarting = "starting"
	stateActive   = "active"
	stateDegraded = "degraded"
)

// fallbackChain defines the one-way downgrade order. A mode switch never
// reverses within a run.
var fallbackChain = map[domain.FetchMode]domain.FetchMode{
	domain.ModeCrawler: domain.ModeHTTP,
	domain.ModeBrowser: domain.ModeHTTP,
}

// ErrStopped is returned when fetching through a stopped service.
var ErrStopped = errors.New("fetch service: stopped")

// Service owns the active fetcher and executes the retry and fallback
// protocol around it. Fallback is one-way within a run; forced per-host
// modes never fall back.
type Service struct {
	cfg      ServiceConfig
	fetchers map[domain.FetchMode]Fetcher
	waiter   HostWaiter
	sink     TelemetrySink
	metrics  *metrics.Metrics
	log      logger.Interface
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active domain.FetchMode
	state  string
}

// NewService creates a service over the available fetchers.
func NewService(
	cfg ServiceConfig,
	fetchers []Fetcher,
	waiter HostWaiter,
	sink TelemetrySink,
	m *metrics.Metrics,
	log logger.Interface,
) *Service {
	byMode := make(map[domain.FetchMode]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byMode[f.Mode()] = f
	}

	return &Service{
		cfg:      cfg,
		fetchers: byMode,
		waiter:   waiter,
		sink:     sink,
		metrics:  m,
		log:      log.WithComponent("fetch_service"),
		sleep:    sleepCtx,
		active:   cfg.Mode,
		state:    stateStopped,
	}
}

// Start starts the active fetcher, degrading along the fallback chain if
// it cannot start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.state = stateStarting
	mode := s.active
	s.mu.Unlock()

	for {
		fetcher, ok := s.fetchers[mode]
		if ok {
			if startErr := fetcher.Start(ctx); startErr == nil {
				s.mu.Lock()
				s.active = mode
				s.state = stateActive
				s.mu.Unlock()
				s.log.Info("fetch service started", "mode", string(mode))
				return nil
			} else {
				s.log.Warn("fetcher failed to start", "mode", string(mode), "error", startErr.Error())
			}
		}

		next, hasNext := fallbackChain[mode]
		if !hasNext {
			s.mu.Lock()
			s.state = stateStopped
			s.mu.Unlock()
			return fmt.Errorf("fetch service: no startable fetcher from mode %q: %w", s.cfg.Mode, ErrModeUnavailable)
		}
		s.switchMode(ctx, mode, next, "start_failed")
		mode = next
	}
}

// Stop stops every fetcher.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()

	var errs []error
	for mode, fetcher := range s.fetchers {
		if stopErr := fetcher.Stop(ctx); stopErr != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", mode, stopErr))
		}
	}
	return errors.Join(errs...)
}

// ActiveMode returns the current mode.
func (s *Service) ActiveMode() domain.FetchMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Fetch runs the full protocol for one source: resolve the host policy,
// wait for the host slot, retry transient failures within the budget, and
// fall back one mode on NO_RESULT (unless the source's mode is forced).
func (s *Service) Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error) {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	mode := s.active
	s.mu.Unlock()

	policy := s.resolvePolicy(source)

	forced := policy.ForcedMode != ""
	if forced {
		mode = policy.ForcedMode
	}

	result, err := s.fetchWithRetries(ctx, source, mode, policy)
	if err == nil {
		return result, nil
	}

	if forced || !errors.Is(err, ErrNoResult) {
		return nil, err
	}

	// NO_RESULT from the current mode: degrade once and retry.
	next, hasNext := fallbackChain[mode]
	for hasNext {
		if _, available := s.fetchers[next]; available {
			break
		}
		next, hasNext = fallbackChain[next]
	}
	if !hasNext {
		return nil, err
	}

	s.switchMode(ctx, mode, next, "no_result")

	if fetcher, ok := s.fetchers[next]; ok {
		if startErr := fetcher.Start(ctx); startErr != nil {
			return nil, fmt.Errorf("fetch service: start fallback %s: %w", next, startErr)
		}
	}

	return s.fetchWithRetries(ctx, source, next, policy)
}

// fetchWithRetries runs up to 1+budget attempts, sleeping the backoff
// between retryable outcomes (429, 5xx, timeouts).
func (s *Service) fetchWithRetries(
	ctx context.Context,
	source domain.Source,
	mode domain.FetchMode,
	policy HostPolicy,
) (*domain.FetchResult, error) {
	fetcher, ok := s.fetchers[mode]
	if !ok {
		return nil, fmt.Errorf("fetch service: mode %q: %w", mode, ErrModeUnavailable)
	}

	host := hostOfURL(source.URL)

	var last *domain.FetchResult

	attempts := 1 + policy.RetryBudget
	for attempt := 1; attempt <= attempts; attempt++ {
		if waitErr := s.waiter.Wait(ctx, host, policy.RateLimitMs); waitErr != nil {
			return nil, fmt.Errorf("fetch service: host wait: %w", waitErr)
		}

		result, fetchErr := s.fetchOnce(ctx, fetcher, source, policy)
		if fetchErr != nil {
			return nil, fetchErr
		}

		s.observe(mode, result)
		last = result

		if !result.Transient() || attempt == attempts {
			return result, nil
		}

		s.log.Debug("transient fetch failure, retrying",
			"url", source.URL,
			"status", result.Status,
			"attempt", attempt,
		)

		if sleepErr := s.sleep(ctx, policy.RetryBackoff); sleepErr != nil {
			return last, nil
		}
	}

	return last, nil
}

// fetchOnce runs one attempt under the policy's per-host deadline.
func (s *Service) fetchOnce(
	ctx context.Context,
	fetcher Fetcher,
	source domain.Source,
	policy HostPolicy,
) (*domain.FetchResult, error) {
	if policy.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(policy.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	return fetcher.Fetch(ctx, source)
}

// resolvePolicy merges the service defaults with per-host overrides and
// the source's own settings.
func (s *Service) resolvePolicy(source domain.Source) HostPolicy {
	policy := HostPolicy{
		RetryBudget:  s.cfg.RetryBudget,
		RetryBackoff: s.cfg.RetryBackoff,
		RateLimitMs:  source.RateLimitMs,
		ForcedMode:   source.ForcedMode,
	}

	host := hostOfURL(source.URL)
	if override, ok := s.cfg.HostPolicies[host]; ok {
		if override.RetryBudget > 0 {
			policy.RetryBudget = override.RetryBudget
		}
		if override.RetryBackoff > 0 {
			policy.RetryBackoff = override.RetryBackoff
		}
		if override.RateLimitMs > policy.RateLimitMs {
			policy.RateLimitMs = override.RateLimitMs
		}
		if override.TimeoutMs > 0 {
			policy.TimeoutMs = override.TimeoutMs
		}
		if policy.ForcedMode == "" && override.ForcedMode != "" {
			policy.ForcedMode = override.ForcedMode
		}
	}

	return policy
}

// switchMode records a one-way fallback transition.
func (s *Service) switchMode(ctx context.Context, from, to domain.FetchMode, reason string) {
	s.mu.Lock()
	s.active = to
	s.state = stateDegraded
	s.mu.Unlock()

	s.log.Warn("fetcher mode switched",
		"from", string(from),
		"to", string(to),
		"reason", reason,
	)

	if s.metrics != nil {
		s.metrics.ModeSwitches.WithLabelValues(string(from), string(to), reason).Inc()
	}

	if s.sink != nil {
		s.sink.Emit(ctx, EventModeSwitch, map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		})
	}
}

// observe updates fetch metrics for a result.
func (s *Service) observe(mode domain.FetchMode, result *domain.FetchResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.FetchTotal.WithLabelValues(string(mode), metrics.StatusClass(result.Status)).Inc()
	s.metrics.FetchDuration.WithLabelValues(string(mode)).Observe(float64(result.ElapsedMs) / 1000.0)
}

// hostOfURL extracts the lowercased hostname.
func hostOfURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// sleepCtx sleeps for d or returns early when the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
