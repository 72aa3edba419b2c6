package fetch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/fetch"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// stubFetcher is a scripted fetcher for service tests.
type stubFetcher struct {
	mode    domain.FetchMode
	results []*domain.FetchResult
	noResult bool
	calls   int
	started bool
}

func (f *stubFetcher) Mode() domain.FetchMode { return f.mode }

func (f *stubFetcher) Start(ctx context.Context) error {
	f.started = true
	return nil
}

func (f *stubFetcher) Stop(ctx context.Context) error { return nil }

func (f *stubFetcher) Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error) {
	f.calls++
	if f.noResult {
		return nil, fetch.ErrNoResult
	}

	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}

	result := *f.results[idx]
	result.URL = source.URL
	result.Mode = f.mode
	return &result, nil
}

// nopWaiter satisfies HostWaiter without delay.
type nopWaiter struct{ waits int }

func (w *nopWaiter) Wait(ctx context.Context, host string, rateLimitMs int) error {
	w.waits++
	return nil
}

// captureSink records emitted telemetry events.
type captureSink struct {
	events []string
	fields []map[string]any
}

func (s *captureSink) Emit(ctx context.Context, event string, fields map[string]any) {
	s.events = append(s.events, event)
	s.fields = append(s.fields, fields)
}

func okResult(status int) *domain.FetchResult {
	return &domain.FetchResult{Status: status, FetchedAt: time.Now()}
}

func newService(t *testing.T, cfg fetch.ServiceConfig, fetchers ...fetch.Fetcher) (*fetch.Service, *captureSink) {
	t.Helper()

	sink := &captureSink{}
	svc := fetch.NewService(cfg, fetchers, &nopWaiter{}, sink, nil, logger.NewNoOp())
	require.NoError(t, svc.Start(context.Background()))

	return svc, sink
}

func TestService_RetriesTransientThenSucceeds(t *testing.T) {
	stub := &stubFetcher{
		mode:    domain.ModeHTTP,
		results: []*domain.FetchResult{okResult(503), okResult(503), okResult(200)},
	}

	svc, _ := newService(t, fetch.ServiceConfig{
		Mode:         domain.ModeHTTP,
		RetryBudget:  2,
		RetryBackoff: time.Millisecond,
	}, stub)

	result, err := svc.Fetch(context.Background(), domain.Source{URL: "https://example.com/p"})
	require.NoError(t, err)

	assert.Equal(t, 200, result.Status)
	assert.Equal(t, 3, stub.calls)
}

func TestService_ExhaustsRetryBudget(t *testing.T) {
	stub := &stubFetcher{
		mode:    domain.ModeHTTP,
		results: []*domain.FetchResult{okResult(429)},
	}

	svc, _ := newService(t, fetch.ServiceConfig{
		Mode:         domain.ModeHTTP,
		RetryBudget:  2,
		RetryBackoff: time.Millisecond,
	}, stub)

	result, err := svc.Fetch(context.Background(), domain.Source{URL: "https://example.com/p"})
	require.NoError(t, err)

	// 1 + retryBudget attempts, last result returned.
	assert.Equal(t, 429, result.Status)
	assert.Equal(t, 3, stub.calls)
}

func TestService_NoRetryOnPermanentStatus(t *testing.T) {
	stub := &stubFetcher{
		mode:    domain.ModeHTTP,
		results: []*domain.FetchResult{okResult(404)},
	}

	svc, _ := newService(t, fetch.ServiceConfig{
		Mode:         domain.ModeHTTP,
		RetryBudget:  3,
		RetryBackoff: time.Millisecond,
	}, stub)

	result, err := svc.Fetch(context.Background(), domain.Source{URL: "https://example.com/p"})
	require.NoError(t, err)

	assert.Equal(t, 404, result.Status)
	assert.Equal(t, 1, stub.calls)
}

func TestService_FallsBackOnNoResult(t *testing.T) {
	crawler := &stubFetcher{mode: domain.ModeCrawler, noResult: true}
	httpStub := &stubFetcher{mode: domain.ModeHTTP, results: []*domain.FetchResult{okResult(200)}}

	svc, sink := newService(t, fetch.ServiceConfig{
		Mode:         domain.ModeCrawler,
		RetryBackoff: time.Millisecond,
	}, crawler, httpStub)

	result, err := svc.Fetch(context.Background(), domain.Source{URL: "https://example.com/p"})
	require.NoError(t, err)

	assert.Equal(t, 200, result.Status)
	assert.Equal(t, domain.ModeHTTP, result.Mode)
	assert.Equal(t, domain.ModeHTTP, svc.ActiveMode(), "fallback is one-way for the run")

	require.Len(t, sink.events, 1)
	assert.Equal(t, fetch.EventModeSwitch, sink.events[0])
	assert.Equal(t, "crawler", sink.fields[0]["from"])
	assert.Equal(t, "http", sink.fields[0]["to"])
	assert.Equal(t, "no_result", sink.fields[0]["reason"])
}

func TestService_ForcedModeNeverFallsBack(t *testing.T) {
	crawler := &stubFetcher{mode: domain.ModeCrawler, noResult: true}
	httpStub := &stubFetcher{mode: domain.ModeHTTP, results: []*domain.FetchResult{okResult(200)}}

	svc, sink := newService(t, fetch.ServiceConfig{
		Mode:         domain.ModeHTTP,
		RetryBackoff: time.Millisecond,
	}, crawler, httpStub)

	_, err := svc.Fetch(context.Background(), domain.Source{
		URL:        "https://example.com/p",
		ForcedMode: domain.ModeCrawler,
	})

	assert.ErrorIs(t, err, fetch.ErrNoResult)
	assert.Empty(t, sink.events)
	assert.Zero(t, httpStub.calls)
}

// deadlineFetcher records the context deadline of each fetch.
type deadlineFetcher struct {
	stubFetcher
	deadlines []time.Duration
}

func (f *deadlineFetcher) Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error) {
	if deadline, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, time.Until(deadline))
	} else {
		f.deadlines = append(f.deadlines, 0)
	}
	return f.stubFetcher.Fetch(ctx, source)
}

func TestService_HostTimeoutBoundsEachAttempt(t *testing.T) {
	stub := &deadlineFetcher{stubFetcher: stubFetcher{
		mode:    domain.ModeHTTP,
		results: []*domain.FetchResult{okResult(200)},
	}}

	svc, _ := newService(t, fetch.ServiceConfig{
		Mode: domain.ModeHTTP,
		HostPolicies: map[string]fetch.HostPolicy{
			"slow.example.com": {TimeoutMs: 250},
		},
	}, stub)

	_, err := svc.Fetch(context.Background(), domain.Source{URL: "https://slow.example.com/p"})
	require.NoError(t, err)

	require.Len(t, stub.deadlines, 1)
	assert.Positive(t, stub.deadlines[0], "override host fetches carry a deadline")
	assert.LessOrEqual(t, stub.deadlines[0], 250*time.Millisecond)

	_, err = svc.Fetch(context.Background(), domain.Source{URL: "https://example.com/p"})
	require.NoError(t, err)

	require.Len(t, stub.deadlines, 2)
	assert.Zero(t, stub.deadlines[1], "hosts without an override keep an unbounded context")
}

func TestService_StoppedServiceRejectsFetches(t *testing.T) {
	stub := &stubFetcher{mode: domain.ModeHTTP, results: []*domain.FetchResult{okResult(200)}}

	svc, _ := newService(t, fetch.ServiceConfig{Mode: domain.ModeHTTP}, stub)
	require.NoError(t, svc.Stop(context.Background()))

	_, err := svc.Fetch(context.Background(), domain.Source{URL: "https://example.com/p"})
	assert.ErrorIs(t, err, fetch.ErrStopped)
}
