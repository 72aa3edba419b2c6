package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/llm"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// fakeProvider is a scripted model backend.
type fakeProvider struct {
	name  string
	fail  bool
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Call(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider down")
	}
	return json.RawMessage(`{"provider":"` + p.name + `"}`), nil
}

func TestBreakerRouter_FailsOverToFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	fallback := &fakeProvider{name: "fallback"}

	router := llm.NewBreakerRouter(llm.BreakerConfig{}, []llm.Provider{primary, fallback}, nil, nil, logger.NewNoOp())

	out, err := router.Call(context.Background(), llm.Request{Role: llm.RolePlan})
	require.NoError(t, err)

	assert.JSONEq(t, `{"provider":"fallback"}`, string(out))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestBreakerRouter_AllProvidersDownIsDegraded(t *testing.T) {
	router := llm.NewBreakerRouter(llm.BreakerConfig{},
		[]llm.Provider{&fakeProvider{name: "a", fail: true}, &fakeProvider{name: "b", fail: true}},
		nil, nil, logger.NewNoOp())

	_, err := router.Call(context.Background(), llm.Request{Role: llm.RoleExtract})
	assert.True(t, llm.Degraded(err))
}

func TestBreakerRouter_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	router := llm.NewBreakerRouter(llm.BreakerConfig{FailureThreshold: 2},
		[]llm.Provider{primary}, nil, nil, logger.NewNoOp())

	for i := 0; i < 4; i++ {
		_, err := router.Call(context.Background(), llm.Request{})
		assert.Error(t, err)
	}

	// Two calls trip the breaker; the open breaker sheds the rest.
	assert.Equal(t, 2, primary.calls)
}

func TestBreakerRouter_BudgetGateBlocksBeforeDispatch(t *testing.T) {
	provider := &fakeProvider{name: "primary"}
	budget := llm.NewBudget(1.00, 0)

	router := llm.NewBreakerRouter(llm.BreakerConfig{}, []llm.Provider{provider}, budget, nil, logger.NewNoOp())

	req := llm.Request{ProductID: "p1", EstimatedCostUSD: 0.60}

	_, err := router.Call(context.Background(), req)
	require.NoError(t, err)

	_, err = router.Call(context.Background(), req)
	assert.ErrorIs(t, err, llm.ErrBudgetExceeded)
	assert.Equal(t, 1, provider.calls, "blocked call never reaches the provider")
}

func TestBudget_MonthlyCeilingAndRollover(t *testing.T) {
	budget := llm.NewBudget(0, 10.00)

	current := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	budget.SetClock(func() time.Time { return current })

	require.NoError(t, budget.Allow("p1", 9.00))
	budget.Commit("p1", 9.00)

	assert.ErrorIs(t, budget.Allow("p2", 2.00), llm.ErrBudgetExceeded)

	// New month resets the counter.
	current = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, budget.Allow("p2", 2.00))
	assert.Zero(t, budget.Spent())
}

func TestBudget_ZeroCeilingsDisableChecks(t *testing.T) {
	budget := llm.NewBudget(0, 0)
	assert.NoError(t, budget.Allow("p1", 1e6))
}
