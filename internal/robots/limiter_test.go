package robots_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/robots"
)

// fakeClock drives a HostLimiter without real sleeping. Sleeps advance the
// clock and are recorded.
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.sleeps++
	c.now = c.now.Add(d)
	return ctx.Err()
}

func TestHostLimiter_SpacesSameHost(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}

	limiter := robots.NewHostLimiter(2*time.Second, nil)
	limiter.SetClock(clock.Now, clock.Sleep)

	ctx := context.Background()

	// First access goes straight through.
	require.NoError(t, limiter.Wait(ctx, "example.com", 0))
	assert.Zero(t, clock.sleeps)

	// Second access within the window waits the remainder.
	clock.now = clock.now.Add(500 * time.Millisecond)
	require.NoError(t, limiter.Wait(ctx, "example.com", 0))
	require.Equal(t, 1, clock.sleeps)
	assert.Equal(t, 1500*time.Millisecond, clock.slept[0])

	// After the window, no wait.
	clock.now = clock.now.Add(3 * time.Second)
	require.NoError(t, limiter.Wait(ctx, "example.com", 0))
	assert.Equal(t, 1, clock.sleeps)
}

func TestHostLimiter_DifferentHostsIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}

	limiter := robots.NewHostLimiter(5*time.Second, nil)
	limiter.SetClock(clock.Now, clock.Sleep)

	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "a.example.com", 0))
	require.NoError(t, limiter.Wait(ctx, "b.example.com", 0))

	assert.Zero(t, clock.sleeps, "fetches to different hosts must not wait on each other")
}

func TestHostLimiter_DelayFor(t *testing.T) {
	limiter := robots.NewHostLimiter(time.Second, map[string]time.Duration{
		"Slow.example.com": 10 * time.Second,
	})

	// Default.
	assert.Equal(t, time.Second, limiter.DelayFor("fast.example.com", 0))

	// Per-host override, case-insensitive.
	assert.Equal(t, 10*time.Second, limiter.DelayFor("slow.example.com", 0))

	// Per-source rate limit wins only when larger.
	assert.Equal(t, 30*time.Second, limiter.DelayFor("slow.example.com", 30000))
	assert.Equal(t, 10*time.Second, limiter.DelayFor("slow.example.com", 500))
}

func TestHostLimiter_CancelledContext(t *testing.T) {
	limiter := robots.NewHostLimiter(time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, limiter.Wait(ctx, "example.com", 0))

	cancel()

	err := limiter.Wait(ctx, "example.com", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
