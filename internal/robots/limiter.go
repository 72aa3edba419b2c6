package robots

import (
	"context"
	"strings"
	"sync"
	"time"
)

// HostLimiter serializes fetches per host so that consecutive requests to
// one host are spaced by at least the host's minimum delay. Cross-host
// fetches proceed in parallel.
type HostLimiter struct {
	defaultDelay time.Duration
	overrides    map[string]time.Duration

	mu         sync.Mutex
	lastAccess map[string]time.Time
	hostLocks  map[string]*sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHostLimiter creates a limiter with a default minimum delay and
// optional per-host overrides (keys are lowercased hostnames).
func NewHostLimiter(defaultDelay time.Duration, overrides map[string]time.Duration) *HostLimiter {
	normalized := make(map[string]time.Duration, len(overrides))
	for host, delay := range overrides {
		normalized[strings.ToLower(host)] = delay
	}

	return &HostLimiter{
		defaultDelay: defaultDelay,
		overrides:    normalized,
		lastAccess:   make(map[string]time.Time),
		hostLocks:    make(map[string]*sync.Mutex),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// DelayFor returns the minimum delay for a host, honoring overrides and a
// per-source rate limit when one is larger.
func (l *HostLimiter) DelayFor(host string, sourceRateLimitMs int) time.Duration {
	delay := l.defaultDelay
	if override, ok := l.overrides[strings.ToLower(host)]; ok {
		delay = override
	}

	if sourceDelay := time.Duration(sourceRateLimitMs) * time.Millisecond; sourceDelay > delay {
		delay = sourceDelay
	}

	return delay
}

// Wait blocks until lastAccess[host] + delay <= now, then records the
// access. Only one caller per host can be inside Wait's critical section;
// other hosts are unaffected.
func (l *HostLimiter) Wait(ctx context.Context, host string, sourceRateLimitMs int) error {
	host = strings.ToLower(host)
	delay := l.DelayFor(host, sourceRateLimitMs)

	lock := l.lockFor(host)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	last, seen := l.lastAccess[host]
	l.mu.Unlock()

	if seen {
		if wait := delay - l.now().Sub(last); wait > 0 {
			if sleepErr := l.sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
		}
	}

	l.mu.Lock()
	l.lastAccess[host] = l.now()
	l.mu.Unlock()

	return nil
}

// lockFor returns the per-host mutex, creating it on first use.
func (l *HostLimiter) lockFor(host string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.hostLocks[host]
	if !ok {
		lock = &sync.Mutex{}
		l.hostLocks[host] = lock
	}
	return lock
}

// SetClock overrides the limiter's clock and sleep. Tests only.
func (l *HostLimiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.now = now
	l.sleep = sleep
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
