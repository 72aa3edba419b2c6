package robots_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/robots"
)

const testUserAgent = "spechawk-test/1.0"

func TestChecker_DisallowRule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\nAllow: /private/specs\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := robots.NewChecker(server.Client(), testUserAgent, time.Hour)
	ctx := context.Background()

	decision := checker.CanFetch(ctx, server.URL+"/private/secret", testUserAgent)
	assert.False(t, decision.Allowed)
	assert.Equal(t, robots.ReasonDisallowed, decision.Reason)
	assert.Equal(t, server.URL+"/robots.txt", decision.RobotsURL)

	// Longest match wins: the more specific Allow overrides the Disallow.
	decision = checker.CanFetch(ctx, server.URL+"/private/specs", testUserAgent)
	assert.True(t, decision.Allowed)

	decision = checker.CanFetch(ctx, server.URL+"/public/page", testUserAgent)
	assert.True(t, decision.Allowed)
}

func TestChecker_EndAnchor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /*.pdf$\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := robots.NewChecker(server.Client(), testUserAgent, time.Hour)
	ctx := context.Background()

	assert.False(t, checker.CanFetch(ctx, server.URL+"/manual.pdf", testUserAgent).Allowed)
	assert.True(t, checker.CanFetch(ctx, server.URL+"/manual.pdf.html", testUserAgent).Allowed)
}

func TestChecker_AgentGroups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: spechawk\nDisallow: /specs/\n\nUser-agent: *\nDisallow:\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := robots.NewChecker(server.Client(), testUserAgent, time.Hour)
	ctx := context.Background()

	assert.False(t, checker.CanFetch(ctx, server.URL+"/specs/mouse", "spechawk").Allowed)
	assert.True(t, checker.CanFetch(ctx, server.URL+"/specs/mouse", "otherbot").Allowed)
}

func TestChecker_MissingRobotsAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	checker := robots.NewChecker(server.Client(), testUserAgent, time.Hour)

	decision := checker.CanFetch(context.Background(), server.URL+"/anything", testUserAgent)
	assert.True(t, decision.Allowed)
	assert.Equal(t, robots.ReasonMissingOrUnavailable, decision.Reason)
	assert.Equal(t, http.StatusNotFound, decision.Status)
}

func TestChecker_InvalidURL(t *testing.T) {
	checker := robots.NewChecker(http.DefaultClient, testUserAgent, time.Hour)

	decision := checker.CanFetch(context.Background(), "not a url", testUserAgent)
	assert.False(t, decision.Allowed)
	assert.Equal(t, robots.ReasonInvalidURL, decision.Reason)
}

func TestChecker_CoalescesConcurrentFetches(t *testing.T) {
	var fetches atomic.Int64

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			<-release
			w.Write([]byte("User-agent: *\nDisallow:\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := robots.NewChecker(server.Client(), testUserAgent, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker.CanFetch(ctx, server.URL+"/page", testUserAgent)
		}()
	}

	// Give the goroutines a moment to pile onto the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), fetches.Load(), "expected one robots.txt fetch per origin")

	// Subsequent checks hit the cache.
	checker.CanFetch(ctx, server.URL+"/other", testUserAgent)
	assert.Equal(t, int64(1), fetches.Load())
}
