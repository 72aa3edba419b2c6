// Package robots provides robots.txt compliance checking with per-origin
// caching and a per-host delay scheduler for polite fetching.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Default cache TTL for robots.txt entries.
const defaultCacheTTL = 24 * time.Hour

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// Decision reasons.
const (
	ReasonAllowed              = "allowed"
	ReasonDisallowed           = "disallowed_by_rule"
	ReasonMissingOrUnavailable = "robots_missing_or_unavailable"
	ReasonInvalidURL           = "invalid_url"
)

// Decision is the outcome of a robots.txt check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	RobotsURL string `json:"robots_url,omitempty"`
	Status    int    `json:"status,omitempty"`
}

// Checker checks and caches robots.txt rules, keyed by scheme://host.
// Concurrent checks against an uncached origin coalesce into one fetch.
type Checker struct {
	httpClient *http.Client
	userAgent  string
	cacheTTL   time.Duration

	mu       sync.RWMutex
	cache    map[string]*cacheEntry    // keyed by origin
	inflight map[string]*inflightFetch // keyed by origin
}

// cacheEntry stores the parsed robots.txt data and metadata for an origin.
type cacheEntry struct {
	data      *robotstxt.RobotsData
	status    int
	fetchedAt time.Time
	allowAll  bool // missing/non-2xx/errored robots.txt allows all
}

// inflightFetch coalesces concurrent fetches of the same origin.
type inflightFetch struct {
	done  chan struct{}
	entry *cacheEntry
}

// NewChecker creates a robots checker.
func NewChecker(httpClient *http.Client, userAgent string, cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}

	return &Checker{
		httpClient: httpClient,
		userAgent:  userAgent,
		cacheTTL:   cacheTTL,
		cache:      make(map[string]*cacheEntry),
		inflight:   make(map[string]*inflightFetch),
	}
}

// CanFetch checks whether the given URL may be fetched under the host's
// robots.txt. Missing or non-2xx robots.txt allows all (standard practice).
func (c *Checker) CanFetch(ctx context.Context, rawURL, userAgent string) Decision {
	parsed, parseErr := url.Parse(rawURL)
	if parseErr != nil || parsed.Host == "" || parsed.Scheme == "" {
		return Decision{Allowed: false, Reason: ReasonInvalidURL}
	}

	if userAgent == "" {
		userAgent = c.userAgent
	}

	origin := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	robotsURL := origin + robotsTxtPath

	entry := c.getOrFetchEntry(ctx, origin, robotsURL)

	if entry.allowAll {
		return Decision{
			Allowed:   true,
			Reason:    ReasonMissingOrUnavailable,
			RobotsURL: robotsURL,
			Status:    entry.status,
		}
	}

	testPath := parsed.Path
	if testPath == "" {
		testPath = "/"
	}
	if parsed.RawQuery != "" {
		testPath += "?" + parsed.RawQuery
	}

	if entry.data.TestAgent(testPath, userAgent) {
		return Decision{Allowed: true, Reason: ReasonAllowed, RobotsURL: robotsURL, Status: entry.status}
	}

	return Decision{Allowed: false, Reason: ReasonDisallowed, RobotsURL: robotsURL, Status: entry.status}
}

// CrawlDelay returns the crawl-delay for the origin, if its cached
// robots.txt specifies one. Returns 0 otherwise.
func (c *Checker) CrawlDelay(origin string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[strings.ToLower(origin)]
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}

	group := entry.data.FindGroup(c.userAgent)
	if group == nil {
		return 0
	}

	return group.CrawlDelay
}

// getOrFetchEntry returns a fresh cached entry, joins an in-flight fetch,
// or starts one.
func (c *Checker) getOrFetchEntry(ctx context.Context, origin, robotsURL string) *cacheEntry {
	c.mu.Lock()

	if entry, ok := c.cache[origin]; ok && time.Since(entry.fetchedAt) <= c.cacheTTL {
		c.mu.Unlock()
		return entry
	}

	if flight, ok := c.inflight[origin]; ok {
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.entry
		case <-ctx.Done():
			return &cacheEntry{allowAll: true, fetchedAt: time.Now()}
		}
	}

	flight := &inflightFetch{done: make(chan struct{})}
	c.inflight[origin] = flight
	c.mu.Unlock()

	entry := c.fetchEntry(ctx, robotsURL)

	c.mu.Lock()
	c.cache[origin] = entry
	delete(c.inflight, origin)
	c.mu.Unlock()

	flight.entry = entry
	close(flight.done)

	return entry
}

// fetchEntry fetches and parses robots.txt. Fetch failures and non-2xx
// responses degrade to allow-all.
func (c *Checker) fetchEntry(ctx context.Context, robotsURL string) *cacheEntry {
	body, statusCode, fetchErr := c.doFetch(ctx, robotsURL)
	if fetchErr != nil {
		return &cacheEntry{allowAll: true, fetchedAt: time.Now()}
	}

	if statusCode < 200 || statusCode >= 300 {
		return &cacheEntry{allowAll: true, status: statusCode, fetchedAt: time.Now()}
	}

	robots, parseErr := robotstxt.FromBytes(body)
	if parseErr != nil {
		return &cacheEntry{allowAll: true, status: statusCode, fetchedAt: time.Now()}
	}

	return &cacheEntry{data: robots, status: statusCode, fetchedAt: time.Now()}
}

// doFetch performs the HTTP GET request for a robots.txt URL.
func (c *Checker) doFetch(ctx context.Context, robotsURL string) (body []byte, statusCode int, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if reqErr != nil {
		return nil, 0, fmt.Errorf("robots: create request: %w", reqErr)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, 0, fmt.Errorf("robots: fetch: %w", doErr)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxRobotsBodyBytes)

	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("robots: read body: %w", readErr)
	}

	return body, resp.StatusCode, nil
}
