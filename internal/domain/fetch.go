package domain

import "time"

// FetchMode names a fetcher implementation in the hierarchy.
type FetchMode string

// Fetch modes, cheapest to heaviest.
const (
	ModeDryRun  FetchMode = "dryrun"
	ModeHTTP    FetchMode = "http"
	ModeCrawler FetchMode = "crawler"
	ModeBrowser FetchMode = "browser-full"
)

// Dead HTTP statuses. These tombstone a URL and suppress extraction.
const (
	StatusNotFound        = 404
	StatusGone            = 410
	StatusLegallyBlocked  = 451
	StatusForbidden       = 403
	StatusTooManyRequests = 429
)

// Source is one plannable fetch target for a round.
type Source struct {
	URL string `json:"url"`
	// DiscoveryOnly sources are mined for further URLs; their candidates
	// still pass the identity gate before consensus.
	DiscoveryOnly bool `json:"discovery_only,omitempty"`
	// ForcedMode pins the fetcher mode for this source's host. Forced
	// modes never participate in fallback.
	ForcedMode FetchMode `json:"forced_mode,omitempty"`
	// RateLimitMs overrides the per-host minimum delay for this source.
	RateLimitMs int `json:"rate_limit_ms,omitempty"`
}

// RecordedResponse is one captured network payload from a fetch, with
// secrets redacted and JSON bodies truncated.
type RecordedResponse struct {
	URL         string        `json:"url"`
	Method      string        `json:"method"`
	Status      int           `json:"status"`
	ContentType string        `json:"content_type"`
	Body        []byte        `json:"body,omitempty"`
	Class       ResponseClass `json:"class"`
	Truncated   bool          `json:"truncated,omitempty"`
}

// ResponseClass categorizes a captured network payload.
type ResponseClass string

// Response classes.
const (
	ClassVariantMatrix  ResponseClass = "variant_matrix"
	ClassSpecs          ResponseClass = "specs"
	ClassPricing        ResponseClass = "pricing"
	ClassReviews        ResponseClass = "reviews"
	ClassProductPayload ResponseClass = "product_payload"
	ClassGraphQLReplay  ResponseClass = "graphql_replay"
	ClassFetchJSON      ResponseClass = "fetch_json"
	ClassUnknown        ResponseClass = "unknown"
)

// FetchResult is the common contract returned by every fetcher mode.
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"`
	Status      int           `json:"status"`
	ContentType string        `json:"content_type"`
	Body        []byte        `json:"-"`
	Bytes       int           `json:"bytes"`
	ElapsedMs   int64         `json:"elapsed_ms"`
	Error       string        `json:"error,omitempty"`
	BlockedBy   bool          `json:"blocked_by_robots,omitempty"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Mode        FetchMode     `json:"mode,omitempty"`
	Responses   []RecordedResponse `json:"-"`
}

// OK reports whether the fetch succeeded: 2xx/3xx with no transport error.
func (r *FetchResult) OK() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 400
}

// Dead reports whether the URL is permanently gone (404, 410, 451).
func (r *FetchResult) Dead() bool {
	switch r.Status {
	case StatusNotFound, StatusGone, StatusLegallyBlocked:
		return true
	}
	return false
}

// Redirected reports whether the fetch landed on a different canonical URL.
// Callers supply the canonicalizer so the result stays a pure value.
func (r *FetchResult) Redirected(canonicalize func(string) string) bool {
	if r.FinalURL == "" || r.FinalURL == r.URL {
		return false
	}
	return canonicalize(r.URL) != canonicalize(r.FinalURL)
}

// ShouldExtract reports whether extractors may run on this result.
func (r *FetchResult) ShouldExtract() bool {
	return r.OK() && !r.Dead() && !r.BlockedBy
}

// Transient reports whether the failure is retryable (timeout, 429, 5xx).
func (r *FetchResult) Transient() bool {
	if r.Status == 0 && r.Error != "" {
		return true
	}
	return r.Status == StatusTooManyRequests || r.Status >= 500
}
