package domain

import "time"

// URL lifecycle states in the frontier.
const (
	URLStateUnknown    = "unknown"
	URLStateLive       = "live"
	URLStateSleeping   = "sleeping"
	URLStateTombstoned = "tombstoned"
)

// Cooldown describes when a URL or query may be retried and why it is resting.
type Cooldown struct {
	NextRetryAt time.Time `json:"next_retry_ts,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Seconds     int64     `json:"seconds,omitempty"`
}

// Active reports whether the cooldown is still in effect at now.
func (c *Cooldown) Active(now time.Time) bool {
	return !c.NextRetryAt.IsZero() && now.Before(c.NextRetryAt)
}

// URLRecord is the durable per-URL frontier state. Records are created on
// the first fetch attempt and never deleted; they are the audit trail.
type URLRecord struct {
	CanonicalURL string `json:"canonical_url"`
	Domain       string `json:"domain"`
	PathSig      string `json:"path_sig"`

	FetchCount       int `json:"fetch_count"`
	OKCount          int `json:"ok_count"`
	RedirectCount    int `json:"redirect_count"`
	NotFoundCount    int `json:"notfound_count"`
	GoneCount        int `json:"gone_count"`
	BlockedCount     int `json:"blocked_count"`
	ServerErrorCount int `json:"server_error_count"`
	TimeoutCount     int `json:"timeout_count"`

	FieldsFound   []string `json:"fields_found,omitempty"`
	AvgConfidence float64  `json:"avg_confidence,omitempty"`
	YieldCount    int      `json:"yield_count,omitempty"`
	ConflictCount int      `json:"conflict_count,omitempty"`

	Cooldown   Cooldown  `json:"cooldown,omitempty"`
	Tombstoned bool      `json:"tombstoned,omitempty"`
	LastStatus int       `json:"last_status,omitempty"`
	LastFetch  time.Time `json:"last_fetch,omitempty"`

	// lastFetchKey deduplicates idempotent recordFetch retries.
	LastFetchKey string `json:"last_fetch_key,omitempty"`
}

// State derives the lifecycle state of the record at now.
func (r *URLRecord) State(now time.Time) string {
	switch {
	case r.Tombstoned:
		return URLStateTombstoned
	case r.Cooldown.Active(now):
		return URLStateSleeping
	case r.FetchCount > 0:
		return URLStateLive
	default:
		return URLStateUnknown
	}
}

// QueryResult is one bounded search result stored with a query record.
type QueryResult struct {
	Rank    int    `json:"rank"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Host    string `json:"host,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// QueryRecord is the durable per-query frontier state, keyed by
// hash(productId || normalized query).
type QueryRecord struct {
	QueryHash string        `json:"query_hash"`
	ProductID string        `json:"product_id"`
	Query     string        `json:"query"`
	Provider  string        `json:"provider,omitempty"`
	Attempts  int           `json:"attempts"`
	FirstAt   time.Time     `json:"first_ts"`
	LastAt    time.Time     `json:"last_ts"`
	Fields    []string      `json:"fields,omitempty"`
	Results   []QueryResult `json:"results,omitempty"`
}

// YieldEntry is one row of the yields ledger used for rank-penalty computation.
type YieldEntry struct {
	CanonicalURL string    `json:"canonical_url"`
	Field        string    `json:"field"`
	ValueHash    string    `json:"value_hash"`
	Confidence   float64   `json:"confidence"`
	Conflict     bool      `json:"conflict,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// SkipVerdict is the frontier's answer to "may this URL be fetched now".
type SkipVerdict struct {
	Skip        bool      `json:"skip"`
	Reason      string    `json:"reason,omitempty"`
	NextRetryAt time.Time `json:"next_retry_ts,omitempty"`
}
