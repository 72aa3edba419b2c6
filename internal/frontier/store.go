package frontier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/logger"
)

// Bounds on stored frontier data.
const (
	maxQueryResults       = 25
	maxSnippetLen         = 400
	maxSnapshotCooldowns  = 200
	maxFieldsFoundPerURL  = 64
	rankPenaltyFloor      = -1.5
	rankPenaltyCeil       = 0.5
	confidenceBoostCutoff = 0.6
)

// pathStat tracks per-(domain, pathSig) outcomes for dead-path learning.
type pathStat struct {
	NotFound int `json:"notfound"`
	OK       int `json:"ok"`
}

// Store is the per-category frontier: URL records, query records, the
// yields ledger, and learned dead-path statistics. One process owns the
// writer; all methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	category string
	policy   CooldownPolicy
	log      logger.Interface
	now      func() time.Time

	urls    map[string]*domain.URLRecord
	queries map[string]*domain.QueryRecord
	yields  []domain.YieldEntry
	paths   map[string]*pathStat

	snapshotPath string
}

// snapshotFile is the on-disk JSON shape of a Store.
type snapshotFile struct {
	Category string                         `json:"category"`
	URLs     map[string]*domain.URLRecord   `json:"urls"`
	Queries  map[string]*domain.QueryRecord `json:"queries"`
	Yields   []domain.YieldEntry            `json:"yields"`
	Paths    map[string]*pathStat           `json:"paths"`
	SavedAt  time.Time                      `json:"saved_at"`
}

// NewStore creates an empty frontier store for a category.
func NewStore(category string, policy CooldownPolicy, log logger.Interface) *Store {
	return &Store{
		category: category,
		policy:   policy.normalized(),
		log:      log.WithComponent("frontier"),
		now:      time.Now,
		urls:     make(map[string]*domain.URLRecord),
		queries:  make(map[string]*domain.QueryRecord),
		paths:    make(map[string]*pathStat),
	}
}

// SetClock overrides the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// QueryHash returns the stable hash for (productID, query). The query is
// normalized by lowercasing and collapsing whitespace before hashing.
func QueryHash(productID, query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(productID + "||" + normalized))
	return hex.EncodeToString(sum[:])
}

// ShouldSkipQuery reports whether a query is still under its cooldown.
// Force always bypasses the cooldown.
func (s *Store) ShouldSkipQuery(productID, query string, force bool) bool {
	if force {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.queries[QueryHash(productID, query)]
	if !ok {
		return false
	}

	cooldown := time.Duration(s.policy.QueryCooldownSeconds) * time.Second

	return s.now().Sub(record.LastAt) < cooldown
}

// RecordQuery upserts a query record, bounding results to maxQueryResults
// and trimming snippets to maxSnippetLen.
func (s *Store) RecordQuery(productID, query, provider string, fields []string, results []domain.QueryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := QueryHash(productID, query)
	now := s.now()

	record, ok := s.queries[hash]
	if !ok {
		record = &domain.QueryRecord{
			QueryHash: hash,
			ProductID: productID,
			Query:     query,
			FirstAt:   now,
		}
		s.queries[hash] = record
	}

	record.Attempts++
	record.LastAt = now
	record.Provider = provider
	record.Fields = mergeStrings(record.Fields, fields, maxFieldsFoundPerURL)

	if len(results) > maxQueryResults {
		results = results[:maxQueryResults]
	}
	for i := range results {
		if len(results[i].Snippet) > maxSnippetLen {
			results[i].Snippet = results[i].Snippet[:maxSnippetLen]
		}
	}
	record.Results = results
}

// ShouldSkipURL reports whether a URL may be fetched now. A URL is skipped
// when it is tombstoned, under cooldown, or its (domain, pathSig) has
// accumulated notfound_count >= pathPenaltyThreshold with zero OK fetches.
func (s *Store) ShouldSkipURL(rawURL string, force bool) domain.SkipVerdict {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return domain.SkipVerdict{Skip: true, Reason: "invalid_url"}
	}

	if force {
		return domain.SkipVerdict{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if record, ok := s.urls[canonical.URL]; ok {
		if record.Tombstoned {
			return domain.SkipVerdict{Skip: true, Reason: record.Cooldown.Reason}
		}
		if record.Cooldown.Active(now) {
			return domain.SkipVerdict{
				Skip:        true,
				Reason:      record.Cooldown.Reason,
				NextRetryAt: record.Cooldown.NextRetryAt,
			}
		}
	}

	if stat, ok := s.paths[pathKey(canonical.Domain, canonical.PathSig)]; ok {
		if stat.OK == 0 && stat.NotFound >= s.policy.PathPenaltyThreshold {
			return domain.SkipVerdict{Skip: true, Reason: ReasonPathPenalty}
		}
	}

	return domain.SkipVerdict{}
}

// FetchObservation is one fetch outcome to be recorded in the frontier.
type FetchObservation struct {
	URL             string
	FinalURL        string
	Status          int
	BlockedByRobots bool
	ContentHash     string
	FetchedAt       time.Time
}

// RecordFetch updates the URL record for a fetch outcome: status-bucket
// counters, cooldown per the policy table, tombstoning on 410/451, and the
// dead-path table. Re-invoking with an identical (url, status, ts,
// contentHash) tuple leaves everything unchanged except the monotonic
// fetch_count.
func (s *Store) RecordFetch(obs FetchObservation) {
	canonical, err := Canonicalize(obs.URL)
	if err != nil {
		s.log.Warn("record fetch: unparseable url", "url", obs.URL, "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.urlRecordLocked(canonical)
	record.FetchCount++
	record.LastFetch = obs.FetchedAt

	fetchKey := fmt.Sprintf("%s|%d|%d|%s", canonical.URL, obs.Status, obs.FetchedAt.Unix(), obs.ContentHash)
	if record.LastFetchKey == fetchKey {
		return
	}
	record.LastFetchKey = fetchKey
	record.LastStatus = obs.Status

	status := obs.Status
	if obs.BlockedByRobots {
		// Policy blocks are recorded as synthetic 451s so they tombstone.
		status = domain.StatusLegallyBlocked
		record.BlockedCount++
	}

	s.bucketLocked(record, canonical, obs, status)
	s.applyCooldownLocked(record, status, obs.FetchedAt)
}

// bucketLocked increments the status-bucket counter for the outcome.
func (s *Store) bucketLocked(record *domain.URLRecord, canonical Canonical, obs FetchObservation, status int) {
	switch {
	case status >= 200 && status < 300:
		record.OKCount++
		s.pathStatLocked(canonical).OK++
	case status >= 300 && status < 400:
		record.RedirectCount++
	case status == domain.StatusNotFound:
		record.NotFoundCount++
		s.pathStatLocked(canonical).NotFound++
	case status == domain.StatusGone, status == domain.StatusLegallyBlocked:
		record.GoneCount++
	case status == domain.StatusForbidden, status == domain.StatusTooManyRequests:
		record.BlockedCount++
	case status >= 500:
		record.ServerErrorCount++
	case status == 0:
		record.TimeoutCount++
	}

	if obs.FinalURL != "" && MustCanonicalURL(obs.FinalURL) != canonical.URL {
		record.RedirectCount++
	}
}

// applyCooldownLocked sets or clears the record's cooldown per the policy
// table, and tombstones permanently-gone URLs.
func (s *Store) applyCooldownLocked(record *domain.URLRecord, status int, fetchedAt time.Time) {
	seconds, reason := CooldownFor(status, record.FetchCount, s.policy)
	if seconds == 0 {
		record.Cooldown = domain.Cooldown{}
		return
	}

	record.Cooldown = domain.Cooldown{
		NextRetryAt: cooldownAfter(fetchedAt, seconds),
		Reason:      reason,
		Seconds:     seconds,
	}

	if status == domain.StatusGone || status == domain.StatusLegallyBlocked {
		record.Tombstoned = true
	}
}

// RecordYield appends an extraction outcome to the yields ledger and folds
// it into the URL record's running confidence mean and conflict count.
func (s *Store) RecordYield(rawURL, field, valueHash string, confidence float64, conflict bool) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.yields = append(s.yields, domain.YieldEntry{
		CanonicalURL: canonical.URL,
		Field:        field,
		ValueHash:    valueHash,
		Confidence:   confidence,
		Conflict:     conflict,
		RecordedAt:   s.now(),
	})

	record := s.urlRecordLocked(canonical)
	record.FieldsFound = mergeStrings(record.FieldsFound, []string{field}, maxFieldsFoundPerURL)
	if conflict {
		record.ConflictCount++
	}

	// Running mean over all yields for this URL.
	record.YieldCount++
	record.AvgConfidence += (confidence - record.AvgConfidence) / float64(record.YieldCount)
}

// RankPenaltyForURL returns a planner adjustment in [-1.5, +0.5] for the
// URL: dead statuses and conflicts push it down, a high-confidence domain
// nudges it up.
func (s *Store) RankPenaltyForURL(rawURL string) float64 {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return rankPenaltyFloor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	penalty := 0.0

	if record, ok := s.urls[canonical.URL]; ok {
		if record.NotFoundCount > 0 || record.GoneCount > 0 {
			penalty -= 0.75
		}
		if record.BlockedCount > 0 {
			penalty -= 0.25
		}
		if record.ConflictCount > 0 {
			penalty -= 0.25 * float64(minInt(record.ConflictCount, 2))
		}
	}

	if s.domainMeanConfidenceLocked(canonical.Domain) > confidenceBoostCutoff {
		penalty += 0.3
	}

	return clamp(penalty, rankPenaltyFloor, rankPenaltyCeil)
}

// Snapshot aggregates frontier state for one product: its query records,
// the distinct URL count, per-field yield counts, and up to 200 live cooldowns.
type Snapshot struct {
	ProductID       string                `json:"product_id"`
	Queries         []domain.QueryRecord  `json:"queries,omitempty"`
	DistinctURLs    int                   `json:"distinct_urls"`
	FieldYields     map[string]int        `json:"field_yields,omitempty"`
	LiveCooldowns   []domain.URLRecord    `json:"live_cooldowns,omitempty"`
	TombstonedCount int                   `json:"tombstoned_count"`
}

// SnapshotForProduct builds the product-scoped frontier aggregate.
func (s *Store) SnapshotForProduct(productID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ProductID:   productID,
		FieldYields: make(map[string]int),
	}

	for _, record := range s.queries {
		if record.ProductID == productID {
			snap.Queries = append(snap.Queries, *record)
		}
	}
	sort.Slice(snap.Queries, func(i, j int) bool {
		return snap.Queries[i].LastAt.After(snap.Queries[j].LastAt)
	})

	snap.DistinctURLs = len(s.urls)

	for _, y := range s.yields {
		snap.FieldYields[y.Field]++
	}

	now := s.now()
	for _, record := range s.urls {
		if record.Tombstoned {
			snap.TombstonedCount++
			continue
		}
		if record.Cooldown.Active(now) && len(snap.LiveCooldowns) < maxSnapshotCooldowns {
			snap.LiveCooldowns = append(snap.LiveCooldowns, *record)
		}
	}

	return snap
}

// URLRecord returns a copy of the record for a URL, if any.
func (s *Store) URLRecord(rawURL string) (domain.URLRecord, bool) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return domain.URLRecord{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.urls[canonical.URL]
	if !ok {
		return domain.URLRecord{}, false
	}
	return *record, true
}

// SetSnapshotPath sets the file the store saves to and loads from.
func (s *Store) SetSnapshotPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotPath = path
}

// Save persists the store as JSON with atomic-write semantics: the
// snapshot is written to a temp file in the same directory and renamed
// over the target.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshotPath == "" {
		return nil
	}

	file := snapshotFile{
		Category: s.category,
		URLs:     s.urls,
		Queries:  s.queries,
		Yields:   s.yields,
		Paths:    s.paths,
		SavedAt:  s.now(),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("frontier save: marshal: %w", err)
	}

	dir := filepath.Dir(s.snapshotPath)
	if mkdirErr := os.MkdirAll(dir, 0o755); mkdirErr != nil {
		return fmt.Errorf("frontier save: mkdir: %w", mkdirErr)
	}

	tmp, err := os.CreateTemp(dir, ".frontier-*.json")
	if err != nil {
		return fmt.Errorf("frontier save: create temp: %w", err)
	}

	if _, writeErr := tmp.Write(data); writeErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("frontier save: write: %w", writeErr)
	}

	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("frontier save: close: %w", closeErr)
	}

	if renameErr := os.Rename(tmp.Name(), s.snapshotPath); renameErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("frontier save: rename: %w", renameErr)
	}

	return nil
}

// Load restores the store from its snapshot file. A missing file is not
// an error; the store simply starts empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshotPath == "" {
		return nil
	}

	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("frontier load: read: %w", err)
	}

	var file snapshotFile
	if unmarshalErr := json.Unmarshal(data, &file); unmarshalErr != nil {
		return fmt.Errorf("frontier load: unmarshal: %w", unmarshalErr)
	}

	if file.URLs != nil {
		s.urls = file.URLs
	}
	if file.Queries != nil {
		s.queries = file.Queries
	}
	if file.Paths != nil {
		s.paths = file.Paths
	}
	s.yields = file.Yields

	return nil
}

// urlRecordLocked returns the record for a canonical URL, creating it on
// first use. Caller holds s.mu.
func (s *Store) urlRecordLocked(canonical Canonical) *domain.URLRecord {
	record, ok := s.urls[canonical.URL]
	if !ok {
		record = &domain.URLRecord{
			CanonicalURL: canonical.URL,
			Domain:       canonical.Domain,
			PathSig:      canonical.PathSig,
		}
		s.urls[canonical.URL] = record
	}
	return record
}

// pathStatLocked returns the dead-path stat for a canonical URL's
// (domain, pathSig), creating it on first use. Caller holds s.mu.
func (s *Store) pathStatLocked(canonical Canonical) *pathStat {
	key := pathKey(canonical.Domain, canonical.PathSig)
	stat, ok := s.paths[key]
	if !ok {
		stat = &pathStat{}
		s.paths[key] = stat
	}
	return stat
}

// domainMeanConfidenceLocked averages AvgConfidence over the domain's URLs.
func (s *Store) domainMeanConfidenceLocked(domainName string) float64 {
	var sum float64
	var n int
	for _, record := range s.urls {
		if record.Domain == domainName && record.AvgConfidence > 0 {
			sum += record.AvgConfidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func pathKey(domainName, pathSig string) string {
	return domainName + "|" + pathSig
}

// mergeStrings appends new unique values to existing, bounded to limit.
func mergeStrings(existing, incoming []string, limit int) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, dup := seen[v]; dup || v == "" {
			continue
		}
		if len(existing) >= limit {
			break
		}
		existing = append(existing, v)
		seen[v] = struct{}{}
	}
	return existing
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
