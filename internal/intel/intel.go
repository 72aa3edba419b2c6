// Package intel accumulates per-domain harvest statistics and derives the
// planner scores, promotion and demotion suggestions, and coverage reports
// that steer later rounds.
package intel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxRecentProducts bounds the per-domain recent product ring.
const maxRecentProducts = 200

// DomainStats are the raw counters for one (category, domain) pair.
type DomainStats struct {
	Domain                 string             `json:"domain"`
	Attempts               int                `json:"attempts"`
	HTTPOK                 int                `json:"http_ok"`
	IdentityMatch          int                `json:"identity_match"`
	MajorAnchorConflict    int                `json:"major_anchor_conflict"`
	FieldsContributed      int                `json:"fields_contributed"`
	FieldsAccepted         int                `json:"fields_accepted"`
	CriticalFieldsAccepted int                `json:"critical_fields_accepted"`
	FieldHelpfulness       map[string]float64 `json:"field_helpfulness,omitempty"`
	ProductsSeen           int                `json:"products_seen"`
	RecentProducts         []string           `json:"recent_products,omitempty"`
}

// Rates are the derived metrics computed on read.
type Rates struct {
	HTTPOKRate          float64 `json:"http_ok_rate"`
	IdentityMatchRate   float64 `json:"identity_match_rate"`
	AnchorConflictRate  float64 `json:"major_anchor_conflict_rate"`
	AcceptanceYield     float64 `json:"acceptance_yield"`
	FieldRewardStrength float64 `json:"field_reward_strength"`
	PlannerScore        float64 `json:"planner_score"`
}

// Observation is one domain's outcome for one product page or round.
type Observation struct {
	Category  string
	Domain    string
	Brand     string
	ProductID string

	HTTPOK         bool
	IdentityMatch  bool
	AnchorConflict bool

	FieldsContributed      int
	FieldsAccepted         int
	CriticalFieldsAccepted int
	// FieldRewards grades each contributed field in [-1, 1]: accepted
	// winners positive, conflicting losers negative.
	FieldRewards map[string]float64
}

// Store holds intel for every category, brand-partitioned.
type Store struct {
	mu           sync.RWMutex
	categories   map[string]*categoryIntel
	snapshotPath string
	now          func() time.Time
}

type categoryIntel struct {
	Domains map[string]*DomainStats `json:"domains"`
	// ByBrand holds the same counters partitioned per brand, keyed
	// "brand|domain".
	ByBrand map[string]*DomainStats `json:"by_brand"`
}

// NewStore creates an intel store. snapshotPath may be empty for
// in-memory-only use.
func NewStore(snapshotPath string) *Store {
	return &Store{
		categories:   make(map[string]*categoryIntel),
		snapshotPath: snapshotPath,
		now:          time.Now,
	}
}

// Record folds one observation into the category's counters.
func (s *Store) Record(obs Observation) {
	if obs.Category == "" || obs.Domain == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cat := s.category(obs.Category)
	apply(statsFor(cat.Domains, obs.Domain), obs)
	if obs.Brand != "" {
		apply(statsFor(cat.ByBrand, obs.Brand+"|"+obs.Domain), obs)
	}
}

func (s *Store) category(name string) *categoryIntel {
	cat, ok := s.categories[name]
	if !ok {
		cat = &categoryIntel{
			Domains: make(map[string]*DomainStats),
			ByBrand: make(map[string]*DomainStats),
		}
		s.categories[name] = cat
	}
	return cat
}

func statsFor(m map[string]*DomainStats, key string) *DomainStats {
	stats, ok := m[key]
	if !ok {
		stats = &DomainStats{Domain: key, FieldHelpfulness: make(map[string]float64)}
		m[key] = stats
	}
	return stats
}

func apply(stats *DomainStats, obs Observation) {
	stats.Attempts++
	if obs.HTTPOK {
		stats.HTTPOK++
	}
	if obs.IdentityMatch {
		stats.IdentityMatch++
	}
	if obs.AnchorConflict {
		stats.MajorAnchorConflict++
	}
	stats.FieldsContributed += obs.FieldsContributed
	stats.FieldsAccepted += obs.FieldsAccepted
	stats.CriticalFieldsAccepted += obs.CriticalFieldsAccepted

	for field, reward := range obs.FieldRewards {
		stats.FieldHelpfulness[field] += reward
	}

	if obs.ProductID != "" && !containsString(stats.RecentProducts, obs.ProductID) {
		stats.ProductsSeen++
		stats.RecentProducts = append(stats.RecentProducts, obs.ProductID)
		if len(stats.RecentProducts) > maxRecentProducts {
			stats.RecentProducts = stats.RecentProducts[len(stats.RecentProducts)-maxRecentProducts:]
		}
	}
}

// Derive computes the read-time rates for one stats record.
func Derive(stats *DomainStats) Rates {
	rates := Rates{}
	if stats.Attempts > 0 {
		rates.HTTPOKRate = float64(stats.HTTPOK) / float64(stats.Attempts)
		rates.IdentityMatchRate = float64(stats.IdentityMatch) / float64(stats.Attempts)
		rates.AnchorConflictRate = float64(stats.MajorAnchorConflict) / float64(stats.Attempts)
	}
	if stats.FieldsContributed > 0 {
		rates.AcceptanceYield = float64(stats.FieldsAccepted) / float64(stats.FieldsContributed)
	}
	if len(stats.FieldHelpfulness) > 0 {
		total := 0.0
		for _, reward := range stats.FieldHelpfulness {
			total += reward
		}
		rates.FieldRewardStrength = total / float64(len(stats.FieldHelpfulness))
	}

	rates.PlannerScore = 0.5*rates.IdentityMatchRate +
		0.2*(1-rates.AnchorConflictRate) +
		0.1*rates.HTTPOKRate +
		0.2*minFloat(1, 10*rates.AcceptanceYield)

	return rates
}

// PlannerScore returns the planner score for a domain, zero when the
// domain is unknown.
func (s *Store) PlannerScore(category, domain string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[category]
	if !ok {
		return 0
	}
	stats, ok := cat.Domains[domain]
	if !ok {
		return 0
	}
	return Derive(stats).PlannerScore
}

// Stats returns a copy of one domain's counters.
func (s *Store) Stats(category, domain string) (DomainStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[category]
	if !ok {
		return DomainStats{}, false
	}
	stats, ok := cat.Domains[domain]
	if !ok {
		return DomainStats{}, false
	}
	return cloneStats(stats), true
}

// Domains lists a category's domains sorted by planner score, best first.
func (s *Store) Domains(category string) []DomainStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[category]
	if !ok {
		return nil
	}

	out := make([]DomainStats, 0, len(cat.Domains))
	for _, stats := range cat.Domains {
		out = append(out, cloneStats(stats))
	}

	sort.Slice(out, func(i, j int) bool {
		si, sj := Derive(&out[i]).PlannerScore, Derive(&out[j]).PlannerScore
		if si != sj {
			return si > sj
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// BrandStats is one brand-partitioned counter record.
type BrandStats struct {
	Brand string
	Stats DomainStats
}

// BrandDomains returns the brand-partitioned stats for a category, the
// Domain field holding the bare domain again.
func (s *Store) BrandDomains(category string) []BrandStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[category]
	if !ok {
		return nil
	}

	out := make([]BrandStats, 0, len(cat.ByBrand))
	for key, stats := range cat.ByBrand {
		brand, domain, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		cloned := cloneStats(stats)
		cloned.Domain = domain
		out = append(out, BrandStats{Brand: brand, Stats: cloned})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Brand != out[j].Brand {
			return out[i].Brand < out[j].Brand
		}
		return out[i].Stats.Domain < out[j].Stats.Domain
	})
	return out
}

func cloneStats(stats *DomainStats) DomainStats {
	out := *stats
	out.FieldHelpfulness = make(map[string]float64, len(stats.FieldHelpfulness))
	for k, v := range stats.FieldHelpfulness {
		out.FieldHelpfulness[k] = v
	}
	out.RecentProducts = append([]string(nil), stats.RecentProducts...)
	return out
}

// Save writes the intel snapshot atomically.
func (s *Store) Save() error {
	if s.snapshotPath == "" {
		return nil
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s.categories, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("intel: marshal snapshot: %w", err)
	}

	if mkErr := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o750); mkErr != nil {
		return fmt.Errorf("intel: snapshot dir: %w", mkErr)
	}

	tmp := s.snapshotPath + ".tmp"
	if writeErr := os.WriteFile(tmp, data, 0o600); writeErr != nil {
		return fmt.Errorf("intel: write snapshot: %w", writeErr)
	}
	if renameErr := os.Rename(tmp, s.snapshotPath); renameErr != nil {
		return fmt.Errorf("intel: commit snapshot: %w", renameErr)
	}
	return nil
}

// Load restores a snapshot; a missing file leaves the store empty.
func (s *Store) Load() error {
	if s.snapshotPath == "" {
		return nil
	}

	data, err := os.ReadFile(s.snapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("intel: read snapshot: %w", err)
	}

	categories := make(map[string]*categoryIntel)
	if decodeErr := json.Unmarshal(data, &categories); decodeErr != nil {
		return fmt.Errorf("intel: decode snapshot: %w", decodeErr)
	}

	s.mu.Lock()
	s.categories = categories
	s.mu.Unlock()
	return nil
}

// SetClock injects a clock for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
