package intel

import "sort"

// Promotion thresholds.
const (
	promoteMinProducts       = 20
	promoteMinIdentityRate   = 0.98
	promoteMinFieldsAccepted = 10
	promoteMinCritical       = 1
)

// Demotion thresholds.
const (
	demoteMinAttempts         = 8
	demoteIdentityRateBelow   = 0.50
	demoteHTTPOKRateBelow     = 0.30
	demoteConflictRateAbove   = 0.40
	demoteRewardStrengthBelow = -0.30
)

// Suggestion proposes moving a domain between the candidate and approved
// lists, with the rates that justify it.
type Suggestion struct {
	Domain  string   `json:"domain"`
	Rates   Rates    `json:"rates"`
	Reasons []string `json:"reasons,omitempty"`
}

// BrandExpansionPlan proposes seeding more of a brand's products from a
// domain that has proven strong for that brand.
type BrandExpansionPlan struct {
	Brand   string   `json:"brand"`
	Domain  string   `json:"domain"`
	Rates   Rates    `json:"rates"`
	Reasons []string `json:"reasons,omitempty"`
}

// Report is the dated intel delta for one category.
type Report struct {
	Category    string               `json:"category"`
	Date        string               `json:"date"`
	DomainStats []DomainStats        `json:"domain_stats"`
	Promotions  []Suggestion         `json:"promotion_suggestions,omitempty"`
	Demotions   []Suggestion         `json:"demotion_suggestions,omitempty"`
	Expansions  []BrandExpansionPlan `json:"brand_expansion_plans,omitempty"`
}

// Promotions lists domains meeting every promotion threshold.
func (s *Store) Promotions(category string) []Suggestion {
	var out []Suggestion
	for _, stats := range s.Domains(category) {
		rates := Derive(&stats)
		if stats.ProductsSeen >= promoteMinProducts &&
			rates.IdentityMatchRate >= promoteMinIdentityRate &&
			stats.MajorAnchorConflict == 0 &&
			stats.FieldsAccepted >= promoteMinFieldsAccepted &&
			stats.CriticalFieldsAccepted >= promoteMinCritical {
			out = append(out, Suggestion{Domain: stats.Domain, Rates: rates, Reasons: []string{"all_promotion_thresholds_met"}})
		}
	}
	return out
}

// Demotions lists domains with enough attempts and at least one failing
// rate.
func (s *Store) Demotions(category string) []Suggestion {
	var out []Suggestion
	for _, stats := range s.Domains(category) {
		if stats.Attempts < demoteMinAttempts {
			continue
		}

		rates := Derive(&stats)
		var reasons []string
		if rates.IdentityMatchRate < demoteIdentityRateBelow {
			reasons = append(reasons, "identity_match_rate_low")
		}
		if rates.HTTPOKRate < demoteHTTPOKRateBelow {
			reasons = append(reasons, "http_ok_rate_low")
		}
		if rates.AnchorConflictRate > demoteConflictRateAbove {
			reasons = append(reasons, "anchor_conflict_rate_high")
		}
		if rates.FieldRewardStrength < demoteRewardStrengthBelow {
			reasons = append(reasons, "field_reward_strength_negative")
		}

		if len(reasons) > 0 {
			out = append(out, Suggestion{Domain: stats.Domain, Rates: rates, Reasons: reasons})
		}
	}
	return out
}

// Brand-expansion thresholds. Looser than promotion: a domain only needs
// to prove itself on a handful of the brand's products before the rest of
// the brand is worth seeding from it.
const (
	expandMinProducts       = 3
	expandMinIdentityRate   = 0.95
	expandMinFieldsAccepted = 5
)

// BrandExpansions lists (brand, domain) pairs strong enough to seed the
// brand's remaining products from.
func (s *Store) BrandExpansions(category string) []BrandExpansionPlan {
	var out []BrandExpansionPlan
	for _, bs := range s.BrandDomains(category) {
		stats := bs.Stats
		rates := Derive(&stats)
		if stats.ProductsSeen >= expandMinProducts &&
			rates.IdentityMatchRate >= expandMinIdentityRate &&
			stats.MajorAnchorConflict == 0 &&
			stats.FieldsAccepted >= expandMinFieldsAccepted {
			out = append(out, BrandExpansionPlan{
				Brand:   bs.Brand,
				Domain:  stats.Domain,
				Rates:   rates,
				Reasons: []string{"strong_brand_domain_history"},
			})
		}
	}
	return out
}

// YieldMatrix returns per-domain, per-field acceptance helpfulness.
func (s *Store) YieldMatrix(category string) map[string]map[string]float64 {
	matrix := make(map[string]map[string]float64)
	for _, stats := range s.Domains(category) {
		if len(stats.FieldHelpfulness) == 0 {
			continue
		}
		row := make(map[string]float64, len(stats.FieldHelpfulness))
		for field, reward := range stats.FieldHelpfulness {
			row[field] = reward
		}
		matrix[stats.Domain] = row
	}
	return matrix
}

// CoverageGaps classifies fields by how many domains helpfully contribute
// to them: zero contributors are gaps, a single contributor or weak yield
// marks the field weak.
type CoverageGaps struct {
	Gaps []string `json:"gaps,omitempty"`
	Weak []string `json:"weak,omitempty"`
}

// weakYieldThreshold marks a field weak when its best contribution falls
// below it.
const weakYieldThreshold = 0.30

// CoverageReport classifies every field of the category schema.
func (s *Store) CoverageReport(category string, fields []string) CoverageGaps {
	matrix := s.YieldMatrix(category)

	var report CoverageGaps
	for _, field := range fields {
		contributors := 0
		best := 0.0
		for _, row := range matrix {
			if reward, ok := row[field]; ok && reward > 0 {
				contributors++
				if reward > best {
					best = reward
				}
			}
		}

		switch {
		case contributors == 0:
			report.Gaps = append(report.Gaps, field)
		case contributors == 1 || best < weakYieldThreshold:
			report.Weak = append(report.Weak, field)
		}
	}

	sort.Strings(report.Gaps)
	sort.Strings(report.Weak)
	return report
}

// DailyReport assembles the dated intel delta for one category.
func (s *Store) DailyReport(category string) Report {
	return Report{
		Category:    category,
		Date:        s.now().UTC().Format("2006-01-02"),
		DomainStats: s.Domains(category),
		Promotions:  s.Promotions(category),
		Demotions:   s.Demotions(category),
		Expansions:  s.BrandExpansions(category),
	}
}
