package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jonesrussell/spechawk/internal/domain"
	"github.com/jonesrussell/spechawk/internal/identity"
)

// FieldStatus is the engine's outcome for one field.
type FieldStatus string

// Field statuses.
const (
	StatusAccepted   FieldStatus = "accepted"
	StatusFlagged    FieldStatus = "flagged_for_review"
	StatusUnresolved FieldStatus = "unresolved"
)

// Config holds the engine's scoring knobs.
type Config struct {
	TierWeights   map[domain.Tier]float64
	RoleWeights   map[domain.Role]float64
	MethodWeights map[domain.Method]float64
	AutoAccept    float64
	FlagReview    float64
}

// DefaultConfig returns the standard weight tables.
func DefaultConfig() Config {
	return Config{
		TierWeights: map[domain.Tier]float64{
			domain.TierManufacturer: 1.0,
			domain.TierLab:          0.8,
			domain.TierRetail:       0.6,
			domain.TierUnverified:   0.4,
		},
		RoleWeights: map[domain.Role]float64{
			domain.RoleManufacturer: 1.0,
			domain.RoleLabReview:    0.9,
			domain.RoleDatabase:     0.8,
			domain.RoleRetail:       0.7,
			domain.RoleHelper:       0.6,
			domain.RoleOther:        0.5,
		},
		MethodWeights: map[domain.Method]float64{
			domain.MethodDOMTable:    1.0,
			domain.MethodJSONLD:      1.0,
			domain.MethodEmbedded:    0.9,
			domain.MethodNetwork:     0.9,
			domain.MethodComponentDB: 0.9,
			domain.MethodDOMInline:   0.8,
			domain.MethodTemporal:    0.6,
			domain.MethodLLM:         0.5,
		},
		AutoAccept: 0.95,
		FlagReview: 0.65,
	}
}

// Reference is a component-DB anchor for one field.
type Reference struct {
	Value  float64
	Policy domain.VariancePolicy
}

// Input bundles everything one resolution pass needs beyond the candidates.
type Input struct {
	Rules      *domain.RuleSet
	Components *domain.ComponentDB
	// Decisions maps source URLs to their identity gate decisions.
	// Candidates from inadmissible pages never enter clustering.
	Decisions map[string]identity.Decision
	// IdentityStatus caps every field's confidence.
	IdentityStatus identity.Status
	// References anchors numeric fields to component-DB values.
	References map[string]Reference
	// RankWeight multiplies a candidate's weight by its URL standing,
	// 1.0 when nil.
	RankWeight func(url string) float64
}

// FieldResult is the engine's verdict for one field.
type FieldResult struct {
	Field         string            `json:"field"`
	Value         string            `json:"value,omitempty"`
	Unit          string            `json:"unit,omitempty"`
	Confidence    float64           `json:"confidence"`
	Status        FieldStatus       `json:"status"`
	Confirmations int               `json:"confirmations"`
	PassTarget    int               `json:"pass_target"`
	NeedsAIReview bool              `json:"needs_ai_review,omitempty"`
	ReasonCodes   []string          `json:"reason_codes,omitempty"`
	Evidence      []domain.Evidence `json:"evidence,omitempty"`
	// ConflictCount is the number of competing value clusters.
	ConflictCount int `json:"conflict_count,omitempty"`
}

// Engine scores candidate clusters per field.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine; zero-valued config fields take defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.TierWeights == nil {
		cfg.TierWeights = def.TierWeights
	}
	if cfg.RoleWeights == nil {
		cfg.RoleWeights = def.RoleWeights
	}
	if cfg.MethodWeights == nil {
		cfg.MethodWeights = def.MethodWeights
	}
	if cfg.AutoAccept == 0 {
		cfg.AutoAccept = def.AutoAccept
	}
	if cfg.FlagReview == 0 {
		cfg.FlagReview = def.FlagReview
	}
	return &Engine{cfg: cfg}
}

// ResolveAll groups candidates by field and resolves each declared field.
// Fields with no candidates resolve as unresolved with reason
// not_found_after_search.
func (e *Engine) ResolveAll(in Input, candidates []domain.Candidate) map[string]FieldResult {
	byField := make(map[string][]domain.Candidate)
	for _, c := range candidates {
		byField[c.Field] = append(byField[c.Field], c)
	}

	results := make(map[string]FieldResult, len(in.Rules.Fields))
	for key := range in.Rules.Fields {
		results[key] = e.Resolve(in, key, byField[key])
	}
	return results
}

// cluster is one canonical value with its supporting candidates.
type cluster struct {
	key        string
	display    string
	numeric    float64
	isNumeric  bool
	score      float64
	candidates []domain.Candidate
}

// Resolve clusters one field's candidates and selects a winner.
func (e *Engine) Resolve(in Input, field string, candidates []domain.Candidate) FieldResult {
	rule, _ := in.Rules.Rule(field)
	result := FieldResult{
		Field:      field,
		Status:     StatusUnresolved,
		PassTarget: rule.EffectivePassTarget(),
		Unit:       rule.CanonicalUnit,
	}

	admitted := e.admit(in, candidates)
	if len(admitted) == 0 {
		result.ReasonCodes = append(result.ReasonCodes, "not_found_after_search")
		return result
	}

	clusters := e.clusterCandidates(in, rule, admitted)
	if len(clusters) == 0 {
		result.ReasonCodes = append(result.ReasonCodes, "not_found_after_search")
		return result
	}
	result.ConflictCount = len(clusters) - 1

	// Variance anchoring adjusts cluster scores before winner selection.
	ref, hasRef := in.References[field]
	needsReview := false
	if hasRef {
		for _, cl := range clusters {
			if !cl.isNumeric {
				continue
			}
			variance := CompareVariance(ref.Policy, cl.numeric, ref.Value)
			cl.score *= variance.Score
			if variance.NeedsReview {
				needsReview = true
			}
		}
	}

	winner := pickWinner(clusters, in.Decisions)

	result.Value = winner.display
	result.Confirmations = len(winner.candidates)
	for _, c := range winner.candidates {
		result.Evidence = append(result.Evidence, c.Evidence)
	}

	confidence := math.Min(1, winner.score/float64(result.PassTarget))
	confidence = math.Min(confidence, identity.ConfidenceCap(in.IdentityStatus))
	result.Confidence = confidence

	// The winner itself may violate its anchor.
	if hasRef && winner.isNumeric {
		variance := CompareVariance(ref.Policy, winner.numeric, ref.Value)
		if variance.NeedsReview {
			result.NeedsAIReview = true
			result.ReasonCodes = append(result.ReasonCodes, "variance_violation")
		}
	}
	if needsReview && !result.NeedsAIReview {
		result.ReasonCodes = append(result.ReasonCodes, "variance_violation_in_cluster")
	}

	result.Status = e.status(result, winner, in.Decisions)
	return result
}

// admit filters candidates to pages whose identity decision allows
// consensus participation.
func (e *Engine) admit(in Input, candidates []domain.Candidate) []domain.Candidate {
	if in.Decisions == nil {
		return candidates
	}

	admitted := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if decision, ok := in.Decisions[c.SourceURL]; ok && decision.Admissible() {
			admitted = append(admitted, c)
		}
	}
	return admitted
}

// clusterCandidates groups candidates by canonical value and sums their
// raw weights.
func (e *Engine) clusterCandidates(in Input, rule domain.FieldRule, candidates []domain.Candidate) []*cluster {
	byKey := make(map[string]*cluster)

	for _, c := range candidates {
		key, display, numeric, isNumeric := e.canonicalValue(in, rule, c.Value)
		if key == "" {
			continue
		}

		cl, ok := byKey[key]
		if !ok {
			cl = &cluster{key: key, display: display, numeric: numeric, isNumeric: isNumeric}
			byKey[key] = cl
		}
		cl.candidates = append(cl.candidates, c)
		cl.score += e.rawWeight(in, c)
	}

	clusters := make([]*cluster, 0, len(byKey))
	for _, cl := range byKey {
		clusters = append(clusters, cl)
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].key < clusters[j].key })
	return clusters
}

// rawWeight multiplies the candidate's tier, role, method, and URL-rank
// weights.
func (e *Engine) rawWeight(in Input, c domain.Candidate) float64 {
	weight := e.cfg.TierWeights[c.Tier] * e.cfg.RoleWeights[c.Role] * e.cfg.MethodWeights[c.Method]
	if in.RankWeight != nil {
		weight *= in.RankWeight(c.SourceURL)
	}
	return weight
}

// canonicalValue normalizes a raw candidate value per the field's type.
func (e *Engine) canonicalValue(in Input, rule domain.FieldRule, raw string) (key, display string, numeric float64, isNumeric bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", 0, false
	}

	switch rule.Type {
	case domain.FieldTypeNumber, domain.FieldTypeInteger:
		n, ok := CanonicalNumber(raw, rule.CanonicalUnit)
		if !ok {
			return "", "", 0, false
		}
		if rule.Type == domain.FieldTypeInteger {
			n = math.Round(n)
		}
		display = formatNumber(n)
		return display, display, n, true

	case domain.FieldTypeEnum:
		canonical := canonicalEnum(rule, raw)
		if canonical == "" {
			return "", "", 0, false
		}
		return canonical, canonical, 0, false

	case domain.FieldTypeComponentRef:
		if in.Components != nil {
			if entry, ok := in.Components.Resolve(rule.Key, raw); ok {
				return strings.ToLower(entry.CanonicalName), entry.CanonicalName, 0, false
			}
		}
		return normalizeText(raw), raw, 0, false

	case domain.FieldTypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "yes", "1":
			return "true", "true", 0, false
		case "false", "no", "0":
			return "false", "false", 0, false
		}
		return "", "", 0, false

	default:
		return normalizeText(raw), raw, 0, false
	}
}

// canonicalEnum maps raw text onto one of the rule's enum values.
func canonicalEnum(rule domain.FieldRule, raw string) string {
	normalized := normalizeText(raw)
	for _, v := range rule.EnumValues {
		if normalizeText(v) == normalized {
			return v
		}
	}
	// Substring fallback: "Wireless (HyperSpeed)" matches "wireless".
	for _, v := range rule.EnumValues {
		if strings.Contains(normalized, normalizeText(v)) {
			return v
		}
	}
	return ""
}

// pickWinner selects the highest-scoring cluster with deterministic
// tie-breaking: tier-1 confirmed count, earliest quote span, lowest
// candidate id.
func pickWinner(clusters []*cluster, decisions map[string]identity.Decision) *cluster {
	best := clusters[0]
	for _, cl := range clusters[1:] {
		if clusterLess(best, cl, decisions) {
			best = cl
		}
	}
	return best
}

// clusterLess reports whether b beats a.
func clusterLess(a, b *cluster, decisions map[string]identity.Decision) bool {
	if b.score != a.score {
		return b.score > a.score
	}
	if tb, ta := tierOneConfirmed(b, decisions), tierOneConfirmed(a, decisions); tb != ta {
		return tb > ta
	}
	if sb, sa := earliestSpan(b), earliestSpan(a); sb != sa {
		return sb < sa
	}
	return lowestID(b) < lowestID(a)
}

func tierOneConfirmed(cl *cluster, decisions map[string]identity.Decision) int {
	count := 0
	for _, c := range cl.candidates {
		if c.Tier == domain.TierManufacturer && decisions[c.SourceURL] == identity.DecisionConfirmed {
			count++
		}
	}
	return count
}

func earliestSpan(cl *cluster) int {
	earliest := math.MaxInt32
	for _, c := range cl.candidates {
		if c.Evidence.QuoteSpan[0] < earliest {
			earliest = c.Evidence.QuoteSpan[0]
		}
	}
	return earliest
}

func lowestID(cl *cluster) string {
	lowest := ""
	for _, c := range cl.candidates {
		if lowest == "" || c.ID < lowest {
			lowest = c.ID
		}
	}
	return lowest
}

// status applies the acceptance bands.
func (e *Engine) status(result FieldResult, winner *cluster, decisions map[string]identity.Decision) FieldStatus {
	confirmed := false
	for _, c := range winner.candidates {
		if decisions == nil || decisions[c.SourceURL] == identity.DecisionConfirmed {
			confirmed = true
			break
		}
	}

	switch {
	case result.NeedsAIReview:
		if result.Confidence >= e.cfg.FlagReview {
			return StatusFlagged
		}
		return StatusUnresolved
	case result.Confidence >= e.cfg.AutoAccept && confirmed:
		return StatusAccepted
	case result.Confidence >= e.cfg.FlagReview:
		return StatusFlagged
	default:
		return StatusUnresolved
	}
}

// normalizeText lowercases and collapses non-alphanumerics to single
// spaces for cluster keying.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

// formatNumber renders integers without a decimal tail.
func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
