package domain

import "time"

// TrafficColor is the review-surface color for a field outcome.
type TrafficColor string

// Traffic-light colors.
const (
	ColorGreen  TrafficColor = "green"
	ColorYellow TrafficColor = "yellow"
	ColorRed    TrafficColor = "red"
	ColorGray   TrafficColor = "gray"
)

// FieldStatus names the acceptance state of a merged field.
type FieldStatus string

// Field acceptance states.
const (
	FieldAccepted   FieldStatus = "accepted"
	FieldFlagged    FieldStatus = "flagged_for_review"
	FieldUnresolved FieldStatus = "unresolved"
)

// Reason codes attached to field and run outcomes.
const (
	ReasonNotFoundAfterSearch       = "not_found_after_search"
	ReasonBelowPassTarget           = "below_pass_target"
	ReasonIdentityCapped            = "identity_capped"
	ReasonVarianceViolation         = "variance_violation"
	ReasonBelowRequiredCompleteness = "BELOW_REQUIRED_COMPLETENESS"
	ReasonIdentityFailed            = "IDENTITY_FAILED"
)

// TrafficLight is the per-field review signal.
type TrafficLight struct {
	Color       TrafficColor `json:"color"`
	Status      FieldStatus  `json:"status"`
	ReasonCodes []string     `json:"reason_codes,omitempty"`
}

// EvidenceRef is one provenance entry supporting an accepted value.
type EvidenceRef struct {
	URL         string    `json:"url"`
	Host        string    `json:"host"`
	RootDomain  string    `json:"root_domain"`
	Tier        Tier      `json:"tier"`
	Method      Method    `json:"method"`
	Quote       string    `json:"quote,omitempty"`
	QuoteSpan   [2]int    `json:"quote_span,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// FieldProvenance is the provenance artifact for one field.
type FieldProvenance struct {
	Value                 string        `json:"value"`
	Confirmations         int           `json:"confirmations"`
	ApprovedConfirmations int           `json:"approved_confirmations"`
	PassTarget            int           `json:"pass_target"`
	MeetsPassTarget       bool          `json:"meets_pass_target"`
	Confidence            float64       `json:"confidence"`
	NeedsAIReview         bool          `json:"needs_ai_review,omitempty"`
	Evidence              []EvidenceRef `json:"evidence"`
}

// SpecArtifact is the normalized output spec for one product.
type SpecArtifact struct {
	ProductID  string             `json:"product_id"`
	Fields     map[string]string  `json:"fields"`
	Units      map[string]string  `json:"units"`
	Confidence map[string]float64 `json:"confidence"`
}

// RunSummary is the user-visible outcome of a convergence run. A run that
// cannot converge still produces a summary with Validated=false and a reason.
type RunSummary struct {
	ProductID                   string    `json:"product_id"`
	RunID                       string    `json:"run_id"`
	Validated                   bool      `json:"validated"`
	ValidatedReason             string    `json:"validated_reason,omitempty"`
	Confidence                  float64   `json:"confidence"`
	CompletenessRequiredPercent float64   `json:"completeness_required_percent"`
	CoverageOverallPercent      float64   `json:"coverage_overall_percent"`
	CriticalBelowPassTarget     []string  `json:"critical_fields_below_pass_target,omitempty"`
	MissingRequiredFields       []string  `json:"missing_required_fields,omitempty"`
	MissingExpectedFields       []string  `json:"missing_expected_fields,omitempty"`
	Rounds                      int       `json:"rounds"`
	StopReason                  string    `json:"stop_reason,omitempty"`
	FinishedAt                  time.Time `json:"finished_at"`
}
