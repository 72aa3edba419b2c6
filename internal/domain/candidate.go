package domain

import "time"

// Role classifies a host's function with respect to product information.
type Role string

// Host roles.
const (
	RoleManufacturer Role = "manufacturer"
	RoleLabReview    Role = "lab_review"
	RoleRetail       Role = "retail"
	RoleDatabase     Role = "database"
	RoleHelper       Role = "helper"
	RoleOther        Role = "other"
)

// Tier is the numeric credibility class of a host.
// 1 = manufacturer, 2 = lab/review, 3 = retail, 4 = unverified.
type Tier int

// Host tiers.
const (
	TierManufacturer Tier = 1
	TierLab          Tier = 2
	TierRetail       Tier = 3
	TierUnverified   Tier = 4
)

// Method identifies the extraction technique that produced a candidate.
type Method string

// Extraction methods.
const (
	MethodDOMTable    Method = "dom_table"
	MethodDOMInline   Method = "dom_inline"
	MethodJSONLD      Method = "json_ld"
	MethodEmbedded    Method = "embedded_state"
	MethodNetwork     Method = "network_payload"
	MethodTemporal    Method = "temporal_signal"
	MethodComponentDB Method = "component_db"
	MethodLLM         Method = "llm_extract"
)

// Evidence records where and when a candidate value was observed.
// URL and RetrievedAt are always present; Quote is required for scalar
// candidates with textual provenance.
type Evidence struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url,omitempty"`
	Quote       string    `json:"quote,omitempty"`
	QuoteSpan   [2]int    `json:"quote_span,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Candidate is one extracted (field, value) observation with provenance.
// Candidates are ephemeral per round; survivors are persisted after the
// identity gate and consensus.
type Candidate struct {
	ID         string   `json:"id"`
	Field      string   `json:"field"`
	Value      string   `json:"value"`
	SourceURL  string   `json:"source_url"`
	Host       string   `json:"host"`
	RootDomain string   `json:"root_domain"`
	Role       Role     `json:"role"`
	Tier       Tier     `json:"tier"`
	Method     Method   `json:"method"`
	Evidence   Evidence `json:"evidence"`
	Score      float64  `json:"score,omitempty"`

	// Component-reference fields carry their component type; list fields
	// carry multiple values joined by the extractor.
	IsComponentField bool     `json:"is_component_field,omitempty"`
	ComponentType    string   `json:"component_type,omitempty"`
	IsListField      bool     `json:"is_list_field,omitempty"`
	ListValues       []string `json:"list_values,omitempty"`
}
