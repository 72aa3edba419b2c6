package identity

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// Status is the cross-page identity outcome for a whole run.
type Status string

// Overall identity statuses.
const (
	StatusConfirmed     Status = "CONFIRMED"
	StatusLowConfidence Status = "LOW_CONFIDENCE"
	StatusConflict      Status = "IDENTITY_CONFLICT"
	StatusFailed        Status = "IDENTITY_FAILED"
)

// ConfidenceCap returns the maximum per-field consensus confidence the
// identity status allows.
func ConfidenceCap(s Status) float64 {
	switch s {
	case StatusConfirmed:
		return 1.00
	case StatusLowConfidence:
		return 0.85
	case StatusConflict:
		return 0.50
	default:
		return 0.40
	}
}

// ScoredPage pairs a page verdict with its source metadata for
// reconciliation.
type ScoredPage struct {
	Verdict    Verdict
	RootDomain string
	Role       domain.Role
	Tier       domain.Tier
	// TrustedHelper marks helper sources on the category's trusted list.
	TrustedHelper bool
	Candidates    []domain.Candidate
}

// Report is the reconciled identity outcome.
type Report struct {
	Status         Status   `json:"status"`
	Contradictions []string `json:"contradictions,omitempty"`
	// ManufacturerConfirmed reports whether a tier-1 manufacturer page
	// confirmed the identity.
	ManufacturerConfirmed bool `json:"manufacturer_confirmed"`
	SupportingDomains     int  `json:"supporting_domains"`
}

// Reconcile combines per-page verdicts into the overall status. Confirmation
// requires a tier-1 manufacturer CONFIRMED page plus independent support:
// two other credible domains, or one credible domain and a trusted helper.
func Reconcile(pages []ScoredPage) Report {
	report := Report{Status: StatusFailed}

	credibleDomains := make(map[string]struct{})
	trustedHelpers := 0

	for _, page := range pages {
		if !page.Verdict.Decision.Admissible() {
			continue
		}

		if page.Verdict.Decision == DecisionConfirmed && page.Role == domain.RoleManufacturer && page.Tier == domain.TierManufacturer {
			report.ManufacturerConfirmed = true
			continue
		}

		if page.TrustedHelper && page.Role == domain.RoleHelper {
			trustedHelpers++
			continue
		}

		if page.Verdict.Decision == DecisionConfirmed && page.Tier <= domain.TierLab {
			credibleDomains[page.RootDomain] = struct{}{}
		}
	}

	report.SupportingDomains = len(credibleDomains)

	supported := len(credibleDomains) >= 2 || (len(credibleDomains) >= 1 && trustedHelpers >= 1)

	switch {
	case report.ManufacturerConfirmed && supported:
		report.Status = StatusConfirmed
	case report.ManufacturerConfirmed || len(credibleDomains) > 0:
		report.Status = StatusLowConfidence
	default:
		report.Status = StatusFailed
	}

	report.Contradictions = contradictions(pages)
	if len(report.Contradictions) > 0 {
		report.Status = StatusConflict
	}

	return report
}

// contradictions inspects accepted pages for mutually exclusive claims.
func contradictions(pages []ScoredPage) []string {
	var (
		out        []string
		connection = make(map[string]struct{})
		sensors    []string
		skus       []string
		dimensions = make(map[string][]float64)
	)

	for _, page := range pages {
		if !page.Verdict.Decision.Admissible() {
			continue
		}
		for _, c := range page.Candidates {
			switch c.Field {
			case "connection":
				if class := ConnectionClass(c.Value); class != "" {
					connection[class] = struct{}{}
				}
			case "sensor":
				sensors = append(sensors, c.Value)
			case "sku":
				skus = append(skus, c.Value)
			case "length", "width", "height":
				if mm, ok := parseMillimeters(c.Value); ok {
					dimensions[c.Field] = append(dimensions[c.Field], mm)
				}
			}
		}
	}

	// Wired vs wireless conflicts only when no dual claim covers both.
	if _, dual := connection["dual"]; !dual {
		_, wired := connection["wired"]
		_, wireless := connection["wireless"]
		if wired && wireless {
			out = append(out, "connection_class_conflict")
		}
	}

	if sensorFamilyConflict(sensors) {
		out = append(out, "sensor_family_conflict")
	}
	if skuConflict(skus) {
		out = append(out, "sku_conflict")
	}
	for _, values := range dimensions {
		if dimensionSpread(values) > 3.0 {
			out = append(out, "dimension_conflict")
			break
		}
	}

	return out
}

// sensorFamilyConflict reports pairs of sensor names whose token overlap
// falls below 0.6.
func sensorFamilyConflict(sensors []string) bool {
	for i := 0; i < len(sensors); i++ {
		for j := i + 1; j < len(sensors); j++ {
			if tokenOverlap(sensors[i], sensors[j]) < 0.6 {
				return true
			}
		}
	}
	return false
}

// skuConflict reports SKU pairs sharing no segment at all.
func skuConflict(skus []string) bool {
	for i := 0; i < len(skus); i++ {
		for j := i + 1; j < len(skus); j++ {
			if !sharesSegment(skus[i], skus[j]) {
				return true
			}
		}
	}
	return false
}

func sharesSegment(a, b string) bool {
	segsA := idSegments(a)
	segsB := idSegments(b)
	for _, s := range segsA {
		for _, t := range segsB {
			if s == t {
				return true
			}
		}
	}
	return false
}

func idSegments(id string) []string {
	return strings.FieldsFunc(strings.ToLower(id), func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' ' || r == '/'
	})
}

// tokenOverlap is Jaccard similarity over normalized tokens.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			shared++
		}
	}

	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range domain.Tokenize(s) {
		set[normalizeID(t)] = struct{}{}
	}
	return set
}

var millimeterPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(mm|cm)?`)

// parseMillimeters reads the leading numeric of a dimension value,
// converting centimeters.
func parseMillimeters(value string) (float64, bool) {
	m := millimeterPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0, false
	}

	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "cm" {
		n *= 10
	}
	return n, true
}

func dimensionSpread(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return maxV - minV
}
