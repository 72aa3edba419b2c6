// Package consensus clusters admitted candidates per field, applies
// variance policies against component-DB references, and selects winners
// with calibrated confidence.
package consensus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// unitFactors maps unit aliases to (canonical unit, multiplier). Values
// parsed in an alias unit multiply into the canonical one.
var unitFactors = map[string]struct {
	canonical string
	factor    float64
}{
	// mass, canonical grams
	"g":      {"g", 1},
	"gram":   {"g", 1},
	"grams":  {"g", 1},
	"kg":     {"g", 1000},
	"oz":     {"g", 28.349523125},
	"ounce":  {"g", 28.349523125},
	"ounces": {"g", 28.349523125},
	"lb":     {"g", 453.59237},
	"lbs":    {"g", 453.59237},
	"pound":  {"g", 453.59237},
	"pounds": {"g", 453.59237},

	// length, canonical millimeters
	"mm":     {"mm", 1},
	"cm":     {"mm", 10},
	"m":      {"mm", 1000},
	"in":     {"mm", 25.4},
	"inch":   {"mm", 25.4},
	"inches": {"mm", 25.4},
	`"`:      {"mm", 25.4},

	// resolution, canonical dpi
	"dpi": {"dpi", 1},
	"cpi": {"dpi", 1},

	// time, canonical hours
	"h":     {"h", 1},
	"hr":    {"h", 1},
	"hrs":   {"h", 1},
	"hour":  {"h", 1},
	"hours": {"h", 1},

	// rate, canonical hertz
	"hz":  {"hz", 1},
	"khz": {"hz", 1000},
}

// numberWithUnit matches a leading numeric and optional trailing unit.
var numberWithUnit = regexp.MustCompile(`^\s*([+-]?\d+(?:[.,]\d+)?)\s*([A-Za-z"]+)?\s*$`)

// ParseQuantity splits a raw value into its number and unit token.
// "54 g", "54g", "1.6oz", and bare "54" all parse; the unit may be empty.
func ParseQuantity(raw string) (value float64, unit string, ok bool) {
	m := numberWithUnit.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, "", false
	}

	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, "", false
	}

	return n, strings.ToLower(m[2]), true
}

// ConvertTo converts a (value, unit) pair into the target canonical unit.
// An empty source unit is assumed already canonical.
func ConvertTo(value float64, unit, canonicalUnit string) (float64, error) {
	if unit == "" || strings.EqualFold(unit, canonicalUnit) {
		return value, nil
	}

	entry, ok := unitFactors[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("units: unknown unit %q", unit)
	}

	target, ok := unitFactors[strings.ToLower(canonicalUnit)]
	if !ok {
		return 0, fmt.Errorf("units: unknown canonical unit %q", canonicalUnit)
	}

	if entry.canonical != target.canonical {
		return 0, fmt.Errorf("units: cannot convert %q to %q", unit, canonicalUnit)
	}

	return value * entry.factor / target.factor, nil
}

// CanonicalNumber parses a raw value and converts it into the rule's
// canonical unit. Integer rounding is the caller's concern.
func CanonicalNumber(raw, canonicalUnit string) (float64, bool) {
	value, unit, ok := ParseQuantity(raw)
	if !ok {
		return 0, false
	}

	if canonicalUnit == "" {
		return value, true
	}

	converted, err := ConvertTo(value, unit, canonicalUnit)
	if err != nil {
		return 0, false
	}
	return converted, true
}
