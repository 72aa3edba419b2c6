package consensus_test

import (
	"math"
	"testing"

	"github.com/jonesrussell/spechawk/internal/consensus"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		raw      string
		value    float64
		unit     string
		ok       bool
	}{
		{"54 g", 54, "g", true},
		{"54g", 54, "g", true},
		{"1.6oz", 1.6, "oz", true},
		{"0,058 kg", 0.058, "kg", true},
		{"35000", 35000, "", true},
		{"  127 mm ", 127, "mm", true},
		{"lightweight", 0, "", false},
		{"", 0, "", false},
	}

	for _, tt := range tests {
		value, unit, ok := consensus.ParseQuantity(tt.raw)
		if ok != tt.ok {
			t.Errorf("ParseQuantity(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if value != tt.value || unit != tt.unit {
			t.Errorf("ParseQuantity(%q) = (%v, %q), want (%v, %q)", tt.raw, value, unit, tt.value, tt.unit)
		}
	}
}

func TestConvertTo(t *testing.T) {
	tests := []struct {
		value     float64
		unit      string
		canonical string
		want      float64
	}{
		{1, "kg", "g", 1000},
		{1, "oz", "g", 28.349523125},
		{1, "lb", "g", 453.59237},
		{2.5, "cm", "mm", 25},
		{1, "in", "mm", 25.4},
		{1, "m", "mm", 1000},
		{26000, "cpi", "dpi", 26000},
		{4, "khz", "hz", 4000},
		{54, "g", "g", 54},
	}

	for _, tt := range tests {
		got, err := consensus.ConvertTo(tt.value, tt.unit, tt.canonical)
		if err != nil {
			t.Errorf("ConvertTo(%v, %q, %q) error: %v", tt.value, tt.unit, tt.canonical, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ConvertTo(%v, %q, %q) = %v, want %v", tt.value, tt.unit, tt.canonical, got, tt.want)
		}
	}
}

func TestConvertTo_IncompatibleDimensions(t *testing.T) {
	if _, err := consensus.ConvertTo(1, "kg", "mm"); err == nil {
		t.Error("converting mass to length should fail")
	}
	if _, err := consensus.ConvertTo(1, "furlong", "mm"); err == nil {
		t.Error("unknown units should fail")
	}
}

// Round-trip: converting out of and back into the canonical unit returns
// the original number within epsilon, across every alias of the dimension.
func TestUnitRoundTrip(t *testing.T) {
	aliasesByCanonical := map[string][]string{
		"g":   {"g", "kg", "oz", "lb", "pounds", "grams"},
		"mm":  {"mm", "cm", "in", "m", "inches"},
		"dpi": {"dpi", "cpi"},
		"hz":  {"hz", "khz"},
	}

	for canonical, aliases := range aliasesByCanonical {
		for _, alias := range aliases {
			const original = 54.0

			inAlias, err := consensus.ConvertTo(original, canonical, alias)
			if err != nil {
				t.Fatalf("ConvertTo(%v, %q, %q): %v", original, canonical, alias, err)
			}
			back, err := consensus.ConvertTo(inAlias, alias, canonical)
			if err != nil {
				t.Fatalf("ConvertTo(%v, %q, %q): %v", inAlias, alias, canonical, err)
			}

			if math.Abs(back-original) > 1e-9 {
				t.Errorf("round trip %q via %q: %v != %v", canonical, alias, back, original)
			}
		}
	}
}

func TestCanonicalNumber(t *testing.T) {
	got, ok := consensus.CanonicalNumber("1.6 oz", "g")
	if !ok {
		t.Fatal("CanonicalNumber failed")
	}
	if math.Abs(got-45.359237) > 1e-6 {
		t.Errorf("CanonicalNumber(1.6 oz, g) = %v", got)
	}

	if _, ok := consensus.CanonicalNumber("n/a", "g"); ok {
		t.Error("non-numeric input should not parse")
	}
}
