package domain

// FieldType enumerates the value types a field rule may declare.
type FieldType string

// Field types.
const (
	FieldTypeNumber       FieldType = "number"
	FieldTypeInteger      FieldType = "integer"
	FieldTypeString       FieldType = "string"
	FieldTypeEnum         FieldType = "enum"
	FieldTypeBoolean      FieldType = "boolean"
	FieldTypeComponentRef FieldType = "component_ref"
	FieldTypeDate         FieldType = "date"
)

// VariancePolicy governs how an observed value may differ from a
// reference value before it counts as a conflict.
type VariancePolicy string

// Variance policies.
const (
	VarianceAuthoritative   VariancePolicy = "authoritative"
	VarianceUpperBound      VariancePolicy = "upper_bound"
	VarianceLowerBound      VariancePolicy = "lower_bound"
	VarianceRange           VariancePolicy = "range"
	VarianceOverrideAllowed VariancePolicy = "override_allowed"
)

// FieldRule describes one field of the category schema: its type, unit,
// aliases, variance policy, and whether it participates in the validation gate.
type FieldRule struct {
	Key           string         `json:"key"`
	Type          FieldType      `json:"type"`
	Unit          string         `json:"unit,omitempty"`
	CanonicalUnit string         `json:"canonical_unit,omitempty"`
	Aliases       []string       `json:"aliases,omitempty"`
	EnumValues    []string       `json:"enum_values,omitempty"`
	Variance      VariancePolicy `json:"variance_policy"`

	// Critical fields participate in the pass target and fail the
	// validation gate when absent.
	Critical bool `json:"critical,omitempty"`
	// Required fields count toward required completeness.
	Required bool `json:"required,omitempty"`
	// Expected fields are reported when missing but do not gate validation.
	Expected bool `json:"expected,omitempty"`

	// PassTarget is the minimum number of approved confirmations the field
	// needs before it is accepted. Zero means the default of one.
	PassTarget int `json:"pass_target,omitempty"`
}

// EffectivePassTarget returns the pass target with the default applied.
func (r *FieldRule) EffectivePassTarget() int {
	if r.PassTarget < 1 {
		return 1
	}
	return r.PassTarget
}

// RuleSet is the field schema for one category, keyed by field key.
type RuleSet struct {
	Category string               `json:"category"`
	Fields   map[string]FieldRule `json:"fields"`
}

// Rule returns the rule for a field key, if present.
func (s *RuleSet) Rule(key string) (FieldRule, bool) {
	rule, ok := s.Fields[key]
	return rule, ok
}

// RequiredKeys returns the keys of all required fields.
func (s *RuleSet) RequiredKeys() []string {
	return s.keysWhere(func(r FieldRule) bool { return r.Required })
}

// CriticalKeys returns the keys of all critical fields.
func (s *RuleSet) CriticalKeys() []string {
	return s.keysWhere(func(r FieldRule) bool { return r.Critical })
}

// ExpectedKeys returns the keys of all expected fields.
func (s *RuleSet) ExpectedKeys() []string {
	return s.keysWhere(func(r FieldRule) bool { return r.Expected })
}

func (s *RuleSet) keysWhere(pred func(FieldRule) bool) []string {
	keys := make([]string, 0, len(s.Fields))
	for key, rule := range s.Fields {
		if pred(rule) {
			keys = append(keys, key)
		}
	}
	return keys
}

// ComponentEntry is a read-only component database record used to resolve
// component_ref fields (e.g. sensors, switches) and their reference properties.
type ComponentEntry struct {
	ComponentType string                    `json:"component_type"`
	CanonicalName string                    `json:"canonical_name"`
	Maker         string                    `json:"maker,omitempty"`
	Aliases       []string                  `json:"aliases,omitempty"`
	Properties    map[string]any            `json:"properties,omitempty"`
	Variances     map[string]VariancePolicy `json:"__variancePolicies,omitempty"`
}

// VarianceFor returns the variance policy for a component property,
// defaulting to authoritative.
func (e *ComponentEntry) VarianceFor(property string) VariancePolicy {
	if policy, ok := e.Variances[property]; ok {
		return policy
	}
	return VarianceAuthoritative
}

// ComponentDB holds component entries grouped by component type.
type ComponentDB struct {
	Entries map[string][]ComponentEntry `json:"entries"`
}

// Resolve finds a component entry by canonical name or alias, case-insensitive.
func (db *ComponentDB) Resolve(componentType, name string) (*ComponentEntry, bool) {
	entries, ok := db.Entries[componentType]
	if !ok {
		return nil, false
	}

	needle := normalizeComponentName(name)
	for i := range entries {
		entry := &entries[i]
		if normalizeComponentName(entry.CanonicalName) == needle {
			return entry, true
		}
		for _, alias := range entry.Aliases {
			if normalizeComponentName(alias) == needle {
				return entry, true
			}
		}
	}
	return nil, false
}

// normalizeComponentName lowercases and strips separators so that
// "PMW-3389" and "pmw3389" resolve to the same entry.
func normalizeComponentName(name string) string {
	var b []byte
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			b = append(b, byte(r-'A'+'a'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b = append(b, byte(r))
		}
	}
	return string(b)
}
