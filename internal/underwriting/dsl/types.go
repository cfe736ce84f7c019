// internal/underwriting/dsl/types.go
package dsl

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConditionType discriminates the field condition union.
type ConditionType string

const (
	TypeNumeric           ConditionType = "numeric"
	TypeDate              ConditionType = "date"
	TypeArray             ConditionType = "array"
	TypeBoolean           ConditionType = "boolean"
	TypeString            ConditionType = "string"
	TypeSet               ConditionType = "set"
	TypeNullCheck         ConditionType = "null_check"
	TypeConditionPresence ConditionType = "condition_presence"
)

// NullHandling controls what a condition yields when its field is present
// but null. The default is unknown so missing answers surface as
// missing-data rather than silently failing the rule.
type NullHandling string

const (
	NullFail    NullHandling = "fail"
	NullUnknown NullHandling = "unknown"
)

// operatorsByType is the full operator vocabulary per condition type.
var operatorsByType = map[ConditionType][]string{
	TypeNumeric:           {"eq", "neq", "gt", "gte", "lt", "lte", "between"},
	TypeDate:              {"years_since_gte", "years_since_lte", "months_since_gte", "months_since_lte"},
	TypeArray:             {"includes_any", "includes_all", "is_empty", "is_not_empty"},
	TypeBoolean:           {"eq", "neq"},
	TypeString:            {"eq", "neq", "contains", "starts_with", "ends_with"},
	TypeSet:               {"in", "not_in"},
	TypeNullCheck:         {"is_null", "is_not_null"},
	TypeConditionPresence: {"includes_any", "includes_all"},
}

// FieldCondition is one leaf of a predicate tree. The comparison value is
// decoded into the typed slot matching Type when the document is parsed;
// exactly one slot is populated for operators that take a value.
type FieldCondition struct {
	Type        ConditionType `json:"type"`
	Field       string        `json:"field"`
	Operator    string        `json:"operator"`
	TreatNullAs NullHandling  `json:"treatNullAs,omitempty"`

	NumberValue  *float64    `json:"-"`
	RangeValue   *[2]float64 `json:"-"`
	BoolValue    *bool       `json:"-"`
	StringValue  *string     `json:"-"`
	StringsValue []string    `json:"-"`
	SetValue     []any       `json:"-"`
}

// NullHandlingOrDefault applies the documented default.
func (c *FieldCondition) NullHandlingOrDefault() NullHandling {
	if c.TreatNullAs == NullFail {
		return NullFail
	}
	return NullUnknown
}

type fieldConditionDoc struct {
	Type        ConditionType   `json:"type"`
	Field       string          `json:"field"`
	Operator    string          `json:"operator"`
	TreatNullAs NullHandling    `json:"treatNullAs,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON decodes the loosely typed document value into the slot
// dictated by the condition type. Type mismatches fail here, at load time,
// never during evaluation.
func (c *FieldCondition) UnmarshalJSON(data []byte) error {
	var doc fieldConditionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.Type = doc.Type
	c.Field = doc.Field
	c.Operator = doc.Operator
	c.TreatNullAs = doc.TreatNullAs

	switch doc.Type {
	case TypeNumeric:
		if doc.Operator == "between" {
			var rng [2]float64
			if err := json.Unmarshal(doc.Value, &rng); err != nil {
				return fmt.Errorf("numeric between condition on %q needs a [min, max] pair: %w", doc.Field, err)
			}
			c.RangeValue = &rng
			return nil
		}
		var n float64
		if err := json.Unmarshal(doc.Value, &n); err != nil {
			return fmt.Errorf("numeric condition on %q needs a number value: %w", doc.Field, err)
		}
		c.NumberValue = &n
	case TypeDate:
		var n float64
		if err := json.Unmarshal(doc.Value, &n); err != nil {
			return fmt.Errorf("date condition on %q needs a numeric threshold: %w", doc.Field, err)
		}
		if n < 0 || n != float64(int(n)) {
			return fmt.Errorf("date condition on %q needs a non-negative integer threshold", doc.Field)
		}
		c.NumberValue = &n
	case TypeArray, TypeConditionPresence:
		if len(doc.Value) == 0 {
			if doc.Operator == "is_empty" || doc.Operator == "is_not_empty" {
				return nil
			}
			return fmt.Errorf("%s condition on %q needs a string list value", doc.Type, doc.Field)
		}
		var list []string
		if err := json.Unmarshal(doc.Value, &list); err != nil {
			return fmt.Errorf("%s condition on %q needs a string list value: %w", doc.Type, doc.Field, err)
		}
		c.StringsValue = list
	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(doc.Value, &b); err != nil {
			return fmt.Errorf("boolean condition on %q needs a boolean value: %w", doc.Field, err)
		}
		c.BoolValue = &b
	case TypeString:
		var s string
		if err := json.Unmarshal(doc.Value, &s); err != nil {
			return fmt.Errorf("string condition on %q needs a string value: %w", doc.Field, err)
		}
		c.StringValue = &s
	case TypeSet:
		var raw []any
		if err := json.Unmarshal(doc.Value, &raw); err != nil {
			return fmt.Errorf("set condition on %q needs a list value: %w", doc.Field, err)
		}
		for _, m := range raw {
			switch m.(type) {
			case string, float64:
			default:
				return fmt.Errorf("set condition on %q may only contain strings and numbers", doc.Field)
			}
		}
		c.SetValue = raw
	case TypeNullCheck:
		// No value.
	default:
		return fmt.Errorf("unknown condition type %q on field %q", doc.Type, doc.Field)
	}
	return nil
}

// MarshalJSON re-emits the document shape so parsed rules round-trip for
// auditing and caching.
func (c FieldCondition) MarshalJSON() ([]byte, error) {
	doc := fieldConditionDoc{
		Type:        c.Type,
		Field:       c.Field,
		Operator:    c.Operator,
		TreatNullAs: c.TreatNullAs,
	}
	var val any
	switch {
	case c.RangeValue != nil:
		val = *c.RangeValue
	case c.NumberValue != nil:
		val = *c.NumberValue
	case c.BoolValue != nil:
		val = *c.BoolValue
	case c.StringValue != nil:
		val = *c.StringValue
	case c.StringsValue != nil:
		val = c.StringsValue
	case c.SetValue != nil:
		val = c.SetValue
	}
	if val != nil {
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		doc.Value = raw
	}
	return json.Marshal(doc)
}

// PredicateNode is either a field condition or a nested group. Conditions
// carry a "type" and "field" key; anything else is treated as a group.
type PredicateNode struct {
	Cond  *FieldCondition
	Group *PredicateGroup
}

func (n *PredicateNode) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if _, hasType := probe["type"]; hasType {
		if _, hasField := probe["field"]; hasField {
			var cond FieldCondition
			if err := json.Unmarshal(data, &cond); err != nil {
				return err
			}
			n.Cond = &cond
			return nil
		}
	}
	var group PredicateGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return err
	}
	n.Group = &group
	return nil
}

func (n PredicateNode) MarshalJSON() ([]byte, error) {
	if n.Cond != nil {
		return json.Marshal(n.Cond)
	}
	if n.Group != nil {
		return json.Marshal(n.Group)
	}
	return []byte("{}"), nil
}

// PredicateGroup combines child nodes. At most one of All, Any, Not may be
// set; an empty group always matches.
type PredicateGroup struct {
	All []PredicateNode `json:"all,omitempty"`
	Any []PredicateNode `json:"any,omitempty"`
	Not *PredicateNode  `json:"not,omitempty"`
}

// IsEmpty reports whether the group carries no operator at all.
func (g *PredicateGroup) IsEmpty() bool {
	return len(g.All) == 0 && len(g.Any) == 0 && g.Not == nil
}

// RulePredicate is the versioned document root.
type RulePredicate struct {
	Version int            `json:"version"`
	Root    PredicateGroup `json:"root"`
}

// RuleOutcome is what a matched rule contributes to aggregation.
type RuleOutcome struct {
	Eligibility          EligibilityStatus `json:"eligibility"`
	HealthClass          HealthClass       `json:"health_class"`
	TableRating          TableRating       `json:"table_rating"`
	FlatExtraPerThousand *float64          `json:"flat_extra_per_thousand,omitempty"`
	FlatExtraYears       *int              `json:"flat_extra_years,omitempty"`
	Reason               string            `json:"reason"`
	Concerns             []string          `json:"concerns,omitempty"`
}

// Gender filter values on a rule. Empty means the rule applies to all.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// UnderwritingRule is one stored rule row. The predicate is kept in parsed
// form; Priority orders evaluation within a rule set (lower first).
type UnderwritingRule struct {
	ID         string `json:"id"`
	RuleSetID  string `json:"rule_set_id"`
	Priority   int    `json:"priority"`
	Name       string `json:"name"`
	AgeBandMin *int   `json:"age_band_min,omitempty"`
	AgeBandMax *int   `json:"age_band_max,omitempty"`
	Gender     string `json:"gender,omitempty"`

	Predicate RulePredicate `json:"predicate"`

	Outcome RuleOutcome `json:"outcome"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnderwritingRuleSet is a versioned group of rules for one carrier,
// scoped globally, to one product, or to one condition code.
type UnderwritingRuleSet struct {
	ID            string       `json:"id"`
	CarrierID     string       `json:"carrier_id"`
	ProductID     string       `json:"product_id,omitempty"`
	Scope         RuleSetScope `json:"scope"`
	ConditionCode string       `json:"condition_code,omitempty"`
	Name          string       `json:"name"`
	IsActive      bool         `json:"is_active"`
	Version       int          `json:"version"`

	// DefaultOutcome applies when no rule matches and nothing was unknown.
	// Nil means DefaultSafeOutcome.
	DefaultOutcome *RuleOutcome `json:"default_outcome,omitempty"`

	ReviewStatus ReviewStatus `json:"review_status"`

	Rules []UnderwritingRule `json:"rules,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveDefaultOutcome resolves the configured default for the set.
func (rs *UnderwritingRuleSet) EffectiveDefaultOutcome() RuleOutcome {
	if rs.DefaultOutcome != nil {
		return *rs.DefaultOutcome
	}
	return DefaultSafeOutcome()
}
