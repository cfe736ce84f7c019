// internal/underwriting/dsl/validate.go
package dsl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	commonerrors "underwriting-workers/internal/common/errors"
)

// ruleSetDocumentSchema is the structural contract for an uploaded rule set
// document. Semantic checks (operator/type compatibility, field paths,
// nesting depth) run afterwards in ValidateRuleSet.
const ruleSetDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "carrier_id", "scope", "name", "review_status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "carrier_id": {"type": "string", "minLength": 1},
    "product_id": {"type": ["string", "null"]},
    "scope": {"enum": ["global", "product", "condition"]},
    "condition_code": {"type": ["string", "null"]},
    "name": {"type": "string", "minLength": 1},
    "is_active": {"type": "boolean"},
    "version": {"type": "integer", "minimum": 1},
    "review_status": {"enum": ["draft", "approved"]},
    "default_outcome": {"$ref": "#/definitions/outcome"},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "priority", "name", "predicate", "outcome"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "priority": {"type": "integer"},
          "name": {"type": "string", "minLength": 1},
          "age_band_min": {"type": ["integer", "null"], "minimum": 0, "maximum": 120},
          "age_band_max": {"type": ["integer", "null"], "minimum": 0, "maximum": 120},
          "gender": {"enum": ["male", "female", null]},
          "predicate": {"type": "object"},
          "outcome": {"$ref": "#/definitions/outcome"}
        }
      }
    }
  },
  "definitions": {
    "outcome": {
      "type": "object",
      "required": ["eligibility", "health_class", "reason"],
      "properties": {
        "eligibility": {"enum": ["eligible", "refer", "unknown", "ineligible"]},
        "health_class": {"enum": ["preferred_plus", "preferred", "standard_plus", "standard", "substandard", "refer", "unknown", "decline"]},
        "table_rating": {"enum": ["none", "A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M", "N", "O", "P"]},
        "flat_extra_per_thousand": {"type": "number", "minimum": 0},
        "flat_extra_years": {"type": "integer", "minimum": 1},
        "reason": {"type": "string", "minLength": 1},
        "concerns": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var ruleSetSchema = gojsonschema.NewStringLoader(ruleSetDocumentSchema)

// ValidateRuleSetDocument runs the structural JSON schema check on a raw
// rule set document.
func ValidateRuleSetDocument(data []byte) error {
	result, err := gojsonschema.Validate(ruleSetSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return commonerrors.NewRuleSetSchemaError("", err.Error())
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		var id struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(data, &id)
		return commonerrors.NewRuleSetSchemaError(id.ID, strings.Join(msgs, "; "))
	}
	return nil
}

// clientFieldTypes declares the known fact schema for client-level fields.
// Condition-scoped fields ("{code}.{fieldId}") are dynamic and only checked
// for shape.
var clientFieldTypes = map[string][]ConditionType{
	"client.age":     {TypeNumeric},
	"client.bmi":     {TypeNumeric},
	"client.gender":  {TypeString, TypeSet},
	"client.state":   {TypeString, TypeSet},
	"client.tobacco": {TypeBoolean},
	"conditions":     {TypeArray, TypeConditionPresence},
}

// ValidateRuleSet performs semantic validation on a parsed rule set.
// A failure rejects the whole rule set.
func ValidateRuleSet(rs *UnderwritingRuleSet) error {
	var errs []string

	switch rs.Scope {
	case ScopeCondition:
		if rs.ConditionCode == "" {
			errs = append(errs, "condition-scoped rule set needs a condition_code")
		}
	case ScopeProduct:
		if rs.ProductID == "" {
			errs = append(errs, "product-scoped rule set needs a product_id")
		}
	case ScopeGlobal:
	default:
		errs = append(errs, fmt.Sprintf("unknown scope %q", rs.Scope))
	}

	if rs.DefaultOutcome != nil {
		errs = append(errs, validateOutcome("default_outcome", *rs.DefaultOutcome)...)
	}

	for _, rule := range rs.Rules {
		prefix := fmt.Sprintf("rule %q", rule.Name)
		if rule.AgeBandMin != nil && rule.AgeBandMax != nil && *rule.AgeBandMin > *rule.AgeBandMax {
			errs = append(errs, prefix+": age_band_min exceeds age_band_max")
		}
		if rule.Gender != "" && rule.Gender != GenderMale && rule.Gender != GenderFemale {
			errs = append(errs, prefix+fmt.Sprintf(": unknown gender filter %q", rule.Gender))
		}
		errs = append(errs, validateOutcome(prefix+" outcome", rule.Outcome)...)
		for _, msg := range ValidatePredicate(&rule.Predicate.Root) {
			errs = append(errs, prefix+": "+msg)
		}
	}

	if len(errs) > 0 {
		return commonerrors.NewRuleSetSchemaError(rs.ID, strings.Join(errs, "; "))
	}
	return nil
}

func validateOutcome(prefix string, o RuleOutcome) []string {
	var errs []string
	if _, ok := eligibilityRank[o.Eligibility]; !ok {
		errs = append(errs, fmt.Sprintf("%s: unknown eligibility %q", prefix, o.Eligibility))
	}
	if !ValidHealthClass(o.HealthClass) {
		errs = append(errs, fmt.Sprintf("%s: unknown health class %q", prefix, o.HealthClass))
	}
	if o.TableRating != "" && !ValidTableRating(o.TableRating) {
		errs = append(errs, fmt.Sprintf("%s: unknown table rating %q", prefix, o.TableRating))
	}
	if o.Reason == "" {
		errs = append(errs, prefix+": reason is required")
	}
	if o.FlatExtraPerThousand != nil && *o.FlatExtraPerThousand < 0 {
		errs = append(errs, prefix+": flat_extra_per_thousand must be non-negative")
	}
	if o.FlatExtraYears != nil && *o.FlatExtraYears <= 0 {
		errs = append(errs, prefix+": flat_extra_years must be positive")
	}
	return errs
}

// ValidatePredicate walks a predicate tree and returns every problem found.
// An empty result means the predicate is safe to evaluate.
func ValidatePredicate(root *PredicateGroup) []string {
	var errs []string
	validateGroup(root, 1, &errs)
	return errs
}

func validateGroup(g *PredicateGroup, depth int, errs *[]string) {
	if depth > MaxPredicateDepth {
		*errs = append(*errs, fmt.Sprintf("predicate nesting exceeds depth bound of %d", MaxPredicateDepth))
		return
	}

	operators := 0
	if len(g.All) > 0 {
		operators++
	}
	if len(g.Any) > 0 {
		operators++
	}
	if g.Not != nil {
		operators++
	}
	if operators > 1 {
		*errs = append(*errs, "at most one of all, any, or not may be specified per group")
		return
	}

	for _, child := range g.All {
		validateNode(child, depth+1, errs)
	}
	for _, child := range g.Any {
		validateNode(child, depth+1, errs)
	}
	if g.Not != nil {
		validateNode(*g.Not, depth+1, errs)
	}
}

func validateNode(n PredicateNode, depth int, errs *[]string) {
	if n.Cond != nil {
		validateCondition(n.Cond, errs)
		return
	}
	if n.Group != nil {
		validateGroup(n.Group, depth, errs)
	}
}

func validateCondition(c *FieldCondition, errs *[]string) {
	allowed, knownType := operatorsByType[c.Type]
	if !knownType {
		*errs = append(*errs, fmt.Sprintf("unknown condition type %q on field %q", c.Type, c.Field))
		return
	}

	operatorOK := false
	for _, op := range allowed {
		if op == c.Operator {
			operatorOK = true
			break
		}
	}
	if !operatorOK {
		*errs = append(*errs, fmt.Sprintf("operator %q is not valid for %s condition on field %q", c.Operator, c.Type, c.Field))
	}

	if c.Field == "" {
		*errs = append(*errs, "condition is missing a field path")
		return
	}

	// Field path must belong to the fact schema: a known client field,
	// the conditions list, or a condition-scoped "{code}.{fieldId}" pair.
	if declaredTypes, known := clientFieldTypes[c.Field]; known {
		// null_check works against any field.
		if c.Type != TypeNullCheck {
			typeOK := false
			for _, t := range declaredTypes {
				if t == c.Type {
					typeOK = true
					break
				}
			}
			if !typeOK {
				*errs = append(*errs, fmt.Sprintf("condition type %q is incompatible with field %q", c.Type, c.Field))
			}
		}
	} else if strings.HasPrefix(c.Field, "client.") {
		*errs = append(*errs, fmt.Sprintf("unknown client field %q", c.Field))
	} else if ExtractConditionCode(c.Field) == "" {
		*errs = append(*errs, fmt.Sprintf("field %q is not in the fact schema", c.Field))
	}

	switch c.Type {
	case TypeNumeric:
		if c.Operator == "between" {
			if c.RangeValue == nil {
				*errs = append(*errs, fmt.Sprintf("between condition on %q is missing its range", c.Field))
			} else if c.RangeValue[0] > c.RangeValue[1] {
				*errs = append(*errs, fmt.Sprintf("between condition on %q has min above max", c.Field))
			}
		} else if c.NumberValue == nil {
			*errs = append(*errs, fmt.Sprintf("numeric condition on %q is missing its value", c.Field))
		}
	case TypeDate:
		if c.NumberValue == nil {
			*errs = append(*errs, fmt.Sprintf("date condition on %q is missing its threshold", c.Field))
		}
	case TypeArray:
		if (c.Operator == "includes_any" || c.Operator == "includes_all") && len(c.StringsValue) == 0 {
			*errs = append(*errs, fmt.Sprintf("%s condition on %q needs a non-empty value list", c.Operator, c.Field))
		}
	case TypeConditionPresence:
		if len(c.StringsValue) == 0 {
			*errs = append(*errs, fmt.Sprintf("condition_presence on %q needs at least one condition code", c.Field))
		}
		if c.Field != "conditions" {
			*errs = append(*errs, "condition_presence may only target the conditions field")
		}
	case TypeBoolean:
		if c.BoolValue == nil {
			*errs = append(*errs, fmt.Sprintf("boolean condition on %q is missing its value", c.Field))
		}
	case TypeString:
		if c.StringValue == nil {
			*errs = append(*errs, fmt.Sprintf("string condition on %q is missing its value", c.Field))
		}
	case TypeSet:
		if len(c.SetValue) == 0 {
			*errs = append(*errs, fmt.Sprintf("set condition on %q needs a non-empty member list", c.Field))
		}
	}
}
