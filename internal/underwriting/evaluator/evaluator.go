// Package evaluator applies predicate trees to fact maps using Kleene
// three-valued logic. Unknown is a first-class result: a missing fact can
// never be silently converted into "rule doesn't apply".
package evaluator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/facts"
)

// TriState is the leaf/group evaluation result.
type TriState string

const (
	Matched TriState = "matched"
	Failed  TriState = "failed"
	Unknown TriState = "unknown"
)

// FieldResult is one leaf verdict with its explanation.
type FieldResult struct {
	Status TriState
	Reason string
}

// PredicateResult is one group verdict. MissingFields is populated only
// for Unknown.
type PredicateResult struct {
	Status        TriState
	MissingFields []models.MissingField
	Reason        string
}

// Evaluator evaluates rules against fact maps. The clock is injectable so
// date-condition tests are reproducible.
type Evaluator struct {
	log logger.Logger
	now func() time.Time
}

func New(log logger.Logger) *Evaluator {
	return &Evaluator{
		log: log.WithFields(map[string]interface{}{"component": "rule-evaluator"}),
		now: time.Now,
	}
}

// NewWithClock is used by tests that assert date-operator behavior.
func NewWithClock(log logger.Logger, now func() time.Time) *Evaluator {
	ev := New(log)
	ev.now = now
	return ev
}

// =============================================================================
// Field condition evaluation
// =============================================================================

// EvaluateCondition evaluates a single leaf against the facts.
func (ev *Evaluator) EvaluateCondition(cond *dsl.FieldCondition, f facts.FactMap) FieldResult {
	value, present := f.Get(cond.Field)

	// Missing or null facts resolve through null handling first.
	if !present || value == nil {
		if cond.Type == dsl.TypeNullCheck {
			if cond.Operator == "is_null" {
				return FieldResult{Status: Matched}
			}
			return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is null", cond.Field)}
		}
		if cond.NullHandlingOrDefault() == dsl.NullFail {
			return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is missing (treated as fail)", cond.Field)}
		}
		return FieldResult{Status: Unknown, Reason: fmt.Sprintf("%s is missing", cond.Field)}
	}

	switch cond.Type {
	case dsl.TypeNullCheck:
		if cond.Operator == "is_null" {
			return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is not null", cond.Field)}
		}
		return FieldResult{Status: Matched}
	case dsl.TypeConditionPresence:
		return evalConditionPresence(cond, f)
	case dsl.TypeNumeric:
		return evalNumeric(cond, value)
	case dsl.TypeDate:
		return ev.evalDate(cond, value)
	case dsl.TypeBoolean:
		return evalBoolean(cond, value)
	case dsl.TypeString:
		return evalString(cond, value)
	case dsl.TypeArray:
		return evalArray(cond, value)
	case dsl.TypeSet:
		return evalSet(cond, value)
	default:
		return FieldResult{Status: Unknown, Reason: fmt.Sprintf("unknown condition type %q", cond.Type)}
	}
}

func evalConditionPresence(cond *dsl.FieldCondition, f facts.FactMap) FieldResult {
	declared := stringSlice(mustGet(f, "conditions"))
	targets := cond.StringsValue

	switch cond.Operator {
	case "includes_any":
		for _, t := range targets {
			if containsString(declared, t) {
				return FieldResult{Status: Matched}
			}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("none of [%s] present", strings.Join(targets, ", "))}
	case "includes_all":
		var missing []string
		for _, t := range targets {
			if !containsString(declared, t) {
				missing = append(missing, t)
			}
		}
		if len(missing) == 0 {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("missing conditions: %s", strings.Join(missing, ", "))}
	}
	return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown condition_presence operator %q", cond.Operator)}
}

func evalNumeric(cond *dsl.FieldCondition, value any) FieldResult {
	num, ok := toNumber(value)
	if !ok {
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is not a number", cond.Field)}
	}

	if cond.Operator == "between" {
		if cond.RangeValue == nil {
			return FieldResult{Status: Failed, Reason: "between requires [min, max]"}
		}
		min, max := cond.RangeValue[0], cond.RangeValue[1]
		if num >= min && num <= max {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s %v not in [%v, %v]", cond.Field, num, min, max)}
	}

	if cond.NumberValue == nil {
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("numeric condition on %s has no value", cond.Field)}
	}
	expected := *cond.NumberValue

	var matched bool
	var failReason string
	switch cond.Operator {
	case "eq":
		matched = num == expected
		failReason = fmt.Sprintf("%s %v != %v", cond.Field, num, expected)
	case "neq":
		matched = num != expected
		failReason = fmt.Sprintf("%s %v == %v", cond.Field, num, expected)
	case "gt":
		matched = num > expected
		failReason = fmt.Sprintf("%s %v <= %v", cond.Field, num, expected)
	case "gte":
		matched = num >= expected
		failReason = fmt.Sprintf("%s %v < %v", cond.Field, num, expected)
	case "lt":
		matched = num < expected
		failReason = fmt.Sprintf("%s %v >= %v", cond.Field, num, expected)
	case "lte":
		matched = num <= expected
		failReason = fmt.Sprintf("%s %v > %v", cond.Field, num, expected)
	default:
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown numeric operator %q", cond.Operator)}
	}

	if matched {
		return FieldResult{Status: Matched}
	}
	return FieldResult{Status: Failed, Reason: failReason}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func (ev *Evaluator) evalDate(cond *dsl.FieldCondition, value any) FieldResult {
	raw := fmt.Sprintf("%v", value)
	var parsed time.Time
	var err error
	for _, layout := range dateLayouts {
		parsed, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is not a valid date", cond.Field)}
	}

	threshold := *cond.NumberValue
	now := ev.now()

	switch cond.Operator {
	case "years_since_gte", "years_since_lte":
		years := math.Floor(now.Sub(parsed).Hours() / (365.25 * 24))
		if cond.Operator == "years_since_gte" {
			if years >= threshold {
				return FieldResult{Status: Matched}
			}
			return FieldResult{Status: Failed, Reason: fmt.Sprintf("%v years since %s < %v", years, cond.Field, threshold)}
		}
		if years <= threshold {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%v years since %s > %v", years, cond.Field, threshold)}
	case "months_since_gte", "months_since_lte":
		months := float64((now.Year()-parsed.Year())*12 + int(now.Month()) - int(parsed.Month()))
		if cond.Operator == "months_since_gte" {
			if months >= threshold {
				return FieldResult{Status: Matched}
			}
			return FieldResult{Status: Failed, Reason: fmt.Sprintf("%v months since %s < %v", months, cond.Field, threshold)}
		}
		if months <= threshold {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%v months since %s > %v", months, cond.Field, threshold)}
	}
	return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown date operator %q", cond.Operator)}
}

func evalBoolean(cond *dsl.FieldCondition, value any) FieldResult {
	b := toBool(value)
	expected := *cond.BoolValue

	switch cond.Operator {
	case "eq":
		if b == expected {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s %v != %v", cond.Field, b, expected)}
	case "neq":
		if b != expected {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s %v == %v", cond.Field, b, expected)}
	}
	return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown boolean operator %q", cond.Operator)}
}

func evalString(cond *dsl.FieldCondition, value any) FieldResult {
	str := fmt.Sprintf("%v", value)
	expected := *cond.StringValue

	var matched bool
	var failReason string
	switch cond.Operator {
	case "eq":
		matched = str == expected
		failReason = fmt.Sprintf("%s %q != %q", cond.Field, str, expected)
	case "neq":
		matched = str != expected
		failReason = fmt.Sprintf("%s %q == %q", cond.Field, str, expected)
	case "contains":
		matched = strings.Contains(str, expected)
		failReason = fmt.Sprintf("%s doesn't contain %q", cond.Field, expected)
	case "starts_with":
		matched = strings.HasPrefix(str, expected)
		failReason = fmt.Sprintf("%s doesn't start with %q", cond.Field, expected)
	case "ends_with":
		matched = strings.HasSuffix(str, expected)
		failReason = fmt.Sprintf("%s doesn't end with %q", cond.Field, expected)
	default:
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown string operator %q", cond.Operator)}
	}

	if matched {
		return FieldResult{Status: Matched}
	}
	return FieldResult{Status: Failed, Reason: failReason}
}

func evalArray(cond *dsl.FieldCondition, value any) FieldResult {
	arr := stringSlice(value)
	expected := cond.StringsValue

	switch cond.Operator {
	case "is_empty":
		if len(arr) == 0 {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is not empty", cond.Field)}
	case "is_not_empty":
		if len(arr) > 0 {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s is empty", cond.Field)}
	case "includes_any":
		for _, e := range expected {
			if containsString(arr, e) {
				return FieldResult{Status: Matched}
			}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s doesn't include any of [%s]", cond.Field, strings.Join(expected, ", "))}
	case "includes_all":
		for _, e := range expected {
			if !containsString(arr, e) {
				return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s doesn't include all of [%s]", cond.Field, strings.Join(expected, ", "))}
			}
		}
		return FieldResult{Status: Matched}
	}
	return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown array operator %q", cond.Operator)}
}

func evalSet(cond *dsl.FieldCondition, value any) FieldResult {
	in := false
	for _, member := range cond.SetValue {
		if setMemberEquals(member, value) {
			in = true
			break
		}
	}

	switch cond.Operator {
	case "in":
		if in {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s not in %v", cond.Field, cond.SetValue)}
	case "not_in":
		if !in {
			return FieldResult{Status: Matched}
		}
		return FieldResult{Status: Failed, Reason: fmt.Sprintf("%s in %v", cond.Field, cond.SetValue)}
	}
	return FieldResult{Status: Failed, Reason: fmt.Sprintf("unknown set operator %q", cond.Operator)}
}

// =============================================================================
// Predicate group evaluation
// =============================================================================

// EvaluatePredicate evaluates a group recursively.
//
// all:  failed if any child fails (short-circuit), else unknown if any
//       child is unknown (all missing fields are collected first), else
//       matched.
// any:  matched on first matching child (short-circuit), else unknown if
//       any child was unknown, else failed.
// not:  unknown stays unknown; otherwise logical negation.
//
// An empty group always matches; it is the shape of fallback rules.
func (ev *Evaluator) EvaluatePredicate(g *dsl.PredicateGroup, f facts.FactMap) PredicateResult {
	if g.IsEmpty() {
		return PredicateResult{Status: Matched}
	}

	if len(g.All) > 0 {
		var missing []models.MissingField
		for _, child := range g.All {
			result := ev.evalNode(child, f)
			switch result.Status {
			case Failed:
				return PredicateResult{Status: Failed, Reason: result.Reason}
			case Unknown:
				missing = append(missing, result.MissingFields...)
			}
		}
		if len(missing) > 0 {
			return PredicateResult{Status: Unknown, MissingFields: missing}
		}
		return PredicateResult{Status: Matched}
	}

	if len(g.Any) > 0 {
		var missing []models.MissingField
		for _, child := range g.Any {
			result := ev.evalNode(child, f)
			switch result.Status {
			case Matched:
				return PredicateResult{Status: Matched}
			case Unknown:
				missing = append(missing, result.MissingFields...)
			}
		}
		if len(missing) > 0 {
			return PredicateResult{Status: Unknown, MissingFields: missing}
		}
		return PredicateResult{Status: Failed, Reason: "no alternative matched"}
	}

	if g.Not != nil {
		inner := ev.evalNode(*g.Not, f)
		switch inner.Status {
		case Unknown:
			return inner
		case Matched:
			return PredicateResult{Status: Failed, Reason: "negated condition matched"}
		default:
			return PredicateResult{Status: Matched}
		}
	}

	return PredicateResult{Status: Matched}
}

func (ev *Evaluator) evalNode(n dsl.PredicateNode, f facts.FactMap) PredicateResult {
	if n.Cond != nil {
		result := ev.EvaluateCondition(n.Cond, f)
		if result.Status == Unknown {
			return PredicateResult{
				Status: Unknown,
				MissingFields: []models.MissingField{{
					Field:         n.Cond.Field,
					ConditionCode: dsl.ExtractConditionCode(n.Cond.Field),
				}},
				Reason: result.Reason,
			}
		}
		return PredicateResult{Status: result.Status, Reason: result.Reason}
	}
	if n.Group != nil {
		return ev.EvaluatePredicate(n.Group, f)
	}
	return PredicateResult{Status: Matched}
}

// =============================================================================
// Rule set evaluation
// =============================================================================

// RuleApplicable applies the rule's age band and gender filters.
func RuleApplicable(rule *dsl.UnderwritingRule, age int, gender string) bool {
	if rule.AgeBandMin != nil && age < *rule.AgeBandMin {
		return false
	}
	if rule.AgeBandMax != nil && age > *rule.AgeBandMax {
		return false
	}
	if rule.Gender != "" && rule.Gender != gender {
		return false
	}
	return true
}

// EvaluateRuleSet evaluates all applicable rules in priority order and
// resolves the rule set to a single condition outcome. The first matching
// rule wins. If nothing matched but data was missing, the outcome is
// unknown; otherwise the configured default applies.
func (ev *Evaluator) EvaluateRuleSet(ruleSet *dsl.UnderwritingRuleSet, f facts.FactMap) models.ConditionOutcome {
	ordered := make([]dsl.UnderwritingRule, len(ruleSet.Rules))
	copy(ordered, ruleSet.Rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	age := factAge(f)
	gender, _ := f.Get("client.gender")
	genderStr, _ := gender.(string)

	var allMissing []models.MissingField

	for i := range ordered {
		rule := &ordered[i]
		if !RuleApplicable(rule, age, genderStr) {
			continue
		}

		result := ev.EvaluatePredicate(&rule.Predicate.Root, f)
		switch result.Status {
		case Matched:
			return models.ConditionOutcome{
				RuleSetID:     ruleSet.ID,
				ConditionCode: ruleSet.ConditionCode,
				Scope:         ruleSet.Scope,
				Status:        models.OutcomeMatched,
				Outcome:       rule.Outcome,
				MatchedRules: []models.MatchedRule{{
					RuleID:   rule.ID,
					RuleName: rule.Name,
					Priority: rule.Priority,
					Outcome:  rule.Outcome,
				}},
			}
		case Unknown:
			for _, m := range result.MissingFields {
				m.RuleID = rule.ID
				m.RuleName = rule.Name
				allMissing = append(allMissing, m)
			}
		}
	}

	if len(allMissing) > 0 {
		fields := make([]string, 0, len(allMissing))
		seen := make(map[string]bool)
		for _, m := range allMissing {
			if !seen[m.Field] {
				seen[m.Field] = true
				fields = append(fields, m.Field)
			}
		}
		return models.ConditionOutcome{
			RuleSetID:     ruleSet.ID,
			ConditionCode: ruleSet.ConditionCode,
			Scope:         ruleSet.Scope,
			Status:        models.OutcomeUnknown,
			Outcome: dsl.RuleOutcome{
				Eligibility: dsl.EligibilityUnknown,
				HealthClass: dsl.HealthUnknown,
				TableRating: dsl.TableRatingNone,
				Reason:      fmt.Sprintf("Missing data to evaluate: %s", strings.Join(fields, ", ")),
				Concerns:    []string{fmt.Sprintf("Missing data to evaluate: %s", strings.Join(fields, ", "))},
			},
			MissingFields: allMissing,
		}
	}

	defaultOutcome := ruleSet.EffectiveDefaultOutcome()
	return models.ConditionOutcome{
		RuleSetID:     ruleSet.ID,
		ConditionCode: ruleSet.ConditionCode,
		Scope:         ruleSet.Scope,
		Status:        models.OutcomeDefault,
		Outcome:       defaultOutcome,
	}
}

// =============================================================================
// Coercion helpers
// =============================================================================

func factAge(f facts.FactMap) int {
	if v, ok := f.Get("client.age"); ok {
		if n, ok := toNumber(v); ok {
			return int(n)
		}
	}
	return 0
}

func mustGet(f facts.FactMap, field string) any {
	v, _ := f.Get(field)
	return v
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v == 1
	case int:
		return v == 1
	default:
		return false
	}
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func setMemberEquals(member, value any) bool {
	if mn, ok := toNumber(member); ok {
		if vn, ok := toNumber(value); ok {
			return mn == vn
		}
	}
	ms, mok := member.(string)
	vs, vok := value.(string)
	return mok && vok && ms == vs
}
