// internal/models/evaluation.go
package models

import (
	"underwriting-workers/internal/underwriting/dsl"
)

// MissingField records one fact the evaluator needed but could not find.
// It is a structured result, not an error; callers prompt for the datum.
type MissingField struct {
	Field         string `json:"field"`
	RuleID        string `json:"ruleId,omitempty"`
	RuleName      string `json:"ruleName,omitempty"`
	ConditionCode string `json:"conditionCode,omitempty"`
}

// MatchedRule identifies a rule whose predicate evaluated true, with the
// outcome it contributed.
type MatchedRule struct {
	RuleID   string          `json:"ruleId"`
	RuleName string          `json:"ruleName"`
	Priority int             `json:"priority"`
	Outcome  dsl.RuleOutcome `json:"outcome"`
}

// ConditionOutcomeStatus describes how a rule set evaluation resolved.
type ConditionOutcomeStatus string

const (
	// OutcomeMatched means at least one rule matched; the first match by
	// priority is cited as the primary reason.
	OutcomeMatched ConditionOutcomeStatus = "matched"
	// OutcomeUnknown means nothing matched and at least one rule could
	// not be evaluated for lack of data.
	OutcomeUnknown ConditionOutcomeStatus = "unknown"
	// OutcomeDefault means nothing matched, nothing was unknown, and the
	// rule set's configured default outcome was applied.
	OutcomeDefault ConditionOutcomeStatus = "default"
)

// ConditionOutcome is the result of evaluating one rule set against a
// fact map.
type ConditionOutcome struct {
	RuleSetID     string                 `json:"ruleSetId"`
	ConditionCode string                 `json:"conditionCode,omitempty"`
	Scope         dsl.RuleSetScope       `json:"scope"`
	Status        ConditionOutcomeStatus `json:"status"`
	Outcome       dsl.RuleOutcome        `json:"outcome"`
	MatchedRules  []MatchedRule          `json:"matchedRules,omitempty"`
	MissingFields []MissingField         `json:"missingFields,omitempty"`
}

// AggregatedOutcome is the worst-case combination of condition outcomes.
type AggregatedOutcome struct {
	Eligibility      dsl.EligibilityStatus `json:"eligibility"`
	HealthClass      dsl.HealthClass       `json:"healthClass"`
	TableRating      dsl.TableRating       `json:"tableRating"`
	TableRatingUnits int                   `json:"tableRatingUnits"`

	FlatExtraPerThousand float64 `json:"flatExtraPerThousand,omitempty"`
	FlatExtraYears       int     `json:"flatExtraYears,omitempty"`

	Reasons       []string       `json:"reasons,omitempty"`
	Concerns      []string       `json:"concerns,omitempty"`
	MissingFields []MissingField `json:"missingFields,omitempty"`

	// UsedDefault marks aggregates where no rule actually matched and a
	// configured default supplied the outcome. Loggable, never hidden.
	UsedDefault bool `json:"usedDefault,omitempty"`
}
