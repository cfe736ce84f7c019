// internal/workers/underwriting/validate-rule-set/models.go
package validateruleset

import "encoding/json"

type Input struct {
	// RuleSet is the raw authored document, passed through untouched so
	// schema errors reference the exact submitted form.
	RuleSet json.RawMessage `json:"ruleSet"`
}

type Output struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`

	// Summary fields echoed back for the authoring workflow.
	RuleSetID     string `json:"ruleSetId,omitempty"`
	Scope         string `json:"scope,omitempty"`
	ConditionCode string `json:"conditionCode,omitempty"`
	RuleCount     int    `json:"ruleCount"`
}
