// internal/underwriting/dsl/parse.go
package dsl

import (
	"encoding/json"
	"strings"

	commonerrors "underwriting-workers/internal/common/errors"
)

// UnmarshalJSON accepts either the versioned document form
// {"version": 2, "root": {...}} or a bare predicate group. Explicit
// versions other than 2 are rejected.
func (p *RulePredicate) UnmarshalJSON(data []byte) error {
	var versioned struct {
		Version *int            `json:"version"`
		Root    json.RawMessage `json:"root"`
	}
	if err := json.Unmarshal(data, &versioned); err != nil {
		return err
	}

	if versioned.Version != nil {
		if *versioned.Version != SupportedVersion {
			return commonerrors.NewUnsupportedDSLVersionError(*versioned.Version)
		}
		p.Version = *versioned.Version
		if len(versioned.Root) == 0 {
			p.Root = PredicateGroup{}
			return nil
		}
		return json.Unmarshal(versioned.Root, &p.Root)
	}

	// Bare group form, normalized to the supported version.
	p.Version = SupportedVersion
	return json.Unmarshal(data, &p.Root)
}

// ParsePredicate decodes a stored predicate document.
func ParsePredicate(data []byte) (*RulePredicate, error) {
	var p RulePredicate
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseRuleSet decodes a rule set document. Callers should run
// ValidateRuleSet on the result before trusting it.
func ParseRuleSet(data []byte) (*UnderwritingRuleSet, error) {
	var rs UnderwritingRuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ExtractConditionCode pulls the condition code prefix out of a field path,
// e.g. "diabetes_type_2.a1c" yields "diabetes_type_2". Client fields and
// the conditions list carry no condition code.
func ExtractConditionCode(field string) string {
	if strings.HasPrefix(field, "client.") || field == "conditions" {
		return ""
	}
	if i := strings.Index(field, "."); i > 0 {
		return field[:i]
	}
	return ""
}

// ConditionCodes walks a predicate group and returns every condition code
// referenced by a leaf, de-duplicated in first-seen order. Used to detect
// multi-condition interaction rules.
func ConditionCodes(g *PredicateGroup) []string {
	var codes []string
	seen := make(map[string]bool)

	var visit func(node PredicateNode)
	visitGroup := func(group *PredicateGroup) {
		for _, child := range group.All {
			visit(child)
		}
		for _, child := range group.Any {
			visit(child)
		}
		if group.Not != nil {
			visit(*group.Not)
		}
	}
	visit = func(node PredicateNode) {
		if node.Cond != nil {
			add := func(code string) {
				if code != "" && !seen[code] {
					seen[code] = true
					codes = append(codes, code)
				}
			}
			add(ExtractConditionCode(node.Cond.Field))
			// condition_presence leaves reference codes by value.
			if node.Cond.Type == TypeConditionPresence {
				for _, code := range node.Cond.StringsValue {
					add(code)
				}
			}
			return
		}
		if node.Group != nil {
			visitGroup(node.Group)
		}
	}
	visitGroup(g)
	return codes
}

// FieldPaths walks a predicate group and returns every field path its
// leaves read, de-duplicated in first-seen order. condition_presence
// leaves count as reading "conditions".
func FieldPaths(g *PredicateGroup) []string {
	var paths []string
	seen := make(map[string]bool)

	var visit func(node PredicateNode)
	visitGroup := func(group *PredicateGroup) {
		for _, child := range group.All {
			visit(child)
		}
		for _, child := range group.Any {
			visit(child)
		}
		if group.Not != nil {
			visit(*group.Not)
		}
	}
	visit = func(node PredicateNode) {
		if node.Cond != nil {
			if !seen[node.Cond.Field] {
				seen[node.Cond.Field] = true
				paths = append(paths, node.Cond.Field)
			}
			return
		}
		if node.Group != nil {
			visitGroup(node.Group)
		}
	}
	visitGroup(g)
	return paths
}
