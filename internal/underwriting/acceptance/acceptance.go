// Package acceptance resolves which rule set applies to each client
// condition and maps rule outcomes onto carrier acceptance decisions.
package acceptance

import (
	"fmt"
	"sort"

	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/evaluator"
	"underwriting-workers/internal/underwriting/facts"
)

// Decision is a carrier's acceptance posture for one condition.
type Decision string

const (
	DecisionApproved   Decision = "approved"
	DecisionTableRated Decision = "table_rated"
	DecisionCaseByCase Decision = "case_by_case"
	DecisionDeclined   Decision = "declined"
)

// Per-condition approval likelihood by eligibility outcome.
const (
	likelihoodEligible   = 0.9
	likelihoodRefer      = 0.6
	likelihoodUnknown    = 0.5
	likelihoodClean      = 0.95
	likelihoodIneligible = 0
)

// ConditionDecision is the resolved acceptance for one client condition.
type ConditionDecision struct {
	ConditionCode string                  `json:"conditionCode"`
	RuleSetID     string                  `json:"ruleSetId,omitempty"`
	Scope         dsl.RuleSetScope        `json:"scope,omitempty"`
	Decision      Decision                `json:"decision"`
	Likelihood    float64                 `json:"likelihood"`
	Outcome       models.ConditionOutcome `json:"outcome"`
	Concerns      []string                `json:"concerns,omitempty"`
}

// Index partitions a carrier's rule sets for scope fallback resolution.
// Global sets whose predicates reference two or more condition codes are
// interaction rules and never resolve a single condition.
type Index struct {
	byCondition  map[string][]*dsl.UnderwritingRuleSet
	byProduct    map[string][]*dsl.UnderwritingRuleSet
	global       []*dsl.UnderwritingRuleSet
	interactions []*dsl.UnderwritingRuleSet
}

// NewIndex builds the scope index from a carrier's approved rule sets.
func NewIndex(ruleSets []*dsl.UnderwritingRuleSet) *Index {
	idx := &Index{
		byCondition: map[string][]*dsl.UnderwritingRuleSet{},
		byProduct:   map[string][]*dsl.UnderwritingRuleSet{},
	}

	for _, rs := range ruleSets {
		switch rs.Scope {
		case dsl.ScopeCondition:
			idx.byCondition[rs.ConditionCode] = append(idx.byCondition[rs.ConditionCode], rs)
		case dsl.ScopeProduct:
			idx.byProduct[rs.ProductID] = append(idx.byProduct[rs.ProductID], rs)
		case dsl.ScopeGlobal:
			if isInteractionRuleSet(rs) {
				idx.interactions = append(idx.interactions, rs)
			} else {
				idx.global = append(idx.global, rs)
			}
		}
	}

	// Highest version wins within a scope bucket.
	byVersion := func(sets []*dsl.UnderwritingRuleSet) {
		sort.SliceStable(sets, func(i, j int) bool {
			return sets[i].Version > sets[j].Version
		})
	}
	for _, sets := range idx.byCondition {
		byVersion(sets)
	}
	for _, sets := range idx.byProduct {
		byVersion(sets)
	}
	byVersion(idx.global)
	byVersion(idx.interactions)

	return idx
}

// isInteractionRuleSet reports whether a global set's rules reference
// more than one condition code.
func isInteractionRuleSet(rs *dsl.UnderwritingRuleSet) bool {
	codes := map[string]struct{}{}
	for i := range rs.Rules {
		for _, code := range dsl.ConditionCodes(&rs.Rules[i].Predicate.Root) {
			codes[code] = struct{}{}
		}
	}
	return len(codes) >= 2
}

// Interactions returns the carrier's multi-condition interaction rule sets.
func (idx *Index) Interactions() []*dsl.UnderwritingRuleSet {
	return idx.interactions
}

// ApplicableRuleSets returns the highest-version rule set from each scope
// bucket that could fire for this product and these declared conditions.
func (idx *Index) ApplicableRuleSets(productID string, conditionCodes []string) []*dsl.UnderwritingRuleSet {
	var sets []*dsl.UnderwritingRuleSet
	for _, code := range conditionCodes {
		if bucket := idx.byCondition[code]; len(bucket) > 0 {
			sets = append(sets, bucket[0])
		}
	}
	if bucket := idx.byProduct[productID]; len(bucket) > 0 {
		sets = append(sets, bucket[0])
	}
	if len(idx.global) > 0 {
		sets = append(sets, idx.global[0])
	}
	sets = append(sets, idx.interactions...)
	return sets
}

// Resolver evaluates acceptance per condition with scope fallback.
type Resolver struct {
	eval *evaluator.Evaluator
	log  logger.Logger
}

func NewResolver(eval *evaluator.Evaluator, log logger.Logger) *Resolver {
	return &Resolver{eval: eval, log: log}
}

// ResolveCondition finds the applicable rule set for a condition against
// one product and evaluates it. Resolution walks condition scope, then
// product scope, then global scope. A scope whose rule set exists but
// matches nothing falls through to the next scope; the most specific
// default outcome applies only when every scope falls through.
func (r *Resolver) ResolveCondition(idx *Index, conditionCode, productID string, f facts.FactMap) ConditionDecision {
	scopes := [][]*dsl.UnderwritingRuleSet{
		idx.byCondition[conditionCode],
		idx.byProduct[productID],
		idx.global,
	}

	var firstDefault *models.ConditionOutcome
	for _, sets := range scopes {
		if len(sets) == 0 {
			continue
		}
		rs := sets[0]
		outcome := r.eval.EvaluateRuleSet(rs, f)
		outcome.ConditionCode = conditionCode

		switch outcome.Status {
		case models.OutcomeMatched, models.OutcomeUnknown:
			return decisionFrom(conditionCode, outcome)
		case models.OutcomeDefault:
			if firstDefault == nil {
				copied := outcome
				firstDefault = &copied
			}
		}
	}

	if firstDefault != nil {
		return decisionFrom(conditionCode, *firstDefault)
	}

	// No approved rule set anywhere in the chain.
	concern := fmt.Sprintf("%s: no approved rule set found - manual review required", conditionCode)
	outcome := models.ConditionOutcome{
		ConditionCode: conditionCode,
		Status:        models.OutcomeDefault,
		Outcome:       dsl.DefaultSafeOutcome(),
	}
	d := decisionFrom(conditionCode, outcome)
	d.Likelihood = likelihoodUnknown
	d.Concerns = append(d.Concerns, concern)
	return d
}

// CheckInteractions evaluates the carrier's interaction rule sets. The
// first match overrides the independent per-condition aggregate.
func (r *Resolver) CheckInteractions(idx *Index, f facts.FactMap) *models.ConditionOutcome {
	for _, rs := range idx.interactions {
		outcome := r.eval.EvaluateRuleSet(rs, f)
		if outcome.Status == models.OutcomeMatched {
			r.log.Info("Interaction rule matched, overriding independent outcomes", map[string]interface{}{
				"ruleSetId": rs.ID,
			})
			return &outcome
		}
	}
	return nil
}

// decisionFrom maps a rule outcome onto an acceptance decision and
// approval likelihood.
func decisionFrom(conditionCode string, outcome models.ConditionOutcome) ConditionDecision {
	d := ConditionDecision{
		ConditionCode: conditionCode,
		RuleSetID:     outcome.RuleSetID,
		Scope:         outcome.Scope,
		Outcome:       outcome,
		Concerns:      append([]string(nil), outcome.Outcome.Concerns...),
	}

	switch outcome.Outcome.Eligibility {
	case dsl.EligibilityIneligible:
		d.Decision = DecisionDeclined
		d.Likelihood = likelihoodIneligible
	case dsl.EligibilityRefer:
		d.Decision = DecisionCaseByCase
		d.Likelihood = likelihoodRefer
	case dsl.EligibilityUnknown:
		d.Decision = DecisionCaseByCase
		d.Likelihood = likelihoodUnknown
	default:
		if dsl.TableRatingUnits(outcome.Outcome.TableRating) > 0 {
			d.Decision = DecisionTableRated
		} else {
			d.Decision = DecisionApproved
		}
		d.Likelihood = likelihoodEligible
	}

	return d
}

// CleanCaseLikelihood is the approval likelihood for a client with no
// disclosed conditions.
func CleanCaseLikelihood() float64 {
	return likelihoodClean
}

// OverallLikelihood folds per-condition likelihoods into one number.
// Any declined condition zeroes it; otherwise the weakest condition
// bounds the result, capped below the clean-case likelihood.
func OverallLikelihood(decisions []ConditionDecision) float64 {
	if len(decisions) == 0 {
		return likelihoodClean
	}

	overall := likelihoodClean
	for _, d := range decisions {
		if d.Decision == DecisionDeclined {
			return 0
		}
		if d.Likelihood < overall {
			overall = d.Likelihood
		}
	}
	return overall
}
