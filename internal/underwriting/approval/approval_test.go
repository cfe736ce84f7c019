package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/acceptance"
	"underwriting-workers/internal/underwriting/aggregate"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/evaluator"
	"underwriting-workers/internal/underwriting/facts"
)

// ==========================
// Test Helper Functions
// ==========================

func newTestScorer(t *testing.T) *Scorer {
	log := logger.NewZapAdapter(zaptest.NewLogger(t))
	return NewScorer(acceptance.NewResolver(evaluator.New(log), log), log)
}

func numPtr(v float64) *float64 { return &v }

func createTestProduct() *models.ProductCandidate {
	return &models.ProductCandidate{ID: "prod-1", CarrierID: "carrier-a", Name: "Level Term"}
}

func createTestClient() *models.ClientProfile {
	return &models.ClientProfile{
		Age:          50,
		Gender:       "male",
		HeightInches: 70,
		WeightLbs:    190,
		Conditions: []models.ClientCondition{
			{Code: "hypertension", Responses: map[string]any{"systolic": 130.0}},
		},
	}
}

func createTestChart() []models.BuildChartRow {
	return []models.BuildChartRow{
		{HeightInches: 70, WeightMinLbs: 120, WeightMaxLbs: 185, HealthClass: dsl.HealthPreferred, TableRating: dsl.TableRatingNone},
		{HeightInches: 70, WeightMinLbs: 186, WeightMaxLbs: 220, HealthClass: dsl.HealthStandard, TableRating: dsl.TableRating("B")},
	}
}

func hypertensionIndex(outcome dsl.RuleOutcome) *acceptance.Index {
	return acceptance.NewIndex([]*dsl.UnderwritingRuleSet{{
		ID: "rs-hyp", Scope: dsl.ScopeCondition, ConditionCode: "hypertension", Version: 1,
		Rules: []dsl.UnderwritingRule{{
			ID: "r1", Name: "Controlled BP", Priority: 1,
			Predicate: dsl.RulePredicate{Version: dsl.SupportedVersion, Root: dsl.PredicateGroup{
				All: []dsl.PredicateNode{{Cond: &dsl.FieldCondition{
					Field: "hypertension.systolic", Type: dsl.TypeNumeric, Operator: "lte", NumberValue: numPtr(140),
				}}},
			}},
			Outcome: outcome,
		}},
	}})
}

// ==========================
// Scoring Tests
// ==========================

func TestScore_CombinesConditionAndBuild(t *testing.T) {
	s := newTestScorer(t)
	client := createTestClient()
	idx := hypertensionIndex(dsl.RuleOutcome{
		Eligibility: dsl.EligibilityEligible, HealthClass: dsl.HealthPreferred,
		TableRating: dsl.TableRatingNone, Reason: "BP controlled",
	})

	result := s.Score(createTestProduct(), client, idx, facts.Build(client), createTestChart(), aggregate.DefaultCarrierConfig())

	// 190 lbs at 70in lands in the standard band with table B; the build
	// contribution drags the preferred condition outcome down.
	assert.Equal(t, dsl.EligibilityEligible, result.Aggregate.Eligibility)
	assert.Equal(t, dsl.HealthStandard, result.Aggregate.HealthClass)
	assert.Equal(t, 2, result.Aggregate.TableRatingUnits)
	assert.Equal(t, 0.9, result.Likelihood)
	assert.False(t, result.InteractionOverride)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, acceptance.DecisionApproved, result.Decisions[0].Decision)
}

func TestScore_AssignedRatingWinsOverChart(t *testing.T) {
	s := newTestScorer(t)
	client := createTestClient()
	client.AssignedTableRating = dsl.TableRating("D")
	idx := hypertensionIndex(dsl.RuleOutcome{
		Eligibility: dsl.EligibilityEligible, HealthClass: dsl.HealthStandard,
		TableRating: dsl.TableRatingNone, Reason: "BP controlled",
	})

	result := s.Score(createTestProduct(), client, idx, facts.Build(client), createTestChart(), aggregate.DefaultCarrierConfig())

	assert.Equal(t, 4, result.Aggregate.TableRatingUnits, "assigned rating replaces the chart lookup")
	assert.Contains(t, result.Aggregate.Reasons, "Underwriter-assigned table rating")
}

func TestScore_WeightOutsideChartBandsRefers(t *testing.T) {
	s := newTestScorer(t)
	client := createTestClient()
	client.WeightLbs = 300
	idx := hypertensionIndex(dsl.RuleOutcome{
		Eligibility: dsl.EligibilityEligible, HealthClass: dsl.HealthStandard,
		TableRating: dsl.TableRatingNone, Reason: "BP controlled",
	})

	result := s.Score(createTestProduct(), client, idx, facts.Build(client), createTestChart(), aggregate.DefaultCarrierConfig())

	assert.Equal(t, dsl.EligibilityRefer, result.Aggregate.Eligibility)
	assert.Equal(t, dsl.HealthRefer, result.Aggregate.HealthClass)
	assert.Contains(t, result.Aggregate.Reasons, "Build outside chart bands - manual review required")
}

func TestScore_MissingBuildDataContributesNothing(t *testing.T) {
	s := newTestScorer(t)
	client := createTestClient()
	client.HeightInches = 0
	client.WeightLbs = 0
	idx := hypertensionIndex(dsl.RuleOutcome{
		Eligibility: dsl.EligibilityEligible, HealthClass: dsl.HealthPreferred,
		TableRating: dsl.TableRatingNone, Reason: "BP controlled",
	})

	result := s.Score(createTestProduct(), client, idx, facts.Build(client), createTestChart(), aggregate.DefaultCarrierConfig())

	assert.Equal(t, dsl.HealthPreferred, result.Aggregate.HealthClass)
	assert.Zero(t, result.Aggregate.TableRatingUnits)
}

func TestScore_InteractionOverrideReplacesAggregate(t *testing.T) {
	s := newTestScorer(t)
	client := createTestClient()
	client.Conditions = append(client.Conditions, models.ClientCondition{Code: "diabetes_type_2"})

	interaction := &dsl.UnderwritingRuleSet{
		ID: "rs-interact", Scope: dsl.ScopeGlobal, Version: 1,
		Rules: []dsl.UnderwritingRule{{
			ID: "r-combo", Name: "Hypertension with diabetes", Priority: 1,
			Predicate: dsl.RulePredicate{Version: dsl.SupportedVersion, Root: dsl.PredicateGroup{
				All: []dsl.PredicateNode{{Cond: &dsl.FieldCondition{
					Field: "conditions", Type: dsl.TypeConditionPresence, Operator: "includes_all",
					StringsValue: []string{"hypertension", "diabetes_type_2"},
				}}},
			}},
			Outcome: dsl.RuleOutcome{
				Eligibility: dsl.EligibilityRefer, HealthClass: dsl.HealthRefer,
				TableRating: dsl.TableRatingNone, Reason: "Comorbidity requires review",
			},
		}},
	}
	idx := acceptance.NewIndex([]*dsl.UnderwritingRuleSet{interaction})

	result := s.Score(createTestProduct(), client, idx, facts.Build(client), createTestChart(), aggregate.DefaultCarrierConfig())

	assert.True(t, result.InteractionOverride)
	assert.Empty(t, result.Decisions, "per-condition resolution is skipped entirely")
	assert.Equal(t, dsl.EligibilityRefer, result.Aggregate.Eligibility)
	assert.Equal(t, 0.6, result.Likelihood)
}

func TestScore_InteractionDeclineNotMaskedByFavorableConditions(t *testing.T) {
	// Each condition alone rates eligible/standard, but the combination
	// rule declines. The interaction outcome must win outright; the
	// favorable independent aggregates never get a vote.
	s := newTestScorer(t)
	client := createTestClient()
	client.Conditions = append(client.Conditions, models.ClientCondition{
		Code: "diabetes_type_2", Responses: map[string]any{"a1c": 6.5},
	})

	favorable := func(id, code, field string, limit float64) *dsl.UnderwritingRuleSet {
		return &dsl.UnderwritingRuleSet{
			ID: id, Scope: dsl.ScopeCondition, ConditionCode: code, Version: 1,
			Rules: []dsl.UnderwritingRule{{
				ID: id + "-r1", Name: code + " controlled", Priority: 1,
				Predicate: dsl.RulePredicate{Version: dsl.SupportedVersion, Root: dsl.PredicateGroup{
					All: []dsl.PredicateNode{{Cond: &dsl.FieldCondition{
						Field: field, Type: dsl.TypeNumeric, Operator: "lte", NumberValue: numPtr(limit),
					}}},
				}},
				Outcome: dsl.RuleOutcome{
					Eligibility: dsl.EligibilityEligible, HealthClass: dsl.HealthStandard,
					TableRating: dsl.TableRatingNone, Reason: code + " controlled",
				},
			}},
		}
	}
	combo := &dsl.UnderwritingRuleSet{
		ID: "rs-combo", Scope: dsl.ScopeGlobal, Version: 1,
		Rules: []dsl.UnderwritingRule{{
			ID: "r-combo", Name: "Hypertension with diabetes declines", Priority: 1,
			Predicate: dsl.RulePredicate{Version: dsl.SupportedVersion, Root: dsl.PredicateGroup{
				All: []dsl.PredicateNode{{Cond: &dsl.FieldCondition{
					Field: "conditions", Type: dsl.TypeConditionPresence, Operator: "includes_all",
					StringsValue: []string{"hypertension", "diabetes_type_2"},
				}}},
			}},
			Outcome: dsl.RuleOutcome{
				Eligibility: dsl.EligibilityIneligible, HealthClass: dsl.HealthDecline,
				TableRating: dsl.TableRatingNone, Reason: "Comorbidity is uninsurable",
			},
		}},
	}
	idx := acceptance.NewIndex([]*dsl.UnderwritingRuleSet{
		favorable("rs-hyp", "hypertension", "hypertension.systolic", 140),
		favorable("rs-dm2", "diabetes_type_2", "diabetes_type_2.a1c", 7),
		combo,
	})

	result := s.Score(createTestProduct(), client, idx, facts.Build(client), createTestChart(), aggregate.DefaultCarrierConfig())

	assert.True(t, result.InteractionOverride)
	assert.Equal(t, dsl.EligibilityIneligible, result.Aggregate.Eligibility)
	assert.Zero(t, result.Likelihood)
	assert.Empty(t, result.Decisions, "the favorable per-condition outcomes are never resolved")
}

func TestScore_NoRuleSetsRoutesToManualReview(t *testing.T) {
	s := newTestScorer(t)
	client := createTestClient()

	result := s.Score(createTestProduct(), client, acceptance.NewIndex(nil), facts.Build(client), nil, aggregate.DefaultCarrierConfig())

	assert.Equal(t, dsl.EligibilityRefer, result.Aggregate.Eligibility)
	assert.Equal(t, 0.5, result.Likelihood)
	assert.Contains(t, result.Aggregate.Concerns, "hypertension: no approved rule set found - manual review required")
}
