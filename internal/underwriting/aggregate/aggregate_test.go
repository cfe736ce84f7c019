package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/dsl"
)

// ==========================
// Test Helper Functions
// ==========================

func numPtr(v float64) *float64 { return &v }
func intPtr(v int) *int         { return &v }

func matchedOutcome(code string, eligibility dsl.EligibilityStatus, health dsl.HealthClass, table dsl.TableRating, reason string) models.ConditionOutcome {
	return models.ConditionOutcome{
		ConditionCode: code,
		Status:        models.OutcomeMatched,
		Outcome: dsl.RuleOutcome{
			Eligibility: eligibility,
			HealthClass: health,
			TableRating: table,
			Reason:      reason,
		},
	}
}

func withFlatExtra(o models.ConditionOutcome, perThousand float64, years int) models.ConditionOutcome {
	o.MatchedRules = append(o.MatchedRules, models.MatchedRule{
		RuleName: o.ConditionCode + " rule",
		Outcome: dsl.RuleOutcome{
			FlatExtraPerThousand: numPtr(perThousand),
			FlatExtraYears:       intPtr(years),
		},
	})
	return o
}

// ==========================
// Worst-Case Combination
// ==========================

func TestOutcomes_WorstOfEverything(t *testing.T) {
	outcomes := []models.ConditionOutcome{
		matchedOutcome("hypertension", dsl.EligibilityEligible, dsl.HealthStandardPlus, dsl.TableRating("B"), "Controlled BP"),
		matchedOutcome("diabetes_type_2", dsl.EligibilityRefer, dsl.HealthSubstandard, dsl.TableRating("D"), "Elevated A1C"),
		matchedOutcome("sleep_apnea", dsl.EligibilityEligible, dsl.HealthStandard, dsl.TableRating("A"), "CPAP compliant"),
	}

	result := Outcomes(outcomes, nil, DefaultCarrierConfig())

	assert.Equal(t, dsl.EligibilityRefer, result.Eligibility)
	assert.Equal(t, dsl.HealthSubstandard, result.HealthClass)
	// Table units take the max across conditions {2, 4, 1}, never the sum.
	assert.Equal(t, 4, result.TableRatingUnits)
	assert.Equal(t, dsl.TableRating("D"), result.TableRating)
	assert.False(t, result.UsedDefault)
	assert.Len(t, result.Reasons, 3)
}

func TestOutcomes_Commutative(t *testing.T) {
	a := matchedOutcome("hypertension", dsl.EligibilityEligible, dsl.HealthPreferred, dsl.TableRatingNone, "Controlled BP")
	b := matchedOutcome("diabetes_type_2", dsl.EligibilityRefer, dsl.HealthSubstandard, dsl.TableRating("C"), "Elevated A1C")

	forward := Outcomes([]models.ConditionOutcome{a, b}, nil, DefaultCarrierConfig())
	reversed := Outcomes([]models.ConditionOutcome{b, a}, nil, DefaultCarrierConfig())

	assert.Equal(t, forward.Eligibility, reversed.Eligibility)
	assert.Equal(t, forward.HealthClass, reversed.HealthClass)
	assert.Equal(t, forward.TableRatingUnits, reversed.TableRatingUnits)
	assert.Equal(t, forward.FlatExtraPerThousand, reversed.FlatExtraPerThousand)
}

func TestOutcomes_GlobalIneligibleShortCircuits(t *testing.T) {
	global := models.ConditionOutcome{
		Scope:  dsl.ScopeGlobal,
		Status: models.OutcomeMatched,
		Outcome: dsl.RuleOutcome{
			Eligibility: dsl.EligibilityIneligible,
			HealthClass: dsl.HealthDecline,
			Reason:      "Multiple cardiac conditions",
			Concerns:    []string{"cardiac history"},
		},
	}
	// A favorable condition outcome must not soften the global decline.
	conditions := []models.ConditionOutcome{
		matchedOutcome("hypertension", dsl.EligibilityEligible, dsl.HealthPreferredPlus, dsl.TableRatingNone, "Controlled BP"),
	}

	result := Outcomes(conditions, &global, DefaultCarrierConfig())

	assert.Equal(t, dsl.EligibilityIneligible, result.Eligibility)
	assert.Equal(t, dsl.HealthDecline, result.HealthClass)
	assert.Equal(t, dsl.TableRatingNone, result.TableRating)
	assert.Equal(t, []string{"Multiple cardiac conditions"}, result.Reasons)
	assert.Equal(t, []string{"cardiac history"}, result.Concerns)
}

func TestOutcomes_GlobalNonIneligibleContributes(t *testing.T) {
	global := matchedOutcome("", dsl.EligibilityEligible, dsl.HealthStandard, dsl.TableRating("A"), "Global baseline")
	global.Scope = dsl.ScopeGlobal

	result := Outcomes(nil, &global, DefaultCarrierConfig())

	assert.Equal(t, dsl.EligibilityEligible, result.Eligibility)
	assert.Equal(t, dsl.HealthStandard, result.HealthClass)
	assert.Equal(t, 1, result.TableRatingUnits)
	assert.False(t, result.UsedDefault)
}

func TestOutcomes_UsedDefaultWhenNothingMatched(t *testing.T) {
	outcome := matchedOutcome("hypertension", dsl.EligibilityRefer, dsl.HealthRefer, dsl.TableRatingNone, "No matching rule")
	outcome.Status = models.OutcomeDefault

	result := Outcomes([]models.ConditionOutcome{outcome}, nil, DefaultCarrierConfig())
	assert.True(t, result.UsedDefault)
}

func TestOutcomes_DedupesReasonsAndConcerns(t *testing.T) {
	a := matchedOutcome("hypertension", dsl.EligibilityEligible, dsl.HealthStandard, dsl.TableRatingNone, "Standard cardiovascular risk")
	a.Outcome.Concerns = []string{"monitor BP"}
	b := matchedOutcome("arrhythmia", dsl.EligibilityEligible, dsl.HealthStandard, dsl.TableRatingNone, "Standard cardiovascular risk")
	b.Outcome.Concerns = []string{"monitor BP", "follow-up ECG"}

	result := Outcomes([]models.ConditionOutcome{a, b}, nil, DefaultCarrierConfig())

	assert.Equal(t, []string{"Standard cardiovascular risk"}, result.Reasons)
	assert.Equal(t, []string{"monitor BP", "follow-up ECG"}, result.Concerns)
}

func TestOutcomes_CollectsMissingFields(t *testing.T) {
	unknown := models.ConditionOutcome{
		ConditionCode: "cancer",
		Status:        models.OutcomeUnknown,
		Outcome:       dsl.RuleOutcome{Eligibility: dsl.EligibilityUnknown, HealthClass: dsl.HealthUnknown},
		MissingFields: []models.MissingField{{Field: "cancer.stage", ConditionCode: "cancer"}},
	}

	result := Outcomes([]models.ConditionOutcome{unknown}, nil, DefaultCarrierConfig())

	assert.Equal(t, dsl.EligibilityUnknown, result.Eligibility)
	assert.Equal(t, dsl.HealthUnknown, result.HealthClass)
	assert.Len(t, result.MissingFields, 1)
	assert.True(t, result.UsedDefault)
}

// ==========================
// Flat Extra Combination
// ==========================

func TestCombineFlatExtras(t *testing.T) {
	extras := []FlatExtra{
		{PerThousand: 2.5, Years: 3, Source: "cancer rule"},
		{PerThousand: 5.0, Years: 2, Source: "aviation rule"},
		{PerThousand: 1.0, Years: 15, Source: "avocation rule"},
	}

	tests := []struct {
		name            string
		mode            FlatExtraMode
		wantPerThousand float64
		wantYears       int
	}{
		{"sum adds amounts and keeps longest duration", FlatExtraSum, 8.5, 15},
		{"max keeps the single largest amount", FlatExtraMax, 5.0, 2},
		{"worst_only keeps highest lifetime cost", FlatExtraWorstOnly, 1.0, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perThousand, years := CombineFlatExtras(extras, tt.mode)
			assert.Equal(t, tt.wantPerThousand, perThousand)
			assert.Equal(t, tt.wantYears, years)
		})
	}
}

func TestCombineFlatExtras_Empty(t *testing.T) {
	perThousand, years := CombineFlatExtras(nil, FlatExtraSum)
	assert.Zero(t, perThousand)
	assert.Zero(t, years)
}

func TestOutcomes_FlatExtrasFlowThroughMatchedRules(t *testing.T) {
	a := withFlatExtra(matchedOutcome("cancer", dsl.EligibilityEligible, dsl.HealthStandard, dsl.TableRatingNone, "Remission"), 2.5, 3)
	b := withFlatExtra(matchedOutcome("aviation", dsl.EligibilityEligible, dsl.HealthStandard, dsl.TableRatingNone, "Private pilot"), 3.0, 5)

	result := Outcomes([]models.ConditionOutcome{a, b}, nil, CarrierConfig{FlatExtraMode: FlatExtraSum})
	assert.Equal(t, 5.5, result.FlatExtraPerThousand)
	assert.Equal(t, 5, result.FlatExtraYears)

	result = Outcomes([]models.ConditionOutcome{a, b}, nil, CarrierConfig{FlatExtraMode: FlatExtraMax})
	assert.Equal(t, 3.0, result.FlatExtraPerThousand)
	assert.Equal(t, 5, result.FlatExtraYears)
}
