// Package aggregate combines per-condition rule outcomes into one
// worst-case decision. Aggregation is commutative: rule ordering only
// affects which reason is cited first, never the combined class or rating.
package aggregate

import (
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/dsl"
)

// FlatExtraMode selects how per-rule flat extras combine for a carrier.
type FlatExtraMode string

const (
	FlatExtraSum       FlatExtraMode = "sum"
	FlatExtraMax       FlatExtraMode = "max"
	FlatExtraWorstOnly FlatExtraMode = "worst_only"
)

// CarrierConfig carries the per-carrier aggregation knobs.
type CarrierConfig struct {
	FlatExtraMode FlatExtraMode
}

// DefaultCarrierConfig matches the most common carrier contract.
func DefaultCarrierConfig() CarrierConfig {
	return CarrierConfig{FlatExtraMode: FlatExtraSum}
}

// FlatExtra is one flat-extra contribution with its originating rule.
type FlatExtra struct {
	PerThousand float64
	Years       int
	Source      string
}

// CombineFlatExtras folds contributions per the carrier mode.
func CombineFlatExtras(extras []FlatExtra, mode FlatExtraMode) (perThousand float64, years int) {
	if len(extras) == 0 {
		return 0, 0
	}

	switch mode {
	case FlatExtraSum:
		for _, e := range extras {
			perThousand += e.PerThousand
			if e.Years > years {
				years = e.Years
			}
		}
		return perThousand, years
	case FlatExtraMax:
		max := extras[0]
		for _, e := range extras[1:] {
			if e.PerThousand > max.PerThousand {
				max = e
			}
		}
		return max.PerThousand, max.Years
	case FlatExtraWorstOnly:
		// Worst by total cost over the extra's lifetime.
		worst := extras[0]
		for _, e := range extras[1:] {
			if e.PerThousand*float64(e.Years) > worst.PerThousand*float64(worst.Years) {
				worst = e
			}
		}
		return worst.PerThousand, worst.Years
	default:
		return 0, 0
	}
}

func flatExtrasFrom(outcome models.ConditionOutcome) []FlatExtra {
	var extras []FlatExtra
	for _, mr := range outcome.MatchedRules {
		if mr.Outcome.FlatExtraPerThousand == nil {
			continue
		}
		years := 1
		if mr.Outcome.FlatExtraYears != nil {
			years = *mr.Outcome.FlatExtraYears
		}
		extras = append(extras, FlatExtra{
			PerThousand: *mr.Outcome.FlatExtraPerThousand,
			Years:       years,
			Source:      mr.RuleName,
		})
	}
	return extras
}

// Outcomes combines condition outcomes with an optional global outcome.
//
// Worst-case everywhere: worst eligibility, worst health class rank, MAX
// table rating units across contributors. Table units are never summed or
// multiplied. A global ineligible short-circuits straight to decline.
func Outcomes(conditionOutcomes []models.ConditionOutcome, globalOutcome *models.ConditionOutcome, cfg CarrierConfig) models.AggregatedOutcome {
	worstEligibility := dsl.EligibilityEligible
	worstHealthRank := dsl.HealthClassRank(dsl.HealthPreferredPlus)
	maxTableUnits := 0
	var allExtras []FlatExtra
	var reasons, concerns []string
	var missing []models.MissingField
	matchedAnything := false

	appendConcerns := func(items []string) {
		concerns = append(concerns, items...)
	}

	if globalOutcome != nil {
		if globalOutcome.Outcome.Eligibility == dsl.EligibilityIneligible {
			return models.AggregatedOutcome{
				Eligibility:   dsl.EligibilityIneligible,
				HealthClass:   dsl.HealthDecline,
				TableRating:   dsl.TableRatingNone,
				Reasons:       dedupe([]string{globalOutcome.Outcome.Reason}),
				Concerns:      dedupe(globalOutcome.Outcome.Concerns),
				MissingFields: nil,
			}
		}
		worstEligibility = dsl.WorseEligibility(worstEligibility, globalOutcome.Outcome.Eligibility)
		if r := dsl.HealthClassRank(globalOutcome.Outcome.HealthClass); r > worstHealthRank {
			worstHealthRank = r
		}
		if u := dsl.TableRatingUnits(globalOutcome.Outcome.TableRating); u > maxTableUnits {
			maxTableUnits = u
		}
		allExtras = append(allExtras, flatExtrasFrom(*globalOutcome)...)
		reasons = append(reasons, globalOutcome.Outcome.Reason)
		appendConcerns(globalOutcome.Outcome.Concerns)
		missing = append(missing, globalOutcome.MissingFields...)
		if globalOutcome.Status == models.OutcomeMatched {
			matchedAnything = true
		}
	}

	for _, outcome := range conditionOutcomes {
		worstEligibility = dsl.WorseEligibility(worstEligibility, outcome.Outcome.Eligibility)
		if r := dsl.HealthClassRank(outcome.Outcome.HealthClass); r > worstHealthRank {
			worstHealthRank = r
		}
		if u := dsl.TableRatingUnits(outcome.Outcome.TableRating); u > maxTableUnits {
			maxTableUnits = u
		}
		allExtras = append(allExtras, flatExtrasFrom(outcome)...)
		reasons = append(reasons, outcome.Outcome.Reason)
		appendConcerns(outcome.Outcome.Concerns)
		missing = append(missing, outcome.MissingFields...)
		if outcome.Status == models.OutcomeMatched {
			matchedAnything = true
		}
	}

	perThousand, years := CombineFlatExtras(allExtras, cfg.FlatExtraMode)

	return models.AggregatedOutcome{
		Eligibility:          worstEligibility,
		HealthClass:          dsl.HealthClassFromRank(worstHealthRank),
		TableRating:          dsl.TableRatingFromUnits(maxTableUnits),
		TableRatingUnits:     maxTableUnits,
		FlatExtraPerThousand: perThousand,
		FlatExtraYears:       years,
		Reasons:              dedupe(reasons),
		Concerns:             dedupe(concerns),
		MissingFields:        missing,
		UsedDefault:          !matchedAnything,
	}
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
