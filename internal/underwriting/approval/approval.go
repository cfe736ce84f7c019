// Package approval implements the per-product rating stage: condition
// acceptance, build chart lookup, and worst-case aggregation.
package approval

import (
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/acceptance"
	"underwriting-workers/internal/underwriting/aggregate"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/facts"
)

// Result is the full Stage 2 output for one product.
type Result struct {
	Aggregate  models.AggregatedOutcome       `json:"aggregate"`
	Decisions  []acceptance.ConditionDecision `json:"decisions,omitempty"`
	Likelihood float64                        `json:"likelihood"`

	// InteractionOverride is true when a multi-condition interaction rule
	// replaced the independent per-condition aggregate.
	InteractionOverride bool `json:"interactionOverride,omitempty"`
}

// Scorer runs acceptance resolution and aggregation for one candidate.
type Scorer struct {
	resolver *acceptance.Resolver
	log      logger.Logger
}

func NewScorer(resolver *acceptance.Resolver, log logger.Logger) *Scorer {
	return &Scorer{resolver: resolver, log: log}
}

// Score rates one Stage-1-eligible candidate. Interaction rules are
// checked first; a match replaces the independent aggregate entirely
// because interaction outcomes are authored as the combined worst case.
func (s *Scorer) Score(
	product *models.ProductCandidate,
	client *models.ClientProfile,
	idx *acceptance.Index,
	f facts.FactMap,
	buildChart []models.BuildChartRow,
	cfg aggregate.CarrierConfig,
) Result {
	if override := s.resolver.CheckInteractions(idx, f); override != nil {
		agg := aggregate.Outcomes(nil, override, cfg)
		return Result{
			Aggregate:           agg,
			Likelihood:          likelihoodFor(agg.Eligibility),
			InteractionOverride: true,
		}
	}

	codes := client.ConditionCodes()
	decisions := make([]acceptance.ConditionDecision, 0, len(codes))
	outcomes := make([]models.ConditionOutcome, 0, len(codes)+1)
	for _, code := range codes {
		d := s.resolver.ResolveCondition(idx, code, product.ID, f)
		decisions = append(decisions, d)
		outcome := d.Outcome
		outcome.Outcome.Concerns = append(outcome.Outcome.Concerns, d.Concerns...)
		outcomes = append(outcomes, outcome)
	}

	if build := buildOutcome(client, buildChart); build != nil {
		outcomes = append(outcomes, *build)
	}

	agg := aggregate.Outcomes(outcomes, nil, cfg)

	return Result{
		Aggregate:  agg,
		Decisions:  decisions,
		Likelihood: acceptance.OverallLikelihood(decisions),
	}
}

// buildOutcome turns the client's build into a synthetic condition
// outcome so it aggregates like any other rating contribution. An
// underwriter-assigned table rating wins over the chart; missing build
// data contributes nothing.
func buildOutcome(client *models.ClientProfile, chart []models.BuildChartRow) *models.ConditionOutcome {
	if client.AssignedTableRating != "" && client.AssignedTableRating != dsl.TableRatingNone {
		return &models.ConditionOutcome{
			ConditionCode: "build",
			Status:        models.OutcomeMatched,
			Outcome: dsl.RuleOutcome{
				Eligibility: dsl.EligibilityEligible,
				HealthClass: dsl.HealthStandard,
				TableRating: client.AssignedTableRating,
				Reason:      "Underwriter-assigned table rating",
			},
			MatchedRules: []models.MatchedRule{{
				RuleName: "assigned table rating",
				Outcome: dsl.RuleOutcome{
					Eligibility: dsl.EligibilityEligible,
					HealthClass: dsl.HealthStandard,
					TableRating: client.AssignedTableRating,
				},
			}},
		}
	}

	if len(chart) == 0 || client.HeightInches == 0 || client.WeightLbs == 0 {
		return nil
	}

	for _, row := range chart {
		if row.HeightInches != client.HeightInches {
			continue
		}
		if client.WeightLbs < row.WeightMinLbs || client.WeightLbs > row.WeightMaxLbs {
			continue
		}
		return &models.ConditionOutcome{
			ConditionCode: "build",
			Status:        models.OutcomeMatched,
			Outcome: dsl.RuleOutcome{
				Eligibility: dsl.EligibilityEligible,
				HealthClass: row.HealthClass,
				TableRating: row.TableRating,
				Reason:      "Build chart rating",
			},
			MatchedRules: []models.MatchedRule{{
				RuleName: "build chart",
				Outcome: dsl.RuleOutcome{
					Eligibility: dsl.EligibilityEligible,
					HealthClass: row.HealthClass,
					TableRating: row.TableRating,
				},
			}},
		}
	}

	// Height is on the chart but the weight falls outside every band.
	return &models.ConditionOutcome{
		ConditionCode: "build",
		Status:        models.OutcomeMatched,
		Outcome: dsl.RuleOutcome{
			Eligibility: dsl.EligibilityRefer,
			HealthClass: dsl.HealthRefer,
			TableRating: dsl.TableRatingNone,
			Reason:      "Build outside chart bands - manual review required",
		},
		MatchedRules: []models.MatchedRule{{
			RuleName: "build chart",
			Outcome: dsl.RuleOutcome{
				Eligibility: dsl.EligibilityRefer,
				HealthClass: dsl.HealthRefer,
			},
		}},
	}
}

func likelihoodFor(status dsl.EligibilityStatus) float64 {
	switch status {
	case dsl.EligibilityIneligible:
		return 0
	case dsl.EligibilityRefer:
		return 0.6
	case dsl.EligibilityUnknown:
		return 0.5
	default:
		return 0.9
	}
}
