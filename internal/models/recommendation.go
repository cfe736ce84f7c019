// internal/models/recommendation.go
package models

import (
	"underwriting-workers/internal/underwriting/dsl"
)

// PremiumQuote is one priced point for a product.
type PremiumQuote struct {
	MonthlyPremium float64         `json:"monthlyPremium"`
	AnnualPremium  float64         `json:"annualPremium"`
	FaceAmount     float64         `json:"faceAmount"`
	TermYears      *int            `json:"termYears,omitempty"`
	HealthClass    dsl.HealthClass `json:"healthClass"`

	// Interpolated marks quotes that fell between grid points rather than
	// hitting an exact matrix entry.
	Interpolated bool `json:"interpolated,omitempty"`
	// ScaledFromSinglePoint marks quotes produced by explicit per-thousand
	// scaling from a single-face matrix.
	ScaledFromSinglePoint bool `json:"scaledFromSinglePoint,omitempty"`
}

// ScoreBreakdown exposes the ranking inputs for one candidate.
type ScoreBreakdown struct {
	PriceScore           float64 `json:"priceScore"`
	HealthClassScore     float64 `json:"healthClassScore"`
	ApprovalLikelihood   float64 `json:"approvalLikelihood"`
	ConfidenceMultiplier float64 `json:"confidenceMultiplier"`
	FinalScore           float64 `json:"finalScore"`
}

// EvaluatedProduct is one candidate that survived the pipeline.
// Created once per run, never mutated afterwards.
type EvaluatedProduct struct {
	Product ProductCandidate `json:"product"`

	Eligibility dsl.EligibilityStatus `json:"eligibility"`
	HealthClass dsl.HealthClass       `json:"healthClass"`
	TableRating dsl.TableRating       `json:"tableRating"`

	ApprovalLikelihood float64 `json:"approvalLikelihood"`

	// TermYearsUsed is the term resolved before eligibility and reused by
	// pricing; nil for permanent products.
	TermYearsUsed *int `json:"termYearsUsed,omitempty"`

	Quote *PremiumQuote `json:"quote,omitempty"`

	// AlternativeQuotes are nearby face amounts for the same product,
	// computed for top-ranked candidates only.
	AlternativeQuotes []PremiumQuote `json:"alternativeQuotes,omitempty"`

	Reasons  []string `json:"reasons,omitempty"`
	Concerns []string `json:"concerns,omitempty"`

	Score ScoreBreakdown `json:"score"`
}

// Recommendation reason labels, de-duplicated across the ranked list.
const (
	ReasonBestValue       = "best_value"
	ReasonCheapest        = "cheapest"
	ReasonBestApproval    = "best_approval"
	ReasonHighestCoverage = "highest_coverage"
)

// Recommendation wraps a ranked EvaluatedProduct with its display rank
// and headline reason.
type Recommendation struct {
	Rank    int              `json:"rank"`
	Reason  string           `json:"reason,omitempty"`
	Product EvaluatedProduct `json:"product"`
}

// ExcludedCandidate records why a product dropped out of ranking.
type ExcludedCandidate struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	CarrierName string `json:"carrierName"`
	Stage       string `json:"stage"`
	Code        string `json:"code,omitempty"`
	Reason      string `json:"reason"`
}

// EvaluationStats counts candidate flow through the pipeline stages.
type EvaluationStats struct {
	TotalProducts      int `json:"totalProducts"`
	PassedEligibility  int `json:"passedEligibility"`
	UnknownEligibility int `json:"unknownEligibility"`
	Ineligible         int `json:"ineligible"`
	PassedAcceptance   int `json:"passedAcceptance"`
	WithPremium        int `json:"withPremium"`
}

// NeedsMoreInfoEntry is a candidate parked pending additional client data.
type NeedsMoreInfoEntry struct {
	Product       ProductCandidate `json:"product"`
	MissingFields []MissingField   `json:"missingFields"`
}

// EvaluationResult is the engine's complete answer for one run.
type EvaluationResult struct {
	EvaluationID string `json:"evaluationId"`
	InputHash    string `json:"inputHash"`

	Recommendations []Recommendation     `json:"recommendations"`
	NeedsMoreInfo   []NeedsMoreInfoEntry `json:"needsMoreInfo,omitempty"`
	Excluded        []ExcludedCandidate  `json:"excluded,omitempty"`

	Stats EvaluationStats `json:"stats"`
}
