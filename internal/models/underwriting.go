// internal/models/underwriting.go
package models

import (
	"underwriting-workers/internal/underwriting/dsl"
)

// ClientCondition is one declared medical condition with its structured
// questionnaire responses, keyed by field id.
type ClientCondition struct {
	Code      string         `json:"code"`
	Responses map[string]any `json:"responses,omitempty"`
}

// ClientProfile is the immutable client input to one evaluation run.
type ClientProfile struct {
	Age          int     `json:"age"`
	Gender       string  `json:"gender"`
	Tobacco      bool    `json:"tobacco"`
	BMI          float64 `json:"bmi,omitempty"`
	HeightInches int     `json:"heightInches,omitempty"`
	WeightLbs    float64 `json:"weightLbs,omitempty"`
	State        string  `json:"state,omitempty"`

	// AssignedTableRating is set when an underwriter already rated the
	// client; build chart lookup is skipped in that case.
	AssignedTableRating dsl.TableRating `json:"assignedTableRating,omitempty"`

	Conditions []ClientCondition `json:"conditions,omitempty"`
}

// ConditionCodes returns the declared condition codes in order.
func (p *ClientProfile) ConditionCodes() []string {
	codes := make([]string, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		codes = append(codes, c.Code)
	}
	return codes
}

// CoverageRequest is the immutable coverage input to one evaluation run.
type CoverageRequest struct {
	FaceAmount  float64 `json:"faceAmount"`
	TermYears   *int    `json:"termYears,omitempty"`
	ProductType string  `json:"productType,omitempty"`
}

// Product type values used by candidates and matrices.
const (
	ProductTypeTerm         = "term"
	ProductTypeWholeLife    = "whole_life"
	ProductTypeIUL          = "iul"
	ProductTypeFinalExpense = "final_expense"
)

// ProductCandidate is one carrier+product pair with its underwriting
// constraints. Long-lived reference data, read-only to the engine.
type ProductCandidate struct {
	ID          string `json:"id"`
	CarrierID   string `json:"carrierId"`
	CarrierName string `json:"carrierName"`
	Name        string `json:"name"`
	ProductType string `json:"productType"`

	MinIssueAge   int     `json:"minIssueAge"`
	MaxIssueAge   int     `json:"maxIssueAge"`
	MinFaceAmount float64 `json:"minFaceAmount"`
	MaxFaceAmount float64 `json:"maxFaceAmount"`

	// AvailableTerms is empty for permanent products.
	AvailableTerms []int `json:"availableTerms,omitempty"`

	// StateAvailability empty means available everywhere.
	StateAvailability []string `json:"stateAvailability,omitempty"`

	KnockoutConditions []string `json:"knockoutConditions,omitempty"`

	// BuildChartID points at a product-specific build chart; empty falls
	// back to the carrier default chart.
	BuildChartID string `json:"buildChartId,omitempty"`

	// AllowSinglePointScaling opts the product into per-thousand scaling
	// when its matrix has a single face amount for the requested age.
	AllowSinglePointScaling bool `json:"allowSinglePointScaling,omitempty"`

	// CarrierPriority is a configured ranking tie-breaker. Higher wins.
	CarrierPriority int `json:"carrierPriority,omitempty"`
}

// IsPermanent reports whether the product has no term dimension.
func (p *ProductCandidate) IsPermanent() bool {
	return len(p.AvailableTerms) == 0
}

// OffersTerm reports whether the product offers the exact term.
func (p *ProductCandidate) OffersTerm(termYears int) bool {
	for _, t := range p.AvailableTerms {
		if t == termYears {
			return true
		}
	}
	return false
}

// AvailableInState reports state availability; an empty list means all states.
func (p *ProductCandidate) AvailableInState(state string) bool {
	if len(p.StateAvailability) == 0 {
		return true
	}
	for _, s := range p.StateAvailability {
		if s == state {
			return true
		}
	}
	return false
}

// Tobacco class values on premium matrix rows.
const (
	TobaccoClassNone          = "non_tobacco"
	TobaccoClassTobacco       = "tobacco"
	TobaccoClassPreferredNone = "preferred_non_tobacco"
)

// PremiumMatrixRow is one sparse grid point of a product's rate table.
type PremiumMatrixRow struct {
	ProductID      string          `json:"productId"`
	Age            int             `json:"age"`
	FaceAmount     float64         `json:"faceAmount"`
	TermYears      *int            `json:"termYears,omitempty"`
	Gender         string          `json:"gender"`
	TobaccoClass   string          `json:"tobaccoClass"`
	HealthClass    dsl.HealthClass `json:"healthClass"`
	MonthlyPremium float64         `json:"monthlyPremium"`
}

// BuildChartRow maps a height/weight band to its rating contribution.
type BuildChartRow struct {
	ChartID      string          `json:"chartId"`
	HeightInches int             `json:"heightInches"`
	WeightMinLbs float64         `json:"weightMinLbs"`
	WeightMaxLbs float64         `json:"weightMaxLbs"`
	HealthClass  dsl.HealthClass `json:"healthClass"`
	TableRating  dsl.TableRating `json:"tableRating"`
}
