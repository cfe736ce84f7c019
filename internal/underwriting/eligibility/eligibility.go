// Package eligibility implements the cheap pre-filter that runs before
// any rating or pricing work. It answers three ways: eligible,
// ineligible with a reason, or unknown with the fields still needed.
package eligibility

import (
	"fmt"

	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/acceptance"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/facts"
)

// Exclusion codes attached to ineligible results.
const (
	CodeAgeOutOfRange    = "age_out_of_range"
	CodeFaceOutOfRange   = "face_out_of_range"
	CodeStateUnavailable = "state_unavailable"
	CodeKnockout         = "knockout_condition"
	CodeTermNotAvailable = "term_not_available"
)

// Result is the tri-state outcome of the Stage 1 filter.
type Result struct {
	Status        dsl.EligibilityStatus `json:"status"`
	Code          string                `json:"code,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	MissingFields []string              `json:"missingFields,omitempty"`

	// TermYears is the effective term resolved for this product, nil for
	// permanent products. Resolved before any check so downstream pricing
	// and alternatives use one consistent term.
	TermYears *int `json:"termYears,omitempty"`
}

func (r Result) Eligible() bool {
	return r.Status == dsl.EligibilityEligible
}

// ResolveTerm picks the effective term for a product. A requested term
// must be offered exactly; with no requested term, term products default
// to their longest offering.
func ResolveTerm(product *models.ProductCandidate, request *models.CoverageRequest) (*int, bool) {
	if product.IsPermanent() {
		return nil, true
	}

	if request.TermYears != nil {
		if product.OffersTerm(*request.TermYears) {
			t := *request.TermYears
			return &t, true
		}
		return nil, false
	}

	longest := product.AvailableTerms[0]
	for _, t := range product.AvailableTerms[1:] {
		if t > longest {
			longest = t
		}
	}
	return &longest, true
}

// Check runs the ordered knockout checks, short-circuiting on the first
// failure. The rule set index supplies the field paths whose absence
// turns the answer into unknown instead of a hard pass or fail.
func Check(
	product *models.ProductCandidate,
	client *models.ClientProfile,
	request *models.CoverageRequest,
	idx *acceptance.Index,
	f facts.FactMap,
) Result {
	term, ok := ResolveTerm(product, request)
	if !ok {
		return Result{
			Status: dsl.EligibilityIneligible,
			Code:   CodeTermNotAvailable,
			Reason: fmt.Sprintf("%d-year term not offered", *request.TermYears),
		}
	}

	if client.Age < product.MinIssueAge || client.Age > product.MaxIssueAge {
		return Result{
			Status:    dsl.EligibilityIneligible,
			Code:      CodeAgeOutOfRange,
			Reason:    fmt.Sprintf("Age %d outside issue ages %d-%d", client.Age, product.MinIssueAge, product.MaxIssueAge),
			TermYears: term,
		}
	}

	if request.FaceAmount < product.MinFaceAmount || request.FaceAmount > product.MaxFaceAmount {
		return Result{
			Status:    dsl.EligibilityIneligible,
			Code:      CodeFaceOutOfRange,
			Reason:    fmt.Sprintf("Face $%.0f outside range $%.0f-$%.0f", request.FaceAmount, product.MinFaceAmount, product.MaxFaceAmount),
			TermYears: term,
		}
	}

	if client.State != "" && !product.AvailableInState(client.State) {
		return Result{
			Status:    dsl.EligibilityIneligible,
			Code:      CodeStateUnavailable,
			Reason:    fmt.Sprintf("Not available in %s", client.State),
			TermYears: term,
		}
	}

	for _, code := range client.ConditionCodes() {
		for _, knockout := range product.KnockoutConditions {
			if code == knockout {
				return Result{
					Status:    dsl.EligibilityIneligible,
					Code:      CodeKnockout,
					Reason:    fmt.Sprintf("Condition %s is a knockout for this product", code),
					TermYears: term,
				}
			}
		}
	}

	if missing := missingRequiredFields(product, client, idx, f); len(missing) > 0 {
		return Result{
			Status:        dsl.EligibilityUnknown,
			Reason:        "Missing data required by this product's rules",
			MissingFields: missing,
			TermYears:     term,
		}
	}

	return Result{Status: dsl.EligibilityEligible, TermYears: term}
}

// missingRequiredFields collects the field paths the applicable rule sets
// read that are absent from the fact map. Only fields belonging to
// conditions the client actually declared count; a rule about an
// undeclared condition can never fire, so its fields are not required.
func missingRequiredFields(
	product *models.ProductCandidate,
	client *models.ClientProfile,
	idx *acceptance.Index,
	f facts.FactMap,
) []string {
	declared := map[string]bool{}
	for _, code := range client.ConditionCodes() {
		declared[code] = true
	}

	var missing []string
	seen := map[string]bool{}
	for _, rs := range idx.ApplicableRuleSets(product.ID, client.ConditionCodes()) {
		for i := range rs.Rules {
			for _, path := range dsl.FieldPaths(&rs.Rules[i].Predicate.Root) {
				code := dsl.ExtractConditionCode(path)
				if code != "" && !declared[code] {
					continue
				}
				if _, present := f[path]; present || seen[path] {
					continue
				}
				seen[path] = true
				missing = append(missing, path)
			}
		}
	}
	return missing
}
