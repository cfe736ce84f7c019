// internal/workers/underwriting/evaluate-products/models.go
package evaluateproducts

import (
	"underwriting-workers/internal/models"
)

type Input struct {
	Client   models.ClientProfile   `json:"client"`
	Coverage models.CoverageRequest `json:"coverage"`
}

type Output struct {
	EvaluationID string `json:"evaluationId"`
	InputHash    string `json:"inputHash"`

	Recommendations []models.Recommendation     `json:"recommendations"`
	NeedsMoreInfo   []models.NeedsMoreInfoEntry `json:"needsMoreInfo,omitempty"`
	Excluded        []models.ExcludedCandidate  `json:"excluded,omitempty"`
	Stats           models.EvaluationStats      `json:"stats"`

	AuditRecordID string `json:"auditRecordId,omitempty"`
}
