// Package audit persists decision records to Elasticsearch so every
// evaluation run can be reconstructed later. Indexing failures are
// reported but never fail the evaluation itself.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
)

// Record is one persisted evaluation decision.
type Record struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluationId"`
	InputHash    string    `json:"inputHash"`
	Timestamp    time.Time `json:"timestamp"`

	Client   models.ClientProfile   `json:"client"`
	Coverage models.CoverageRequest `json:"coverage"`

	Recommendations []models.Recommendation    `json:"recommendations,omitempty"`
	Excluded        []models.ExcludedCandidate `json:"excluded,omitempty"`
	Stats           models.EvaluationStats     `json:"stats"`
}

// Sink writes audit records to one index.
type Sink struct {
	client *elasticsearch.Client
	index  string
	log    logger.Logger
	now    func() time.Time
}

func NewSink(client *elasticsearch.Client, index string, log logger.Logger) *Sink {
	return &Sink{
		client: client,
		index:  index,
		log:    log,
		now:    time.Now,
	}
}

// IndexResult stores an evaluation result. Returns the stored record ID.
func (s *Sink) IndexResult(
	ctx context.Context,
	client *models.ClientProfile,
	coverage *models.CoverageRequest,
	result *models.EvaluationResult,
) (string, error) {
	record := Record{
		ID:              uuid.NewString(),
		EvaluationID:    result.EvaluationID,
		InputHash:       result.InputHash,
		Timestamp:       s.now().UTC(),
		Client:          *client,
		Coverage:        *coverage,
		Recommendations: result.Recommendations,
		Excluded:        result.Excluded,
		Stats:           result.Stats,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return "", commonerrors.NewAuditIndexFailedError(err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(payload),
		s.client.Index.WithDocumentID(record.ID),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return "", commonerrors.NewAuditIndexFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return "", commonerrors.NewAuditIndexFailedError(
			fmt.Errorf("index %s returned %s: %s", s.index, res.Status(), string(body)))
	}

	return record.ID, nil
}

// IndexResultAsync stores the record without blocking the caller. Errors
// are logged only.
func (s *Sink) IndexResultAsync(
	client *models.ClientProfile,
	coverage *models.CoverageRequest,
	result *models.EvaluationResult,
) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := s.IndexResult(ctx, client, coverage, result); err != nil {
			s.log.Warn("Failed to index decision audit record", map[string]interface{}{
				"evaluationId": result.EvaluationID,
				"error":        err.Error(),
			})
		}
	}()
}
