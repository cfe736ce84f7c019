// internal/workers/underwriting/evaluate-products/handler.go
package evaluateproducts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/common/metrics"
	"underwriting-workers/internal/models"
)

const (
	TaskType = "underwriting-evaluate-products"
)

// Evaluator is the engine surface this worker drives.
type Evaluator interface {
	Evaluate(ctx context.Context, client *models.ClientProfile, request *models.CoverageRequest) (*models.EvaluationResult, error)
}

// AuditSink persists decision records; nil disables auditing.
type AuditSink interface {
	IndexResult(ctx context.Context, client *models.ClientProfile, coverage *models.CoverageRequest, result *models.EvaluationResult) (string, error)
}

type Handler struct {
	config *Config
	engine Evaluator
	audit  AuditSink
	logger logger.Logger
	errors *commonerrors.ErrorHandler
}

func NewHandler(config *Config, engine Evaluator, audit AuditSink, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		engine: engine,
		audit:  audit,
		logger: scoped,
		errors: commonerrors.NewErrorHandler(scoped),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(started).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errors.HandleJobError(context.Background(), client, job,
			commonerrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.errors.HandleJobError(context.Background(), client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, commonerrors.NewInvalidInputError("input cannot be nil")
	}

	result, err := h.engine.Evaluate(ctx, &input.Client, &input.Coverage)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, commonerrors.NewEvaluationTimeoutError("product evaluation timed out")
		}
		return nil, err
	}

	output := &Output{
		EvaluationID:    result.EvaluationID,
		InputHash:       result.InputHash,
		Recommendations: result.Recommendations,
		NeedsMoreInfo:   result.NeedsMoreInfo,
		Excluded:        result.Excluded,
		Stats:           result.Stats,
	}

	if h.config.AuditEnabled && h.audit != nil {
		recordID, err := h.audit.IndexResult(ctx, &input.Client, &input.Coverage, result)
		if err != nil {
			// Auditing never fails the evaluation.
			h.logger.Warn("audit record not stored", map[string]interface{}{
				"evaluationId": result.EvaluationID,
				"error":        err.Error(),
			})
		} else {
			output.AuditRecordID = recordID
		}
	}

	return output, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

// Execute exposes the core logic for tests.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
