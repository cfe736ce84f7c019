// internal/workers/underwriting/quick-quote/handler.go
package quickquote

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
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/premium"
)

const (
	TaskType = "underwriting-quick-quote"
)

// MatrixSource loads premium matrix rows for products.
type MatrixSource interface {
	BatchGetPremiumMatrices(ctx context.Context, productIDs []string) (map[string][]models.PremiumMatrixRow, error)
}

type Handler struct {
	config   *Config
	matrices MatrixSource
	premiums *premium.Service
	logger   logger.Logger
	errors   *commonerrors.ErrorHandler
}

func NewHandler(config *Config, matrices MatrixSource, premiums *premium.Service, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		matrices: matrices,
		premiums: premiums,
		logger:   scoped,
		errors:   commonerrors.NewErrorHandler(scoped),
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
	if input == nil || input.ProductID == "" {
		return nil, commonerrors.NewInvalidInputError("productId is required")
	}
	if input.Age <= 0 || input.FaceAmount <= 0 {
		return nil, commonerrors.NewInvalidInputError("age and faceAmount must be positive")
	}

	healthClass := dsl.HealthClass(input.HealthClass)
	if healthClass == "" {
		healthClass = dsl.HealthStandard
	}

	matrices, err := h.matrices.BatchGetPremiumMatrices(ctx, []string{input.ProductID})
	if err != nil {
		return nil, err
	}
	rows := matrices[input.ProductID]
	if len(rows) == 0 {
		return nil, commonerrors.NewMatrixEmptyError(input.ProductID)
	}

	tobaccoClass := models.TobaccoClassNone
	if input.Tobacco {
		tobaccoClass = models.TobaccoClassTobacco
	}

	res, err := h.premiums.Interpolate(rows, premium.Request{
		Age:                     input.Age,
		FaceAmount:              input.FaceAmount,
		Gender:                  input.Gender,
		TobaccoClass:            tobaccoClass,
		HealthClass:             healthClass,
		TermYears:               input.TermYears,
		TableRatingUnits:        input.TableRatingUnits,
		FlatExtraPerThousand:    input.FlatExtraPerThousand,
		AllowSinglePointScaling: input.AllowSinglePointScaling,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		ProductID:       input.ProductID,
		MonthlyPremium:  res.MonthlyPremium,
		AnnualPremium:   res.AnnualPremium,
		FaceAmount:      input.FaceAmount,
		TermYears:       res.TermYearsUsed,
		HealthClassUsed: string(res.HealthClassUsed),
		WasFallback:     res.WasFallback,
		Interpolated:    res.Interpolated,
	}, nil
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
