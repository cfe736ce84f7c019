// internal/workers/underwriting/notify-referral/handler.go
package notifyreferral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/common/metrics"
	"underwriting-workers/internal/underwriting/notify"
)

const (
	TaskType = "underwriting-notify-referral"
)

// ReferralSender delivers referrals; satisfied by notify.Notifier.
type ReferralSender interface {
	Send(ctx context.Context, referral *notify.Referral) ([]string, error)
}

type Handler struct {
	config   *Config
	notifier ReferralSender
	logger   logger.Logger
	errors   *commonerrors.ErrorHandler
}

func NewHandler(config *Config, notifier ReferralSender, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		notifier: notifier,
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
	if input == nil || input.EvaluationID == "" {
		return nil, commonerrors.NewInvalidInputError("evaluationId is required")
	}

	channels, err := h.notifier.Send(ctx, &notify.Referral{
		EvaluationID:  input.EvaluationID,
		CarrierName:   input.CarrierName,
		ProductName:   input.ProductName,
		Eligibility:   input.Eligibility,
		Reasons:       input.Reasons,
		Concerns:      input.Concerns,
		MissingFields: input.MissingFields,
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		NotificationID: uuid.NewString(),
		Channels:       channels,
		SentAt:         time.Now().UTC().Format(time.RFC3339),
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
