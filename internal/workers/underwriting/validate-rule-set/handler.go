// internal/workers/underwriting/validate-rule-set/handler.go
package validateruleset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/common/metrics"
	"underwriting-workers/internal/underwriting/dsl"
)

const (
	TaskType = "underwriting-validate-rule-set"
)

type Handler struct {
	config *Config
	logger logger.Logger
	errors *commonerrors.ErrorHandler
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	scoped := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
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

// execute validates an authored rule set document. A document that fails
// validation is a normal outcome, reported in the output, not a job
// error; only a missing or unreadable payload fails the job.
func (h *Handler) execute(_ context.Context, input *Input) (*Output, error) {
	if input == nil || len(input.RuleSet) == 0 {
		return nil, commonerrors.NewInvalidInputError("ruleSet document is required")
	}

	if err := dsl.ValidateRuleSetDocument(input.RuleSet); err != nil {
		return invalidOutput(err), nil
	}

	ruleSet, err := dsl.ParseRuleSet(input.RuleSet)
	if err != nil {
		return invalidOutput(err), nil
	}

	if err := dsl.ValidateRuleSet(ruleSet); err != nil {
		out := invalidOutput(err)
		out.RuleSetID = ruleSet.ID
		out.Scope = string(ruleSet.Scope)
		out.ConditionCode = ruleSet.ConditionCode
		out.RuleCount = len(ruleSet.Rules)
		return out, nil
	}

	return &Output{
		Valid:         true,
		RuleSetID:     ruleSet.ID,
		Scope:         string(ruleSet.Scope),
		ConditionCode: ruleSet.ConditionCode,
		RuleCount:     len(ruleSet.Rules),
	}, nil
}

func invalidOutput(err error) *Output {
	var stdErr *commonerrors.StandardError
	if ok := errors.As(err, &stdErr); ok && stdErr.Details != "" {
		return &Output{Valid: false, Errors: strings.Split(stdErr.Details, "; ")}
	}
	return &Output{Valid: false, Errors: []string{err.Error()}}
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
