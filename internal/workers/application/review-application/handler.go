package reviewapplication

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/services/review"
)

const (
	TaskType = "review-application"
)

type Reviewer interface {
	Transition(ctx context.Context, req review.TransitionRequest) (*review.TransitionResult, error)
}

type Handler struct {
	config       *Config
	reviewer     Reviewer
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, reviewer Reviewer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		reviewer:     reviewer,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		stdErr := errors.NewBadRequestError(fmt.Sprintf("parse input: %v", err))
		h.errorHandler.HandleJobError(ctx, client, job, stdErr)
		return stdErr
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return err
	}

	return h.completeJob(ctx, client, job, output)
}

// Execute applies the decision. An entitlement failure is reported in the
// output and does not fail the job, since the status is already committed.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	reviewedBy := input.ReviewedBy
	if reviewedBy == "" {
		reviewedBy = h.config.DefaultReviewer
	}

	result, err := h.reviewer.Transition(ctx, review.TransitionRequest{
		ApplicationID: input.ApplicationID,
		Status:        input.Status,
		ReviewNotes:   input.ReviewNotes,
		ReviewedBy:    reviewedBy,
	})
	if err != nil {
		return nil, err
	}

	app := result.Application
	output := &Output{
		ApplicationID:     app.ID,
		ApplicationStatus: app.EffectiveStatus(),
		EntitlementError:  result.EntitlementError,
	}
	if app.ReviewedAt != nil {
		output.ReviewedAt = app.ReviewedAt.UTC().Format(time.RFC3339)
	}
	if result.Entitlement != nil {
		output.EntitlementLinked = result.Entitlement.Linked
		output.AccountID = result.Entitlement.AccountID
	}

	h.logger.Info("application reviewed", map[string]interface{}{
		"applicationId":     output.ApplicationID,
		"status":            output.ApplicationStatus,
		"entitlementLinked": output.EntitlementLinked,
	})
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{"error": err})
		return err
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return err
	}
	h.logger.Info("job completed successfully", map[string]interface{}{"jobKey": job.Key})
	return nil
}
