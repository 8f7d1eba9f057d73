package subscribenewsletter

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/validation"
	"arthouse/internal/models"
	"arthouse/internal/services/newsletter"
	"arthouse/internal/store"
)

const (
	TaskType = "subscribe-newsletter"
)

type Subscriber interface {
	Subscribe(ctx context.Context, req newsletter.SubscribeRequest) (*models.SubscriptionLog, error)
}

type Handler struct {
	config       *Config
	apps         store.Documents[models.Application]
	subscriber   Subscriber
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, apps store.Documents[models.Application], subscriber Subscriber, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		apps:         apps,
		subscriber:   subscriber,
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

// Execute adds the contact to the mailing list. Names missing from the input
// are taken from the application when one is given.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	req := newsletter.SubscribeRequest{
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Source:    input.Source,
	}
	if req.Source == "" {
		req.Source = h.config.Source
	}

	if input.ApplicationID != "" {
		app, err := h.apps.Get(ctx, input.ApplicationID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return nil, errors.NewApplicationNotFoundError(input.ApplicationID)
			}
			return nil, errors.NewDatabaseQueryFailedError("get application", err)
		}
		if req.Email == "" {
			req.Email = app.Email
		}
		if req.FirstName == "" && req.LastName == "" {
			req.FirstName, req.LastName = app.FirstName, app.LastName
			if req.FirstName == "" {
				req.FirstName = app.DisplayName
			}
		}
	}

	if !validation.ValidateEmail(req.Email) {
		return nil, errors.NewValidationError(map[string]string{"email": "A valid email address is required"})
	}

	entry, err := h.subscriber.Subscribe(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Output{
		Success:        true,
		Email:          entry.Email,
		SubscriptionID: entry.ID,
		Status:         entry.Status,
		SubscribedAt:   entry.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
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
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey":         job.Key,
		"subscriptionId": output.SubscriptionID,
	})
	return nil
}
