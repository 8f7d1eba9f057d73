package sendnotification

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/models"
	"arthouse/internal/notify"
	"arthouse/internal/store"
)

const (
	TaskType = "send-notification"

	StatusSkipped = "skipped"
)

type Mailer interface {
	Send(ctx context.Context, templateType, to string, data map[string]interface{}) (string, error)
}

type Handler struct {
	config       *Config
	apps         store.Documents[models.Application]
	mailer       Mailer
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	now          func() time.Time
}

func NewHandler(config *Config, apps store.Documents[models.Application], mailer Mailer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		apps:         apps,
		mailer:       mailer,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
		now:          time.Now,
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

// Execute emails the applicant. Pending applications get the received
// template; decisions get their status template.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	app, err := h.apps.Get(ctx, input.ApplicationID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NewApplicationNotFoundError(input.ApplicationID)
		}
		return nil, errors.NewDatabaseQueryFailedError("get application", err)
	}

	output := &Output{
		NotificationID: uuid.New().String(),
		SentAt:         h.now().UTC().Format(time.RFC3339),
	}

	templateType := input.TemplateType
	if templateType == "" {
		templateType = templateFor(app.EffectiveStatus())
	}
	output.TemplateType = templateType

	to := input.Email
	if to == "" {
		to = app.Email
	}

	status, err := h.mailer.Send(ctx, templateType, to, map[string]interface{}{
		"name":        app.Name(),
		"loginUrl":    h.config.LoginURL,
		"reviewNotes": app.ReviewNotes,
	})
	if err != nil {
		if stderrors.Is(err, notify.ErrUnknownTemplate) {
			h.logger.Warn("no template for notification", map[string]interface{}{
				"applicationId": app.ID,
				"templateType":  templateType,
			})
			output.Status = StatusSkipped
			return output, nil
		}
		return nil, errors.NewNotificationSendFailedError(templateType, err)
	}
	output.Status = status

	h.logger.Info("notification processed", map[string]interface{}{
		"applicationId":  app.ID,
		"notificationId": output.NotificationID,
		"templateType":   templateType,
		"status":         status,
	})
	return output, nil
}

func templateFor(status string) string {
	if tmpl, ok := notify.TemplateForStatus(status); ok {
		return tmpl
	}
	return notify.TypeApplicationReceived
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
		"notificationId": output.NotificationID,
	})
	return nil
}
