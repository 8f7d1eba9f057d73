package syncentitlement

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/models"
	"arthouse/internal/services/entitlement"
	"arthouse/internal/store"
)

const (
	TaskType = "sync-entitlement"
)

type Entitler interface {
	Sync(ctx context.Context, app *models.Application) (*entitlement.SyncResult, error)
	CheckApproval(ctx context.Context, req entitlement.ApprovalRequest) (*entitlement.ApprovalResult, error)
}

type Handler struct {
	config       *Config
	apps         store.Documents[models.Application]
	entitlement  Entitler
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, apps store.Documents[models.Application], ent Entitler, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		apps:         apps,
		entitlement:  ent,
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ApplicationID != "" {
		return h.syncApplication(ctx, input.ApplicationID)
	}

	result, err := h.entitlement.CheckApproval(ctx, entitlement.ApprovalRequest{Email: input.Email, UID: input.UID})
	if err != nil {
		return nil, err
	}
	return &Output{
		IsApproved:        result.IsApproved,
		ApprovalSource:    string(result.ApprovalSource),
		EntitlementLinked: result.IsApproved && result.UID != "",
		AccountID:         result.UID,
	}, nil
}

// syncApplication attaches the entitlement for an approved application.
// Applications in any other status complete with isApproved false.
func (h *Handler) syncApplication(ctx context.Context, id string) (*Output, error) {
	app, err := h.apps.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NewApplicationNotFoundError(id)
		}
		return nil, errors.NewDatabaseQueryFailedError("get application", err)
	}

	if !app.IsApproved() {
		h.logger.Info("application not approved, skipping sync", map[string]interface{}{
			"applicationId": id,
			"status":        app.EffectiveStatus(),
		})
		return &Output{IsApproved: false}, nil
	}

	result, err := h.entitlement.Sync(ctx, app)
	if err != nil {
		return nil, err
	}
	return &Output{
		IsApproved:        true,
		ApprovalSource:    string(entitlement.SourceApplication),
		EntitlementLinked: result.Linked,
		AccountID:         result.AccountID,
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
		"jobKey":     job.Key,
		"isApproved": output.IsApproved,
	})
	return nil
}
