// Package review moves applications between statuses.
package review

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/metrics"
	"arthouse/internal/models"
	"arthouse/internal/notify"
	"arthouse/internal/services/entitlement"
	"arthouse/internal/store"
)

// Entitler runs entitlement sync for a newly approved application.
type Entitler interface {
	Sync(ctx context.Context, app *models.Application) (*entitlement.SyncResult, error)
}

// Notifier emails the applicant about a decision.
type Notifier interface {
	Send(ctx context.Context, templateType, to string, data map[string]interface{}) (string, error)
}

type TransitionRequest struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	ReviewNotes   string `json:"reviewNotes,omitempty"`
	ReviewedBy    string `json:"reviewedBy,omitempty"`
}

// TransitionResult is the updated record plus the outcome of any entitlement sync.
// EntitlementError is set when the status was committed but the sync failed.
type TransitionResult struct {
	Application      *models.Application      `json:"application"`
	Entitlement      *entitlement.SyncResult `json:"entitlement,omitempty"`
	EntitlementError string                  `json:"entitlementError,omitempty"`
}

type Service struct {
	apps        store.Documents[models.Application]
	entitlement Entitler
	notifier    Notifier
	loginURL    string
	logger      logger.Logger
	now         func() time.Time
}

type Option func(*Service)

// WithDecisionEmails emails applicants on every decision other than pending.
func WithDecisionEmails(n Notifier, loginURL string) Option {
	return func(s *Service) {
		s.notifier = n
		s.loginURL = loginURL
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(apps store.Documents[models.Application], ent Entitler, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		apps:        apps,
		entitlement: ent,
		logger:      log.WithFields(map[string]interface{}{"component": "review"}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transition sets the status and review metadata. Any status may be re-entered.
// On approval the entitlement sync runs after the write; its failure is
// reported in the result and never undoes the transition.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	id := strings.TrimSpace(req.ApplicationID)
	if id == "" {
		return nil, errors.NewBadRequestError("applicationId is required")
	}
	if !models.IsValidStatus(req.Status) {
		return nil, errors.NewInvalidStatusError(req.Status)
	}

	now := s.now().UTC()
	err := s.apps.Merge(ctx, id, models.Review{
		Status:      req.Status,
		ReviewedBy:  req.ReviewedBy,
		ReviewNotes: req.ReviewNotes,
		ReviewedAt:  now,
		UpdatedAt:   now,
	})
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NewApplicationNotFoundError(id)
		}
		return nil, errors.NewDatabaseQueryFailedError("update application status", err)
	}

	metrics.StatusTransitions.WithLabelValues(req.Status).Inc()
	log := s.logger.WithFields(map[string]interface{}{"applicationId": id, "status": req.Status})
	log.Info("application status updated", map[string]interface{}{"reviewedBy": req.ReviewedBy})

	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("reload application", err)
	}
	result := &TransitionResult{Application: app}

	if req.Status == models.StatusApproved && s.entitlement != nil {
		sync, err := s.entitlement.Sync(ctx, app)
		if err != nil {
			log.Error("entitlement sync failed after approval", map[string]interface{}{"error": err})
			result.EntitlementError = errors.Normalize(err).Message
		} else {
			result.Entitlement = sync
		}
	}

	s.notify(ctx, log, app)
	return result, nil
}

func (s *Service) notify(ctx context.Context, log logger.Logger, app *models.Application) {
	if s.notifier == nil {
		return
	}
	tmpl, ok := notify.TemplateForStatus(app.EffectiveStatus())
	if !ok {
		return
	}

	_, err := s.notifier.Send(ctx, tmpl, app.Email, map[string]interface{}{
		"name":        app.Name(),
		"loginUrl":    s.loginURL,
		"reviewNotes": app.ReviewNotes,
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("decision_email").Inc()
		log.Warn("decision email failed", map[string]interface{}{"error": err})
	}
}
