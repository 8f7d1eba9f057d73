// Package intake admits application submissions.
package intake

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/metrics"
	"arthouse/internal/common/validation"
	"arthouse/internal/models"
	"arthouse/internal/notify"
	"arthouse/internal/services/newsletter"
	"arthouse/internal/store"
)

// Newsletter registers applicants with the mailing list.
type Newsletter interface {
	Subscribe(ctx context.Context, req newsletter.SubscribeRequest) (*models.SubscriptionLog, error)
}

type Mailer interface {
	Send(ctx context.Context, templateType, to string, data map[string]interface{}) (string, error)
}

type Alerter interface {
	ApplicationSubmitted(ctx context.Context, app *models.Application) error
}

// Referrals credits the referrer named on a submission.
type Referrals interface {
	Record(ctx context.Context, referrer, referred, source string) (*models.Referral, int64, error)
}

// Workflow starts the review process for a stored application.
type Workflow interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}) error
}

// MessageApplicationSubmitted is the message the review process starts on.
const MessageApplicationSubmitted = "application-submitted"

// Service runs the validation gate and owns the application read views.
// Every collaborator other than the store is optional.
type Service struct {
	apps       store.Documents[models.Application]
	newsletter Newsletter
	mailer     Mailer
	alerter    Alerter
	referrals  Referrals
	workflow   Workflow
	logger     logger.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithNewsletter(n Newsletter) Option { return func(s *Service) { s.newsletter = n } }
func WithMailer(m Mailer) Option         { return func(s *Service) { s.mailer = m } }
func WithAlerter(a Alerter) Option       { return func(s *Service) { s.alerter = a } }
func WithReferrals(r Referrals) Option   { return func(s *Service) { s.referrals = r } }
func WithWorkflow(w Workflow) Option     { return func(s *Service) { s.workflow = w } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(apps store.Documents[models.Application], log logger.Logger, opts ...Option) *Service {
	s := &Service{
		apps:   apps,
		logger: log.WithFields(map[string]interface{}{"component": "intake"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and stores a new application with status pending. The
// whole payload is rejected on any field error, and a second submission for
// the same email is refused. Every side effect after the write is best-effort.
func (s *Service) Submit(ctx context.Context, payload map[string]interface{}) (*models.Application, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if email, ok := payload["email"].(string); ok {
		payload["email"] = strings.TrimSpace(email)
	}

	res, err := validation.ValidateSubmission(payload)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if !res.Valid() {
		metrics.ApplicationsSubmitted.WithLabelValues(res.Kind, "invalid").Inc()
		return nil, errors.NewValidationError(res.FieldErrors)
	}

	app, err := decode(payload)
	if err != nil {
		return nil, errors.NewBadRequestError("malformed application payload")
	}

	now := s.now().UTC()
	app.ID = validation.NormalizeEmail(app.Email)
	app.Email = app.ID
	app.Kind = res.Kind
	app.ReferredBy = validation.NormalizeEmail(app.ReferredBy)
	app.Status = models.StatusPending
	app.SubmittedAt = now
	app.UpdatedAt = now

	if err := s.apps.Create(ctx, app.ID, app); err != nil {
		if stderrors.Is(err, store.ErrAlreadyExists) {
			metrics.ApplicationsSubmitted.WithLabelValues(res.Kind, "duplicate").Inc()
			return nil, errors.NewDuplicateApplicationError(app.Email)
		}
		return nil, errors.NewDatabaseInsertFailedError(err)
	}

	metrics.ApplicationsSubmitted.WithLabelValues(res.Kind, "accepted").Inc()
	log := s.logger.WithFields(map[string]interface{}{"applicationId": app.ID, "kind": app.Kind})
	log.Info("application submitted", nil)

	s.afterSubmit(ctx, log, app)
	return app, nil
}

func (s *Service) afterSubmit(ctx context.Context, log logger.Logger, app *models.Application) {
	if s.newsletter != nil {
		_, err := s.newsletter.Subscribe(ctx, newsletter.SubscribeRequest{
			Email:     app.Email,
			FirstName: app.FirstName,
			LastName:  app.LastName,
			Source:    "application",
		})
		s.sideEffectFailed(log, "newsletter", err)
	}

	if s.mailer != nil {
		_, err := s.mailer.Send(ctx, notify.TypeApplicationReceived, app.Email, map[string]interface{}{
			"name": app.Name(),
		})
		s.sideEffectFailed(log, "confirmation_email", err)
	}

	if s.alerter != nil {
		s.sideEffectFailed(log, "admin_alert", s.alerter.ApplicationSubmitted(ctx, app))
	}

	if s.referrals != nil && app.ReferredBy != "" && app.ReferredBy != app.Email {
		_, _, err := s.referrals.Record(ctx, app.ReferredBy, app.Email, "application")
		s.sideEffectFailed(log, "referral", err)
	}

	if s.workflow != nil {
		s.sideEffectFailed(log, "workflow", s.workflow.PublishMessage(ctx, MessageApplicationSubmitted, app.ID, map[string]interface{}{
			"applicationId": app.ID,
			"email":         app.Email,
			"kind":          app.Kind,
		}))
	}
}

func (s *Service) sideEffectFailed(log logger.Logger, effect string, err error) {
	if err == nil {
		return
	}
	metrics.SideEffectFailures.WithLabelValues(effect).Inc()
	log.Warn("submission side effect failed", map[string]interface{}{
		"effect": effect,
		"error":  err,
	})
}

// List returns every application, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Application, error) {
	apps, err := s.apps.List(ctx)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("list applications", err)
	}
	for _, app := range apps {
		app.Status = app.EffectiveStatus()
	}
	return apps, nil
}

// FindByEmail returns the newest application for email, or nil when there is none.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.Application, error) {
	app, err := s.apps.FindOneBy(ctx, "email", validation.NormalizeEmail(email))
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.NewDatabaseQueryFailedError("find application by email", err)
	}
	app.Status = app.EffectiveStatus()
	return app, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.NewApplicationNotFoundError(id)
		}
		return nil, errors.NewDatabaseQueryFailedError("get application", err)
	}
	app.Status = app.EffectiveStatus()
	return app, nil
}

// serverFields are owned by the service and never taken from a submission.
var serverFields = []string{
	"id", "status", "reviewedBy", "reviewNotes", "reviewedAt",
	"accountId", "entitlementGrantedAt", "submittedAt", "updatedAt",
}

func decode(payload map[string]interface{}) (*models.Application, error) {
	clean := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		clean[k] = v
	}
	for _, k := range serverFields {
		delete(clean, k)
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return nil, err
	}
	var app models.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, err
	}
	return &app, nil
}
