// Package newsletter subscribes contacts to the mailing list and keeps a log of every attempt.
package newsletter

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/validation"
	"arthouse/internal/common/zoho"
	"arthouse/internal/models"
	"arthouse/internal/store"
)

// Subscriber is satisfied by the Zoho Campaigns client.
type Subscriber interface {
	Subscribe(ctx context.Context, contact *zoho.Contact) error
}

type SubscribeRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Source    string `json:"source,omitempty"`
}

type Service struct {
	client Subscriber
	logs   store.Documents[models.SubscriptionLog]
	logger logger.Logger
	now    func() time.Time
}

func NewService(client Subscriber, logs store.Documents[models.SubscriptionLog], log logger.Logger) *Service {
	return &Service{
		client: client,
		logs:   logs,
		logger: log.WithFields(map[string]interface{}{"component": "newsletter"}),
		now:    time.Now,
	}
}

// SubscribePayload validates a raw request body before subscribing.
func (s *Service) SubscribePayload(ctx context.Context, payload map[string]interface{}) (*models.SubscriptionLog, error) {
	if email, ok := payload["email"].(string); ok {
		payload["email"] = strings.TrimSpace(email)
	}
	fieldErrors, err := validation.ValidateSubscription(payload)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if len(fieldErrors) > 0 {
		return nil, errors.NewValidationError(fieldErrors)
	}

	str := func(key string) string { v, _ := payload[key].(string); return v }
	return s.Subscribe(ctx, SubscribeRequest{
		Email:     str("email"),
		FirstName: str("firstName"),
		LastName:  str("lastName"),
		Source:    str("source"),
	})
}

// Subscribe forwards the contact to the newsletter platform. The attempt is
// logged whatever the outcome; an upstream failure is returned to the caller.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*models.SubscriptionLog, error) {
	email := validation.NormalizeEmail(req.Email)
	source := req.Source
	if source == "" {
		source = "website"
	}

	entry := &models.SubscriptionLog{
		ID:        uuid.NewString(),
		Email:     email,
		Source:    source,
		Status:    models.SubscriptionSubscribed,
		CreatedAt: s.now().UTC(),
	}

	upstreamErr := s.client.Subscribe(ctx, &zoho.Contact{
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Source:    source,
	})
	if upstreamErr != nil {
		entry.Status = models.SubscriptionFailed
		entry.Error = upstreamErr.Error()
	}

	if err := s.logs.Create(ctx, entry.ID, entry); err != nil {
		s.logger.Warn("failed to write subscription log", map[string]interface{}{"error": err})
	}

	if upstreamErr != nil {
		s.logger.Error("newsletter subscription failed", map[string]interface{}{
			"source": source,
			"error":  upstreamErr,
		})
		return entry, errors.NewNewsletterSubscribeFailedError(upstreamErr)
	}

	s.logger.Info("newsletter subscription recorded", map[string]interface{}{"source": source})
	return entry, nil
}
