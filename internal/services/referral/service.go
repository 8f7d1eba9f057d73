// Package referral records who referred whom and ranks referrers.
package referral

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/validation"
	"arthouse/internal/models"
	"arthouse/internal/store"
)

// Ranking is the leaderboard mirror.
type Ranking interface {
	Set(ctx context.Context, email string, count int64) error
	Top(ctx context.Context, n int) ([]models.LeaderboardEntry, error)
}

type Service struct {
	referrals store.Documents[models.Referral]
	counts    store.Documents[models.ReferralCount]
	ranking   Ranking
	logger    logger.Logger
	now       func() time.Time
}

func NewService(referrals store.Documents[models.Referral], counts store.Documents[models.ReferralCount], ranking Ranking, log logger.Logger) *Service {
	return &Service{
		referrals: referrals,
		counts:    counts,
		ranking:   ranking,
		logger:    log.WithFields(map[string]interface{}{"component": "referral"}),
		now:       time.Now,
	}
}

// CreatePayload validates a raw request body and records the referral.
func (s *Service) CreatePayload(ctx context.Context, payload map[string]interface{}) (*models.Referral, int64, error) {
	for _, key := range []string{"referrerEmail", "referredEmail"} {
		if v, ok := payload[key].(string); ok {
			payload[key] = strings.TrimSpace(v)
		}
	}
	fieldErrors, err := validation.ValidateReferral(payload)
	if err != nil {
		return nil, 0, errors.NewInternalError(err)
	}
	if len(fieldErrors) > 0 {
		return nil, 0, errors.NewValidationError(fieldErrors)
	}

	source, _ := payload["source"].(string)
	return s.Record(ctx, payload["referrerEmail"].(string), payload["referredEmail"].(string), source)
}

// Record stores a referral and returns the referrer's new count. Referrals
// are keyed by the referred email, so each person earns one credit.
func (s *Service) Record(ctx context.Context, referrer, referred, source string) (*models.Referral, int64, error) {
	referrer = validation.NormalizeEmail(referrer)
	referred = validation.NormalizeEmail(referred)
	if referrer == referred {
		return nil, 0, errors.NewValidationError(map[string]string{"referredEmail": "A member cannot refer themselves"})
	}

	now := s.now().UTC()
	ref := &models.Referral{
		ID:            uuid.NewString(),
		ReferrerEmail: referrer,
		ReferredEmail: referred,
		Source:        source,
		CreatedAt:     now,
	}
	if err := s.referrals.Create(ctx, referred, ref); err != nil {
		if stderrors.Is(err, store.ErrAlreadyExists) {
			return nil, 0, errors.NewValidationError(map[string]string{"referredEmail": "This person has already been referred"})
		}
		return nil, 0, errors.NewDatabaseInsertFailedError(err)
	}

	count, err := s.counts.Increment(ctx, referrer, "count", map[string]interface{}{
		"email":     referrer,
		"updatedAt": now,
	})
	if err != nil {
		return nil, 0, errors.NewDatabaseInsertFailedError(err)
	}

	if err := s.ranking.Set(ctx, referrer, count); err != nil {
		s.logger.Warn("failed to update referral leaderboard", map[string]interface{}{"error": err})
	}

	s.logger.Info("referral recorded", map[string]interface{}{"referralId": ref.ID, "count": count})
	return ref, count, nil
}

// Leaderboard returns the top referrers.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	entries, err := s.ranking.Top(ctx, limit)
	if err != nil {
		return nil, errors.NewExternalServiceError("redis", err)
	}
	return entries, nil
}
