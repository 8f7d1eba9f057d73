package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/models"
	"arthouse/internal/notify"
	"arthouse/internal/services/newsletter"
	"arthouse/internal/store/storetest"
)

type MockNewsletter struct{ mock.Mock }

func (m *MockNewsletter) Subscribe(ctx context.Context, req newsletter.SubscribeRequest) (*models.SubscriptionLog, error) {
	args := m.Called(ctx, req)
	return nil, args.Error(1)
}

type MockMailer struct{ mock.Mock }

func (m *MockMailer) Send(ctx context.Context, templateType, to string, data map[string]interface{}) (string, error) {
	args := m.Called(ctx, templateType, to, data)
	return args.String(0), args.Error(1)
}

type MockAlerter struct{ mock.Mock }

func (m *MockAlerter) ApplicationSubmitted(ctx context.Context, app *models.Application) error {
	return m.Called(ctx, app).Error(0)
}

type MockReferrals struct{ mock.Mock }

func (m *MockReferrals) Record(ctx context.Context, referrer, referred, source string) (*models.Referral, int64, error) {
	args := m.Called(ctx, referrer, referred, source)
	return nil, 0, args.Error(2)
}

var fixedNow = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func standardPayload() map[string]interface{} {
	return map[string]interface{}{
		"email":    "a@b.com",
		"links":    map[string]interface{}{"website": "http://x.com"},
		"industry": "Film",
		"roles":    []interface{}{"Director"},
		"genres":   []interface{}{"Drama"},
	}
}

func newService(t *testing.T, opts ...Option) (*Service, *storetest.Memory[models.Application]) {
	apps := storetest.NewMemory[models.Application]("submittedAt")
	opts = append(opts, WithClock(func() time.Time { return fixedNow }))
	return NewService(apps, logger.NewTestLogger(t), opts...), apps
}

func TestSubmit_StandardCreatesPendingRecord(t *testing.T) {
	svc, apps := newService(t)

	payload := standardPayload()
	payload["email"] = "  A@B.com "
	payload["status"] = models.StatusApproved
	payload["accountId"] = "spoofed"

	app, err := svc.Submit(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", app.ID)
	assert.Equal(t, models.KindStandard, app.Kind)
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Empty(t, app.AccountID)
	assert.True(t, app.SubmittedAt.Equal(fixedNow))

	stored, err := apps.Get(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "http://x.com", stored.Links.Website)
	assert.Equal(t, []string{"Director"}, stored.Roles)
}

func TestSubmit_LegacyShapeIsSniffed(t *testing.T) {
	svc, _ := newService(t)

	app, err := svc.Submit(context.Background(), map[string]interface{}{
		"email":      "old@b.com",
		"firstName":  "Ada",
		"lastName":   "Lovelace",
		"profession": "Composer",
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindLegacy, app.Kind)
	assert.Equal(t, []string{"Composer"}, app.RoleLabels())
}

func TestSubmit_ValidationRejectsWholePayload(t *testing.T) {
	svc, apps := newService(t)

	payload := standardPayload()
	delete(payload, "genres")
	payload["email"] = "bad"

	_, err := svc.Submit(context.Background(), payload)
	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)
	assert.Len(t, stdErr.FieldErrors, 2)
	assert.Contains(t, stdErr.FieldErrors, "email")
	assert.Contains(t, stdErr.FieldErrors, "genres")
	assert.Equal(t, 0, apps.Len())
}

func TestSubmit_DuplicateEmail(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Submit(context.Background(), standardPayload())
	require.NoError(t, err)

	second := standardPayload()
	second["email"] = "A@b.com"
	_, err = svc.Submit(context.Background(), second)
	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDuplicateApplication, stdErr.Code)
	assert.Equal(t, "An application with this email has already been submitted", stdErr.Message)
}

func TestSubmit_SideEffectFailuresDoNotFailSubmission(t *testing.T) {
	nl := new(MockNewsletter)
	nl.On("Subscribe", mock.Anything, newsletter.SubscribeRequest{Email: "a@b.com", Source: "application"}).
		Return(nil, errors.New("zoho down"))
	mailer := new(MockMailer)
	mailer.On("Send", mock.Anything, notify.TypeApplicationReceived, "a@b.com", mock.Anything).
		Return("", errors.New("ses throttled"))
	alerter := new(MockAlerter)
	alerter.On("ApplicationSubmitted", mock.Anything, mock.Anything).Return(errors.New("sns down"))
	refs := new(MockReferrals)
	refs.On("Record", mock.Anything, "friend@b.com", "a@b.com", "application").Return(nil, int64(0), errors.New("redis down"))

	svc, apps := newService(t, WithNewsletter(nl), WithMailer(mailer), WithAlerter(alerter), WithReferrals(refs))

	payload := standardPayload()
	payload["referredBy"] = "Friend@b.com"
	app, err := svc.Submit(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "friend@b.com", app.ReferredBy)
	assert.Equal(t, 1, apps.Len())

	nl.AssertExpectations(t)
	mailer.AssertExpectations(t)
	alerter.AssertExpectations(t)
	refs.AssertExpectations(t)
}

type MockWorkflow struct{ mock.Mock }

func (m *MockWorkflow) PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}) error {
	return m.Called(ctx, name, correlationKey, variables).Error(0)
}

func TestSubmit_StartsWorkflow(t *testing.T) {
	wf := new(MockWorkflow)
	wf.On("PublishMessage", mock.Anything, MessageApplicationSubmitted, "a@b.com", map[string]interface{}{
		"applicationId": "a@b.com",
		"email":         "a@b.com",
		"kind":          models.KindStandard,
	}).Return(errors.New("broker unavailable")).Once()

	svc, apps := newService(t, WithWorkflow(wf))

	_, err := svc.Submit(context.Background(), standardPayload())
	require.NoError(t, err)
	assert.Equal(t, 1, apps.Len())
	wf.AssertExpectations(t)
}

func TestSubmit_StoreFailure(t *testing.T) {
	svc, apps := newService(t)
	apps.Err = errors.New("connection refused")

	_, err := svc.Submit(context.Background(), standardPayload())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseInsertFailed))
}

func TestReadViews(t *testing.T) {
	svc, apps := newService(t)
	ctx := context.Background()

	require.NoError(t, apps.Create(ctx, "imported-1", &models.Application{
		ID: "imported-1", Email: "a@b.com", SubmittedAt: fixedNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, apps.Create(ctx, "imported-2", &models.Application{
		ID: "imported-2", Email: "a@b.com", Status: models.StatusShortlist, SubmittedAt: fixedNow.Add(-24 * time.Hour),
	}))
	_, err := svc.Submit(ctx, map[string]interface{}{
		"email": "c@d.com", "firstName": "C", "lastName": "D", "profession": "Poet",
	})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c@d.com", list[0].ID)
	assert.Equal(t, models.StatusPending, list[2].Status, "missing status reads as pending")

	newest, err := svc.FindByEmail(ctx, "A@B.COM")
	require.NoError(t, err)
	assert.Equal(t, "imported-2", newest.ID)

	none, err := svc.FindByEmail(ctx, "nobody@b.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApplicationNotFound))
}
