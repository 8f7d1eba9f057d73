package syncentitlement

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
	"arthouse/internal/services/entitlement"
	"arthouse/internal/store/storetest"
)

type MockEntitler struct {
	mock.Mock
}

func (m *MockEntitler) Sync(ctx context.Context, app *models.Application) (*entitlement.SyncResult, error) {
	args := m.Called(ctx, app)
	if v := args.Get(0); v != nil {
		return v.(*entitlement.SyncResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEntitler) CheckApproval(ctx context.Context, req entitlement.ApprovalRequest) (*entitlement.ApprovalResult, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*entitlement.ApprovalResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func newHandler(t *testing.T) (*Handler, *storetest.Memory[models.Application], *MockEntitler) {
	apps := storetest.NewMemory[models.Application]("submittedAt")
	ent := new(MockEntitler)
	return NewHandler(&Config{Timeout: 5 * time.Second}, apps, ent, logger.NewTestLogger(t)), apps, ent
}

func TestExecute_SyncsApprovedApplication(t *testing.T) {
	handler, apps, ent := newHandler(t)
	ctx := context.Background()
	require.NoError(t, apps.Create(ctx, "a@b.com", &models.Application{ID: "a@b.com", Email: "a@b.com", Status: models.StatusApproved}))

	ent.On("Sync", mock.Anything, mock.MatchedBy(func(app *models.Application) bool {
		return app.ID == "a@b.com"
	})).Return(&entitlement.SyncResult{Linked: true, AccountID: "u-9", Changed: true}, nil)

	output, err := handler.Execute(ctx, &Input{ApplicationID: "a@b.com", Email: "ignored@b.com"})
	require.NoError(t, err)
	assert.Equal(t, &Output{IsApproved: true, ApprovalSource: "application", EntitlementLinked: true, AccountID: "u-9"}, output)
	ent.AssertNotCalled(t, "CheckApproval", mock.Anything, mock.Anything)
}

func TestExecute_NoAccountYet(t *testing.T) {
	handler, apps, ent := newHandler(t)
	ctx := context.Background()
	require.NoError(t, apps.Create(ctx, "a@b.com", &models.Application{ID: "a@b.com", Email: "a@b.com", Status: models.StatusApproved}))
	ent.On("Sync", mock.Anything, mock.Anything).Return(&entitlement.SyncResult{Linked: false}, nil)

	output, err := handler.Execute(ctx, &Input{ApplicationID: "a@b.com"})
	require.NoError(t, err)
	assert.True(t, output.IsApproved)
	assert.False(t, output.EntitlementLinked)
	assert.Empty(t, output.AccountID)
}

func TestExecute_SkipsUnapprovedApplication(t *testing.T) {
	handler, apps, ent := newHandler(t)
	ctx := context.Background()
	require.NoError(t, apps.Create(ctx, "a@b.com", &models.Application{ID: "a@b.com", Email: "a@b.com"}))

	output, err := handler.Execute(ctx, &Input{ApplicationID: "a@b.com"})
	require.NoError(t, err)
	assert.False(t, output.IsApproved)
	ent.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestExecute_ApplicationErrors(t *testing.T) {
	handler, apps, _ := newHandler(t)
	ctx := context.Background()

	_, err := handler.Execute(ctx, &Input{ApplicationID: "missing@b.com"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApplicationNotFound))

	apps.Err = errors.New("connection reset")
	_, err = handler.Execute(ctx, &Input{ApplicationID: "a@b.com"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseQueryFailed))
}

func TestExecute_SyncFailure(t *testing.T) {
	handler, apps, ent := newHandler(t)
	ctx := context.Background()
	require.NoError(t, apps.Create(ctx, "a@b.com", &models.Application{ID: "a@b.com", Email: "a@b.com", Status: models.StatusApproved}))
	ent.On("Sync", mock.Anything, mock.Anything).Return(nil, apperrors.NewEntitlementSyncFailedError("a@b.com", errors.New("503")))

	_, err := handler.Execute(ctx, &Input{ApplicationID: "a@b.com"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEntitlementSyncFailed))
}

func TestExecute_ChecksApprovalWithoutApplicationID(t *testing.T) {
	handler, _, ent := newHandler(t)

	ent.On("CheckApproval", mock.Anything, entitlement.ApprovalRequest{UID: "u-1"}).Return(&entitlement.ApprovalResult{
		IsApproved:     true,
		ApprovalSource: entitlement.SourceCustomClaims,
		UID:            "u-1",
		Email:          "a@b.com",
	}, nil)
	ent.On("CheckApproval", mock.Anything, entitlement.ApprovalRequest{Email: "nobody@b.com"}).Return(&entitlement.ApprovalResult{
		Email: "nobody@b.com",
	}, nil)

	output, err := handler.Execute(context.Background(), &Input{UID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, &Output{IsApproved: true, ApprovalSource: "custom_claims", EntitlementLinked: true, AccountID: "u-1"}, output)

	output, err = handler.Execute(context.Background(), &Input{Email: "nobody@b.com"})
	require.NoError(t, err)
	assert.Equal(t, &Output{}, output)
	ent.AssertExpectations(t)
}
