// Package entitlement links approved applications to identity-provider accounts.
//
// Approval and account creation happen in either order. Sync runs when an
// application is approved; CheckApproval runs at sign-in. Whichever runs second
// attaches the entitlement, and attaching twice writes nothing.
package entitlement

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"arthouse/internal/common/auth"
	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/metrics"
	"arthouse/internal/common/validation"
	"arthouse/internal/models"
	"arthouse/internal/store"
)

// Account attributes the identity provider maps into token claims.
const (
	AttrApproved   = "approved"
	AttrRoles      = "roles"
	AttrApprovedAt = "approvedAt"
)

// IdentityProvider is the account API Sync and CheckApproval need.
type IdentityProvider interface {
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
	GetUser(ctx context.Context, userID string) (*auth.User, error)
	UpdateUserAttributes(ctx context.Context, userID string, attrs map[string][]string) (bool, error)
}

// Source says which signal approved a sign-in.
type Source string

const (
	SourceNone         Source = ""
	SourceCustomClaims Source = "custom_claims"
	SourceApplication  Source = "application"
	SourceFallback     Source = "fallback"
)

// MarshalJSON encodes SourceNone as null.
func (s Source) MarshalJSON() ([]byte, error) {
	if s == SourceNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// SyncResult reports what Sync did.
type SyncResult struct {
	Linked    bool   `json:"linked"`
	AccountID string `json:"accountId,omitempty"`
	Changed   bool   `json:"changed"`
}

type ApprovalRequest struct {
	Email string `json:"email"`
	UID   string `json:"uid"`
}

type ApprovalResult struct {
	IsApproved     bool   `json:"isApproved"`
	ApprovalSource Source `json:"approvalSource"`
	Email          string `json:"email,omitempty"`
	UID            string `json:"uid,omitempty"`
}

type Service struct {
	idp           IdentityProvider
	apps          store.Documents[models.Application]
	allowFallback bool
	logger        logger.Logger
	now           func() time.Time
}

type Option func(*Service)

// WithFallback approves any existing account when the application lookup fails.
func WithFallback(enabled bool) Option {
	return func(s *Service) { s.allowFallback = enabled }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(idp IdentityProvider, apps store.Documents[models.Application], log logger.Logger, opts ...Option) *Service {
	s := &Service{
		idp:    idp,
		apps:   apps,
		logger: log.WithFields(map[string]interface{}{"component": "entitlement"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync finds the account matching the application email and attaches the
// entitlement. No matching account is not an error: the link completes at sign-in.
func (s *Service) Sync(ctx context.Context, app *models.Application) (*SyncResult, error) {
	user, err := s.idp.GetUserByEmail(ctx, app.Email)
	if err != nil {
		if auth.IsUserNotFound(err) {
			metrics.EntitlementSyncs.WithLabelValues("unlinked").Inc()
			s.logger.Info("no account yet for approved application", map[string]interface{}{"applicationId": app.ID})
			return &SyncResult{Linked: false}, nil
		}
		metrics.EntitlementSyncs.WithLabelValues("failed").Inc()
		return nil, errors.NewEntitlementSyncFailedError(app.Email, err)
	}

	changed, err := s.AttachEntitlement(ctx, user, app)
	if err != nil {
		metrics.EntitlementSyncs.WithLabelValues("failed").Inc()
		return nil, errors.NewEntitlementSyncFailedError(app.Email, err)
	}

	if err := s.link(ctx, app, user.ID); err != nil {
		metrics.EntitlementSyncs.WithLabelValues("failed").Inc()
		return nil, errors.NewEntitlementSyncFailedError(app.Email, err)
	}

	metrics.EntitlementSyncs.WithLabelValues("linked").Inc()
	s.logger.Info("entitlement attached", map[string]interface{}{
		"applicationId": app.ID,
		"accountId":     user.ID,
		"changed":       changed,
	})
	return &SyncResult{Linked: true, AccountID: user.ID, Changed: changed}, nil
}

// AttachEntitlement marks the account approved with the application's roles.
// An existing approvedAt is kept, so repeating the call changes nothing.
func (s *Service) AttachEntitlement(ctx context.Context, user *auth.User, app *models.Application) (bool, error) {
	roles := app.RoleLabels()
	if roles == nil {
		roles = []string{}
	}

	attrs := map[string][]string{
		AttrApproved: {"true"},
		AttrRoles:    roles,
	}
	if user.Attribute(AttrApprovedAt) == "" {
		approvedAt := s.now().UTC()
		if app.ReviewedAt != nil {
			approvedAt = app.ReviewedAt.UTC()
		}
		attrs[AttrApprovedAt] = []string{approvedAt.Format(time.RFC3339)}
	}

	return s.idp.UpdateUserAttributes(ctx, user.ID, attrs)
}

func (s *Service) link(ctx context.Context, app *models.Application, accountID string) error {
	if app.AccountID == accountID && app.EntitlementGrantedAt != nil {
		return nil
	}

	now := s.now().UTC()
	if err := s.apps.Merge(ctx, app.ID, models.AccountLink{
		AccountID:            accountID,
		EntitlementGrantedAt: now,
		UpdatedAt:            now,
	}); err != nil {
		return err
	}

	app.AccountID = accountID
	app.EntitlementGrantedAt = &now
	return nil
}

// CheckApproval decides whether a signing-in user is approved. Signals are
// tried in order: the account's approved attribute, then the newest
// application for the email, then (only when enabled) the fallback that
// approves any existing account if the application lookup failed.
// Once an account is resolved its own email is used, and a request email
// naming someone else is rejected.
func (s *Service) CheckApproval(ctx context.Context, req ApprovalRequest) (*ApprovalResult, error) {
	email := validation.NormalizeEmail(req.Email)
	if email == "" && req.UID == "" {
		return nil, errors.NewBadRequestError("email or uid is required")
	}

	user := s.resolveAccount(ctx, email, req.UID)

	result := &ApprovalResult{Email: email, UID: req.UID}
	if user != nil {
		accountEmail := validation.NormalizeEmail(user.Email)
		if email != "" && email != accountEmail {
			s.logger.Warn("approval check email does not match account", map[string]interface{}{"accountId": user.ID})
			return nil, errors.NewBadRequestError("email does not match account")
		}
		email = accountEmail
		result.UID = user.ID
		result.Email = email
		if user.Attribute(AttrApproved) == "true" {
			return s.approved(result, SourceCustomClaims), nil
		}
	}

	if email == "" {
		return s.denied(result), nil
	}

	app, err := s.apps.FindOneBy(ctx, "email", email)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		return s.denied(result), nil
	case err != nil:
		if s.allowFallback && user != nil {
			s.logger.Warn("approving account via fallback after application lookup failed", map[string]interface{}{
				"accountId": user.ID,
				"error":     err,
			})
			return s.approved(result, SourceFallback), nil
		}
		return nil, errors.NewDatabaseQueryFailedError("find application by email", err)
	}

	if !app.IsApproved() {
		return s.denied(result), nil
	}

	if user != nil && validation.NormalizeEmail(user.Email) == app.Email {
		if _, err := s.AttachEntitlement(ctx, user, app); err != nil {
			s.logger.Warn("failed to attach entitlement at sign-in", map[string]interface{}{
				"accountId": user.ID,
				"error":     err,
			})
		} else if err := s.link(ctx, app, user.ID); err != nil {
			s.logger.Warn("failed to link application at sign-in", map[string]interface{}{
				"applicationId": app.ID,
				"error":         err,
			})
		}
	}
	return s.approved(result, SourceApplication), nil
}

// resolveAccount looks the account up by uid, then by email. Lookup failures
// are logged and treated as no account.
func (s *Service) resolveAccount(ctx context.Context, email, uid string) *auth.User {
	var (
		user *auth.User
		err  error
	)
	if uid != "" {
		user, err = s.idp.GetUser(ctx, uid)
	} else {
		user, err = s.idp.GetUserByEmail(ctx, email)
	}
	if err != nil {
		if !auth.IsUserNotFound(err) {
			s.logger.Warn("account lookup failed", map[string]interface{}{"error": err})
		}
		return nil
	}
	return user
}

func (s *Service) approved(result *ApprovalResult, source Source) *ApprovalResult {
	metrics.ApprovalChecks.WithLabelValues(string(source)).Inc()
	result.IsApproved = true
	result.ApprovalSource = source
	return result
}

func (s *Service) denied(result *ApprovalResult) *ApprovalResult {
	metrics.ApprovalChecks.WithLabelValues("none").Inc()
	result.IsApproved = false
	result.ApprovalSource = SourceNone
	return result
}
