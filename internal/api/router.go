// Package api serves the ArtHouse HTTP surface.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arthouse/internal/common/auth"
	"arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/observability"
	"arthouse/internal/models"
	"arthouse/internal/services/entitlement"
	"arthouse/internal/services/review"
)

type Applications interface {
	Submit(ctx context.Context, payload map[string]interface{}) (*models.Application, error)
	List(ctx context.Context) ([]*models.Application, error)
	FindByEmail(ctx context.Context, email string) (*models.Application, error)
	Get(ctx context.Context, id string) (*models.Application, error)
}

type Reviewer interface {
	Transition(ctx context.Context, req review.TransitionRequest) (*review.TransitionResult, error)
}

type Approvals interface {
	CheckApproval(ctx context.Context, req entitlement.ApprovalRequest) (*entitlement.ApprovalResult, error)
}

type Community interface {
	CreateEvent(ctx context.Context, payload map[string]interface{}, createdBy string) (*models.Event, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpdateEvent(ctx context.Context, id string, payload map[string]interface{}) (*models.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context, filter models.SearchFilter) ([]*models.Event, error)

	CreateCollective(ctx context.Context, payload map[string]interface{}, createdBy string) (*models.Collective, error)
	GetCollective(ctx context.Context, id string) (*models.Collective, error)
	UpdateCollective(ctx context.Context, id string, payload map[string]interface{}) (*models.Collective, error)
	DeleteCollective(ctx context.Context, id string) error
	ListCollectives(ctx context.Context, filter models.SearchFilter) ([]*models.Collective, error)

	JoinWaitlist(ctx context.Context, payload map[string]interface{}) (*models.WaitlistSignup, bool, error)
}

type Newsletter interface {
	SubscribePayload(ctx context.Context, payload map[string]interface{}) (*models.SubscriptionLog, error)
}

type Referrals interface {
	CreatePayload(ctx context.Context, payload map[string]interface{}) (*models.Referral, int64, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// TokenValidator introspects admin bearer tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.TokenInfo, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the routes. Tokens and Limiter are
// optional: a nil Tokens leaves admin routes open and a nil Limiter
// disables rate limiting. With Tokens set, admin routes need AdminRole.
type Deps struct {
	Applications Applications
	Reviews      Reviewer
	Approvals    Approvals
	Community    Community
	Newsletter   Newsletter
	Referrals    Referrals

	Tokens    TokenValidator
	AdminRole string
	Limiter   Limiter
	RateLimit RateLimitPolicy

	Checks        map[string]Check
	Observability *observability.Observability
}

// RateLimitPolicy bounds public POSTs per client and route.
type RateLimitPolicy struct {
	Requests int
	Window   time.Duration
}

type Server struct {
	deps   Deps
	logger logger.Logger
}

func NewServer(deps Deps, log logger.Logger) *Server {
	return &Server{
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.recoverer)
	r.Use(s.instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	admin := s.requireAdmin
	owner := s.requireAdminOrOwner
	limited := s.rateLimit

	r.Route("/applications", func(r chi.Router) {
		r.With(limited).Post("/", s.handleSubmitApplication)
		r.With(admin).Get("/", s.handleListApplications)
		r.With(admin).Post("/approve", s.handleReviewApplication)
		r.With(owner).Get("/{id}", s.handleGetApplication)
	})
	r.With(limited).Post("/check-approval", s.handleCheckApproval)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleListEvents)
		r.With(admin).Post("/", s.handleCreateEvent)
		r.Get("/{id}", s.handleGetEvent)
		r.With(admin).Put("/{id}", s.handleUpdateEvent)
		r.With(admin).Delete("/{id}", s.handleDeleteEvent)
	})
	r.Route("/collectives", func(r chi.Router) {
		r.Get("/", s.handleListCollectives)
		r.With(admin).Post("/", s.handleCreateCollective)
		r.Get("/{id}", s.handleGetCollective)
		r.With(admin).Put("/{id}", s.handleUpdateCollective)
		r.With(admin).Delete("/{id}", s.handleDeleteCollective)
	})

	r.With(limited).Post("/subscribe", s.handleSubscribe)
	r.With(limited).Post("/referrals", s.handleCreateReferral)
	r.Get("/referrals/leaderboard", s.handleLeaderboard)
	r.With(limited).Post("/waitlist", s.handleJoinWaitlist)

	return r
}

// ==========================
// Responses
// ==========================

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as {error, code, fieldErrors}. Details never leave the server.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := errors.Normalize(err)
	status := errors.HTTPStatus(stdErr.Code)

	fields := map[string]interface{}{
		"code":       stdErr.Code,
		"path":       r.URL.Path,
		"request_id": chimw.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		fields["details"] = stdErr.Details
		s.logger.Error(stdErr.Message, fields)
	} else {
		s.logger.Debug(stdErr.Message, fields)
	}

	body := map[string]interface{}{
		"error": stdErr.Message,
		"code":  stdErr.Code,
	}
	if len(stdErr.FieldErrors) > 0 {
		body["fieldErrors"] = stdErr.FieldErrors
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON object. An empty body decodes to an empty payload.
func decodeBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		return errors.NewBadRequestError("Request body must be a JSON object")
	}
	return nil
}

func decodePayload(r *http.Request) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if err := decodeBody(r, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return payload, nil
}
