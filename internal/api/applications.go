package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"arthouse/internal/common/errors"
	"arthouse/internal/models"
	"arthouse/internal/services/entitlement"
	"arthouse/internal/services/review"
)

// actionStatuses accepts both the verb and the status spelling of a review action.
var actionStatuses = map[string]string{
	"approve":   models.StatusApproved,
	"reject":    models.StatusRejected,
	"shortlist": models.StatusShortlist,
	"waitlist":  models.StatusWaitlist,
	"reset":     models.StatusPending,
}

type reviewRequest struct {
	ApplicationID string `json:"applicationId"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	ReviewNotes   string `json:"reviewNotes"`
	ReviewedBy    string `json:"reviewedBy"`
}

func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	app, err := s.deps.Applications.Submit(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "Application submitted successfully",
		"applicationId": app.ID,
	})
}

// handleListApplications lists every application, or with ?email= returns
// the newest application for that address (null when there is none).
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		app, err := s.deps.Applications.FindByEmail(r.Context(), email)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"application": app})
		return
	}

	apps, err := s.deps.Applications.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": apps})
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.deps.Applications.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleReviewApplication(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	status := strings.ToLower(strings.TrimSpace(req.Action))
	if status == "" {
		status = strings.ToLower(strings.TrimSpace(req.Status))
	}
	if mapped, ok := actionStatuses[status]; ok {
		status = mapped
	}

	reviewedBy := strings.TrimSpace(req.ReviewedBy)
	if reviewedBy == "" {
		reviewedBy = ReviewerFromContext(r.Context())
	}
	if reviewedBy == "" {
		reviewedBy = "admin"
	}

	result, err := s.deps.Reviews.Transition(r.Context(), review.TransitionRequest{
		ApplicationID: strings.TrimSpace(req.ApplicationID),
		Status:        status,
		ReviewNotes:   req.ReviewNotes,
		ReviewedBy:    reviewedBy,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success":       true,
		"message":       "Application status updated to " + status,
		"applicationId": result.Application.ID,
		"status":        result.Application.Status,
		"entitlement":   result.Entitlement,
	}
	if result.EntitlementError != "" {
		body["entitlementError"] = result.EntitlementError
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCheckApproval(w http.ResponseWriter, r *http.Request) {
	var req entitlement.ApprovalRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.UID = strings.TrimSpace(req.UID)
	if req.Email == "" && req.UID == "" {
		s.writeError(w, r, errors.NewBadRequestError("email or uid is required"))
		return
	}

	result, err := s.deps.Approvals.CheckApproval(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
