package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"arthouse/internal/models"
)

func searchFilter(r *http.Request) models.SearchFilter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return models.SearchFilter{
		Query:    strings.TrimSpace(q.Get("q")),
		Category: strings.TrimSpace(q.Get("category")),
		Tag:      strings.TrimSpace(q.Get("tag")),
		Status:   strings.TrimSpace(q.Get("status")),
		Limit:    limit,
	}
}

// ==========================
// Events
// ==========================

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Community.ListEvents(r.Context(), searchFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	event, err := s.deps.Community.CreateEvent(r.Context(), payload, ReviewerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.deps.Community.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	event, err := s.deps.Community.UpdateEvent(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Community.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ==========================
// Collectives
// ==========================

func (s *Server) handleListCollectives(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Community.ListCollectives(r.Context(), searchFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collectives": list})
}

func (s *Server) handleCreateCollective(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Community.CreateCollective(r.Context(), payload, ReviewerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCollective(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Community.GetCollective(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCollective(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Community.UpdateCollective(r.Context(), chi.URLParam(r, "id"), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCollective(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Community.DeleteCollective(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ==========================
// Newsletter, referrals, waitlist
// ==========================

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.deps.Newsletter.SubscribePayload(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Subscribed successfully",
		"email":   entry.Email,
	})
}

func (s *Server) handleCreateReferral(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, count, err := s.deps.Referrals.CreatePayload(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":       true,
		"referral":      ref,
		"referralCount": count,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	board, err := s.deps.Referrals.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": board})
}

func (s *Server) handleJoinWaitlist(w http.ResponseWriter, r *http.Request) {
	payload, err := decodePayload(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signup, created, err := s.deps.Community.JoinWaitlist(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	message := "Already on the waitlist"
	if created {
		status = http.StatusCreated
		message = "Added to the waitlist"
	}
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"message": message,
		"signup":  signup,
	})
}
