package api

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"arthouse/internal/common/auth"
	"arthouse/internal/common/errors"
	"arthouse/internal/common/metrics"
	"arthouse/internal/common/validation"
)

type reviewerKey struct{}

// ReviewerFromContext returns the username of the introspected admin token, if any.
func ReviewerFromContext(ctx context.Context) string {
	name, _ := ctx.Value(reviewerKey{}).(string)
	return name
}

// recoverer turns a panic into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic while serving request", map[string]interface{}{
					"panic":      rec,
					"path":       r.URL.Path,
					"request_id": chimw.GetReqID(r.Context()),
					"stack":      string(debug.Stack()),
				})
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument logs each request and records it under its route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.deps.Observability.RecordRequest(r.Context(), r.Method, route, status, elapsed)

		s.logger.Info("request completed", map[string]interface{}{
			"method":      r.Method,
			"route":       route,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		})
	})
}

// requireAdmin checks the bearer token against the identity provider when
// token validation is configured. The token must carry the admin role.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		info, ok := s.introspect(w, r)
		if !ok {
			return
		}
		if !info.HasRole(s.deps.AdminRole) {
			s.logger.Warn("token lacks admin role", map[string]interface{}{
				"username":   info.Username,
				"role":       s.deps.AdminRole,
				"request_id": chimw.GetReqID(r.Context()),
			})
			s.writeError(w, r, errors.NewForbiddenError("admin role required"))
			return
		}

		ctx := context.WithValue(r.Context(), reviewerKey{}, info.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminOrOwner admits an admin, or an applicant whose token email
// matches the {id} route parameter.
func (s *Server) requireAdminOrOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		info, ok := s.introspect(w, r)
		if !ok {
			return
		}
		owner := info.Email != "" &&
			validation.NormalizeEmail(info.Email) == validation.NormalizeEmail(chi.URLParam(r, "id"))
		if !owner && !info.HasRole(s.deps.AdminRole) {
			s.writeError(w, r, errors.NewForbiddenError("not the owner of this application"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// introspect validates the bearer token and writes a 401 when it is missing or rejected.
func (s *Server) introspect(w http.ResponseWriter, r *http.Request) (*auth.TokenInfo, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		s.writeError(w, r, errors.NewAuthenticationError("missing bearer token"))
		return nil, false
	}

	info, err := s.deps.Tokens.ValidateToken(r.Context(), strings.TrimSpace(token))
	if err != nil {
		s.logger.Warn("token rejected", map[string]interface{}{
			"error":      err,
			"request_id": chimw.GetReqID(r.Context()),
		})
		s.writeError(w, r, errors.NewAuthenticationError("invalid or expired token"))
		return nil, false
	}
	return info, true
}

// rateLimit bounds requests per client address and route. Limiter errors fail open.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := s.deps.RateLimit
		if s.deps.Limiter == nil || policy.Requests <= 0 || policy.Window <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := "arthouse:ratelimit:" + r.URL.Path + ":" + clientIP(r)
		allowed, err := s.deps.Limiter.Allow(r.Context(), key, policy.Requests, policy.Window)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request", map[string]interface{}{"error": err})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(policy.Window.Seconds())))
			s.writeError(w, r, errors.NewRateLimitedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
