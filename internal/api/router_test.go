package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthouse/internal/common/auth"
	apperrors "arthouse/internal/common/errors"
	"arthouse/internal/common/logger"
	"arthouse/internal/common/zoho"
	"arthouse/internal/models"
	"arthouse/internal/services/community"
	"arthouse/internal/services/entitlement"
	"arthouse/internal/services/intake"
	"arthouse/internal/services/newsletter"
	"arthouse/internal/services/referral"
	"arthouse/internal/services/review"
	"arthouse/internal/store"
	"arthouse/internal/store/storetest"
)

// ==========================
// Fakes
// ==========================

type fakeIDP struct {
	users map[string]*auth.User
}

func (f *fakeIDP) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, apperrors.NewUserNotFoundError(email)
}

func (f *fakeIDP) GetUser(_ context.Context, id string) (*auth.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NewUserNotFoundError(id)
}

func (f *fakeIDP) UpdateUserAttributes(_ context.Context, id string, attrs map[string][]string) (bool, error) {
	u := f.users[id]
	if u.Attributes == nil {
		u.Attributes = map[string][]string{}
	}
	for k, v := range attrs {
		u.Attributes[k] = v
	}
	return true, nil
}

type subscriberFunc func(ctx context.Context, c *zoho.Contact) error

func (f subscriberFunc) Subscribe(ctx context.Context, c *zoho.Contact) error { return f(ctx, c) }

type staticTokens map[string]*auth.TokenInfo

func (s staticTokens) ValidateToken(_ context.Context, token string) (*auth.TokenInfo, error) {
	if info, ok := s[token]; ok {
		return info, nil
	}
	return nil, apperrors.NewAuthenticationError("inactive token")
}

// ==========================
// Harness
// ==========================

type harness struct {
	t       *testing.T
	handler http.Handler
	apps    *storetest.Memory[models.Application]
	idp     *fakeIDP
	zohoErr error
}

func newHarness(t *testing.T, configure func(*Deps)) *harness {
	t.Helper()
	log := logger.NewTestLogger(t)
	h := &harness{
		t:    t,
		apps: storetest.NewMemory[models.Application]("submittedAt"),
		idp:  &fakeIDP{users: map[string]*auth.User{}},
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ent := entitlement.NewService(h.idp, h.apps, log)
	news := newsletter.NewService(subscriberFunc(func(context.Context, *zoho.Contact) error { return h.zohoErr }),
		storetest.NewMemory[models.SubscriptionLog]("createdAt"), log)
	refs := referral.NewService(
		storetest.NewMemory[models.Referral]("createdAt"),
		storetest.NewMemory[models.ReferralCount]("updatedAt"),
		store.NewLeaderboard(rdb), log)

	deps := Deps{
		Applications: intake.NewService(h.apps, log),
		Reviews:      review.NewService(h.apps, ent, log),
		Approvals:    ent,
		Community: community.NewService(
			storetest.NewMemory[models.Event]("createdAt"),
			storetest.NewMemory[models.Collective]("createdAt"),
			storetest.NewMemory[models.WaitlistSignup]("createdAt"),
			log),
		Newsletter: news,
		Referrals:  refs,
		Checks: map[string]Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}
	if configure != nil {
		configure(&deps)
	}
	h.handler = NewServer(deps, log).Router()
	return h
}

func (h *harness) do(method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	h.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(h.t, "application/json", rec.Header().Get("Content-Type"), "%s %s must answer JSON", method, path)
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func standardSubmission(email string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"links":    map[string]interface{}{"website": "http://x.com"},
		"industry": "Film",
		"roles":    []string{"Director"},
		"genres":   []string{"Drama"},
	}
}

// ==========================
// Applications
// ==========================

func TestSubmitThenList(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "a@b.com", body["applicationId"])

	rec, body = h.do(http.MethodGet, "/applications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	apps := body["applications"].([]interface{})
	require.Len(t, apps, 1)
	app := apps[0].(map[string]interface{})
	assert.Equal(t, "pending", app["status"])
	assert.Equal(t, "a@b.com", app["email"])
}

func TestSubmit_MissingFieldsReturnsFieldErrors(t *testing.T) {
	h := newHarness(t, nil)

	payload := standardSubmission("a@b.com")
	delete(payload, "genres")
	delete(payload, "industry")

	rec, body := h.do(http.MethodPost, "/applications", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fieldErrors := body["fieldErrors"].(map[string]interface{})
	assert.Len(t, fieldErrors, 2)
	assert.Contains(t, fieldErrors, "genres")
	assert.Contains(t, fieldErrors, "industry")
	assert.Equal(t, 0, h.apps.Len())
}

func TestSubmit_DuplicateEmail(t *testing.T) {
	h := newHarness(t, nil)

	rec, _ := h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := h.do(http.MethodPost, "/applications", standardSubmission("A@B.com"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "An application with this email has already been submitted", body["error"])
}

func TestSubmit_MalformedJSON(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodPost, "/applications", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestSubmit_StoreFailureIsOpaque500(t *testing.T) {
	h := newHarness(t, nil)
	h.apps.Err = errors.New("pq: connection refused to 10.0.0.3")

	rec, body := h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	assert.NotEmpty(t, body["error"])
}

func TestListApplications_ByEmail(t *testing.T) {
	h := newHarness(t, nil)

	_, body := h.do(http.MethodGet, "/applications?email=nobody@b.com", nil)
	assert.Contains(t, body, "application")
	assert.Nil(t, body["application"])

	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))
	_, body = h.do(http.MethodGet, "/applications?email=a@b.com", nil)
	app := body["application"].(map[string]interface{})
	assert.Equal(t, "a@b.com", app["email"])
}

func TestGetApplication(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))

	rec, body := h.do(http.MethodGet, "/applications/a@b.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])

	rec, _ = h.do(http.MethodGet, "/applications/missing@b.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetApplication_OwnerOrAdminWhenTokensConfigured(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Tokens = staticTokens{
			"good":  curatorToken(),
			"owner": {Active: true, Username: "a", Email: "A@B.com"},
			"other": {Active: true, Username: "c", Email: "c@b.com"},
		}
		d.AdminRole = "arthouse-admin"
	})
	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))

	rec, _ := h.do(http.MethodGet, "/applications/a@b.com", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(http.MethodGet, "/applications/a@b.com", nil, "Authorization", "Bearer other")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := h.do(http.MethodGet, "/applications/a@b.com", nil, "Authorization", "Bearer owner")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@b.com", body["email"])

	rec, _ = h.do(http.MethodGet, "/applications/a@b.com", nil, "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReview_ApproveWithoutAccountStillSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))

	rec, body := h.do(http.MethodPost, "/applications/approve", map[string]interface{}{
		"applicationId": "a@b.com",
		"action":        "approved",
		"reviewNotes":   "great reel",
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "approved", body["status"])
	ent := body["entitlement"].(map[string]interface{})
	assert.Equal(t, false, ent["linked"])

	stored, err := h.apps.Get(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, "admin", stored.ReviewedBy)
}

func TestReview_ApproveLinksAccountThenCheckApproval(t *testing.T) {
	h := newHarness(t, nil)
	h.idp.users["u-1"] = &auth.User{ID: "u-1", Email: "a@b.com"}
	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))

	rec, body := h.do(http.MethodPost, "/applications/approve", map[string]interface{}{
		"applicationId": "a@b.com",
		"action":        "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, []string{"true"}, h.idp.users["u-1"].Attributes["approved"])

	rec, body = h.do(http.MethodPost, "/check-approval", map[string]interface{}{"uid": "u-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["isApproved"])
	assert.Equal(t, "custom_claims", body["approvalSource"])
	assert.Equal(t, "a@b.com", body["email"])
}

func TestReview_InvalidStatusDoesNotMutate(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))

	rec, _ := h.do(http.MethodPost, "/applications/approve", map[string]interface{}{
		"applicationId": "a@b.com",
		"action":        "banana",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stored, err := h.apps.Get(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Empty(t, stored.ReviewedBy)
}

func TestReview_UnknownApplication(t *testing.T) {
	h := newHarness(t, nil)

	rec, _ := h.do(http.MethodPost, "/applications/approve", map[string]interface{}{
		"applicationId": "ghost@b.com",
		"action":        "rejected",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckApproval(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodPost, "/check-approval", map[string]interface{}{"email": "nobody@b.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["isApproved"])
	assert.Contains(t, body, "approvalSource")
	assert.Nil(t, body["approvalSource"])

	rec, _ = h.do(http.MethodPost, "/check-approval", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Admin token
// ==========================

func curatorToken() *auth.TokenInfo {
	info := &auth.TokenInfo{Active: true, Username: "curator"}
	info.RealmAccess.Roles = []string{"arthouse-admin"}
	return info
}

func TestAdminRoutesRequireTokenWhenConfigured(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Tokens = staticTokens{
			"good":      curatorToken(),
			"applicant": {Active: true, Username: "a@b.com", Email: "a@b.com"},
		}
		d.AdminRole = "arthouse-admin"
	})
	h.do(http.MethodPost, "/applications", standardSubmission("a@b.com"))

	rec, _ := h.do(http.MethodPost, "/applications/approve", map[string]interface{}{
		"applicationId": "a@b.com",
		"action":        "approve",
	}, "Authorization", "Bearer applicant")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	stored, err := h.apps.Get(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status, "a token without the admin role changes nothing")

	rec, _ = h.do(http.MethodPost, "/events", map[string]interface{}{"title": "Open Studio"}, "Authorization", "Bearer applicant")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(http.MethodGet, "/applications", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(http.MethodGet, "/applications", nil, "Authorization", "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(http.MethodGet, "/applications", nil, "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(http.MethodPost, "/applications/approve", map[string]interface{}{
		"applicationId": "a@b.com",
		"action":        "shortlist",
	}, "Authorization", "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err = h.apps.Get(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "curator", stored.ReviewedBy)
	assert.Equal(t, models.StatusShortlist, stored.Status)

	rec, _ = h.do(http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "public reads stay open")
}

// ==========================
// Community
// ==========================

func TestEventsCRUD(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodPost, "/events", map[string]interface{}{
		"title":    "Open studio",
		"category": "art",
		"startsAt": "2026-05-01T18:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, body)
	id := body["id"].(string)
	assert.Equal(t, "upcoming", body["status"])

	rec, _ = h.do(http.MethodPost, "/events", map[string]interface{}{"title": "x", "status": "postponed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = h.do(http.MethodPut, "/events/"+id, map[string]interface{}{"status": "ongoing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ongoing", body["status"])
	assert.Equal(t, "Open studio", body["title"])

	_, body = h.do(http.MethodGet, "/events?status=ongoing", nil)
	assert.Len(t, body["events"], 1)
	_, body = h.do(http.MethodGet, "/events?category=film", nil)
	assert.Len(t, body["events"], 0)

	rec, _ = h.do(http.MethodDelete, "/events/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(http.MethodGet, "/events/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectivesCRUD(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodPost, "/collectives", map[string]interface{}{"name": "Lens Club", "tags": []string{"photo"}})
	require.Equal(t, http.StatusCreated, rec.Code, body)
	id := body["id"].(string)

	_, body = h.do(http.MethodGet, "/collectives?tag=photo", nil)
	assert.Len(t, body["collectives"], 1)

	rec, body = h.do(http.MethodPut, "/collectives/"+id, map[string]interface{}{"description": "Film and digital"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Film and digital", body["description"])

	rec, _ = h.do(http.MethodDelete, "/collectives/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = h.do(http.MethodDelete, "/collectives/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodPost, "/subscribe", map[string]interface{}{"email": "n@b.com", "source": "footer"})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, true, body["success"])

	rec, _ = h.do(http.MethodPost, "/subscribe", map[string]interface{}{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.zohoErr = errors.New("zoho: 503")
	rec, _ = h.do(http.MethodPost, "/subscribe", map[string]interface{}{"email": "n@b.com"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReferralsAndLeaderboard(t *testing.T) {
	h := newHarness(t, nil)

	for _, referred := range []string{"one@b.com", "two@b.com"} {
		rec, body := h.do(http.MethodPost, "/referrals", map[string]interface{}{
			"referrerEmail": "top@b.com",
			"referredEmail": referred,
		})
		require.Equal(t, http.StatusCreated, rec.Code, body)
	}

	rec, _ := h.do(http.MethodPost, "/referrals", map[string]interface{}{
		"referrerEmail": "top@b.com",
		"referredEmail": "one@b.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a repeat referral earns no credit")

	rec, body := h.do(http.MethodGet, "/referrals/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := body["leaderboard"].([]interface{})
	require.Len(t, board, 1)
	top := board[0].(map[string]interface{})
	assert.Equal(t, "top@b.com", top["email"])
	assert.Equal(t, float64(2), top["count"])
}

func TestWaitlistIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	rec, _ := h.do(http.MethodPost, "/waitlist", map[string]interface{}{"email": "w@b.com"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec, body := h.do(http.MethodPost, "/waitlist", map[string]interface{}{"email": "W@b.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Already on the waitlist", body["message"])
}

// ==========================
// Plumbing
// ==========================

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = h.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newHarness(t, func(d *Deps) {
		d.Checks["postgres"] = func(context.Context) error { return errors.New("down") }
	})
	rec, body = h.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", body["checks"].(map[string]interface{})["postgres"])
}

func TestOpsRouterServesOnlyHealthAndMetrics(t *testing.T) {
	srv := NewServer(Deps{Checks: map[string]Check{
		"zeebe": func(context.Context) error { return nil },
	}}, logger.NewTestLogger(t))
	handler := srv.OpsRouter()

	for path, want := range map[string]int{
		"/health":       http.StatusOK,
		"/ready":        http.StatusOK,
		"/metrics":      http.StatusOK,
		"/applications": http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestNotFoundAndMethodNotAllowedAreJSON(t *testing.T) {
	h := newHarness(t, nil)

	rec, body := h.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", body["error"])

	rec, _ = h.do(http.MethodPatch, "/applications", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type panickingApplications struct{ Applications }

func (panickingApplications) List(context.Context) ([]*models.Application, error) {
	panic("boom")
}

func TestPanicBecomesJSON500(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Applications = panickingApplications{d.Applications}
	})

	rec, body := h.do(http.MethodGet, "/applications", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestRateLimitOnPublicPosts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := newHarness(t, func(d *Deps) {
		d.Limiter = NewRedisLimiter(rdb)
		d.RateLimit = RateLimitPolicy{Requests: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		rec, _ := h.do(http.MethodPost, "/waitlist", map[string]interface{}{"email": "w@b.com"})
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
	rec, body := h.do(http.MethodPost, "/waitlist", map[string]interface{}{"email": "w@b.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec, _ = h.do(http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}
