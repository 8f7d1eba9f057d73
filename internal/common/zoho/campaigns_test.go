package zoho

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/listsubscribe", r.URL.Path)
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "list-1", r.PostForm.Get("listkey"))
		assert.Equal(t, "landing", r.PostForm.Get("source"))

		var info map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("contactinfo")), &info))
		assert.Equal(t, "a@b.com", info["Contact Email"])
		assert.Equal(t, "Ada", info["First Name"])
		_, hasLast := info["Last Name"]
		assert.False(t, hasLast)

		_, _ = w.Write([]byte(`{"status":"success","message":"A confirmation email is sent to the user.","code":"0"}`))
	}))
	defer srv.Close()

	client := NewCampaignsClient("tok", "list-1", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	err := client.Subscribe(t.Context(), &Contact{Email: "a@b.com", FirstName: "Ada", Source: "landing"})
	assert.NoError(t, err)
}

func TestSubscribe_RejectedByPlatform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid list key","code":"2003"}`))
	}))
	defer srv.Close()

	client := NewCampaignsClient("tok", "bad", WithBaseURL(srv.URL))
	err := client.Subscribe(t.Context(), &Contact{Email: "a@b.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid list key")
}

func TestSubscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`invalid oauth token`))
	}))
	defer srv.Close()

	client := NewCampaignsClient("tok", "list-1", WithBaseURL(srv.URL))
	err := client.Subscribe(t.Context(), &Contact{Email: "a@b.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestSubscribe_RequiresEmailAndListKey(t *testing.T) {
	assert.Error(t, NewCampaignsClient("tok", "list-1").Subscribe(t.Context(), &Contact{}))
	assert.Error(t, NewCampaignsClient("tok", "").Subscribe(t.Context(), &Contact{Email: "a@b.com"}))
}
