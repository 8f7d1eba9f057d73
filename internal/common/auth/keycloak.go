package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"arthouse/internal/common/errors"
)

// KeycloakClient talks to the Keycloak admin API with a client-credentials service account.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// User represents a user in Keycloak.
type User struct {
	ID            string              `json:"id,omitempty"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Username      string              `json:"username,omitempty"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the first value of a user attribute.
func (u *User) Attribute(name string) string {
	if u == nil || len(u.Attributes[name]) == 0 {
		return ""
	}
	return u.Attributes[name][0]
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// TokenInfo holds the information returned by the token introspection endpoint.
type TokenInfo struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Sub       string `json:"sub,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access,omitempty"`
}

// HasRole reports whether the token carries the realm role.
func (t *TokenInfo) HasRole(role string) bool {
	return slices.Contains(t.RealmAccess.Roles, role)
}

type Option func(*KeycloakClient)

// WithHTTPClient replaces the default 30s client.
func WithHTTPClient(c *http.Client) Option {
	return func(k *KeycloakClient) {
		if c != nil {
			k.httpClient = c
		}
	}
}

// NewKeycloakClient creates a new instance of KeycloakClient.
func NewKeycloakClient(baseURL, realm, clientID, clientSecret string, opts ...Option) *KeycloakClient {
	k := &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// IsUserNotFound reports whether err means the account does not exist.
func IsUserNotFound(err error) bool {
	return errors.HasCode(err, errors.ErrCodeUserNotFound)
}

// token returns a cached service-account token, refreshing it shortly before expiry.
func (k *KeycloakClient) token(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.accessToken != "" && time.Now().Before(k.tokenExpiry) {
		return k.accessToken, nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("keycloak token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	k.accessToken = tokenResp.AccessToken
	// 10s of slack so a token never expires mid-request.
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 10*time.Second)

	return k.accessToken, nil
}

// adminRequest performs an authenticated admin API call and returns the response for the caller to close.
func (k *KeycloakClient) adminRequest(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	token, err := k.token(ctx)
	if err != nil {
		return nil, errors.NewIdentityProviderError("Failed to authenticate with Keycloak", err.Error(), true)
	}

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.NewIdentityProviderError("Failed to serialize Keycloak request", err.Error(), false)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/admin/realms/%s%s", k.baseURL, k.realm, path), body)
	if err != nil {
		return nil, errors.NewIdentityProviderError("Failed to create Keycloak request", err.Error(), false)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewIdentityProviderError("Failed to send request to Keycloak", err.Error(), true)
	}
	return resp, nil
}

func (k *KeycloakClient) apiError(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(resp.Body)
	return errors.NewIdentityProviderError(
		fmt.Sprintf("Keycloak API error during %s", operation),
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, string(body)),
		isTransientHTTPError(resp.StatusCode),
	)
}

// GetUserByEmail retrieves a user, including attributes, by exact email match.
func (k *KeycloakClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	path := fmt.Sprintf("/users?email=%s&exact=true&briefRepresentation=false", url.QueryEscape(email))

	resp, err := k.adminRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, k.apiError(resp, "user search")
	}

	var users []User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, errors.NewIdentityProviderError("Failed to decode user search results", err.Error(), false)
	}

	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, errors.NewUserNotFoundError(email)
}

// GetUser retrieves a user by their unique ID.
func (k *KeycloakClient) GetUser(ctx context.Context, userID string) (*User, error) {
	resp, err := k.adminRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NewUserNotFoundError(userID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, k.apiError(resp, "user retrieval")
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, errors.NewIdentityProviderError("Failed to decode user details", err.Error(), false)
	}
	return &user, nil
}

// UpdateUserAttributes merges attrs into the user's attributes. It returns false without
// writing when every attribute already holds the requested values.
func (k *KeycloakClient) UpdateUserAttributes(ctx context.Context, userID string, attrs map[string][]string) (bool, error) {
	user, err := k.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}

	merged := make(map[string][]string, len(user.Attributes)+len(attrs))
	for name, values := range user.Attributes {
		merged[name] = values
	}

	changed := false
	for name, values := range attrs {
		if !slices.Equal(merged[name], values) {
			merged[name] = values
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	resp, err := k.adminRequest(ctx, http.MethodPut, "/users/"+url.PathEscape(userID), map[string]interface{}{
		"attributes": merged,
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return false, k.apiError(resp, "user update")
	}
	return true, nil
}

// ValidateToken checks if an access token is valid and active.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, introspectURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewIdentityProviderError("Failed to create introspection request", err.Error(), false)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewIdentityProviderError("Failed to send introspection request", err.Error(), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, k.apiError(resp, "token introspection")
	}

	var tokenInfo TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		return nil, errors.NewIdentityProviderError("Failed to decode token introspection response", err.Error(), false)
	}

	if !tokenInfo.Active {
		return nil, errors.NewAuthenticationError("token is expired, revoked or malformed")
	}
	return &tokenInfo, nil
}

func isTransientHTTPError(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
