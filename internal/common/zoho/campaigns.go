package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CampaignsClient subscribes contacts to a Zoho Campaigns mailing list.
type CampaignsClient struct {
	oauthToken string
	listKey    string
	baseURL    string
	httpClient *http.Client
}

// Contact is the subset of list subscriber fields ArtHouse sends.
type Contact struct {
	Email     string
	FirstName string
	LastName  string
	Source    string
}

func (c *Contact) contactInfo() map[string]string {
	info := map[string]string{"Contact Email": c.Email}
	if c.FirstName != "" {
		info["First Name"] = c.FirstName
	}
	if c.LastName != "" {
		info["Last Name"] = c.LastName
	}
	return info
}

type listSubscribeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Option func(*CampaignsClient)

// WithBaseURL points the client at another API root, e.g. a regional data center.
func WithBaseURL(baseURL string) Option {
	return func(c *CampaignsClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *CampaignsClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewCampaignsClient(oauthToken, listKey string, opts ...Option) *CampaignsClient {
	c := &CampaignsClient{
		oauthToken: oauthToken,
		listKey:    listKey,
		baseURL:    "https://campaigns.zoho.com/api/v1.1",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe adds the contact to the configured list. Zoho answers 200 for most
// failures, so the JSON status field decides the outcome.
func (c *CampaignsClient) Subscribe(ctx context.Context, contact *Contact) error {
	if contact == nil || contact.Email == "" {
		return fmt.Errorf("contact email is required")
	}
	if c.listKey == "" {
		return fmt.Errorf("zoho campaigns list key is not configured")
	}

	info, err := json.Marshal(contact.contactInfo())
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}

	form := url.Values{}
	form.Set("resfmt", "JSON")
	form.Set("listkey", c.listKey)
	form.Set("contactinfo", string(info))
	if contact.Source != "" {
		form.Set("source", contact.Source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/json/listsubscribe", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Zoho-oauthtoken "+c.oauthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to subscribe contact (status %d): %s", resp.StatusCode, string(body))
	}

	var result listSubscribeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Status != "success" {
		return fmt.Errorf("subscribe rejected (code %s): %s", result.Code, result.Message)
	}

	return nil
}
