// internal/models/community.go
package models

import "time"

type Referral struct {
	ID            string    `json:"id"`
	ReferrerEmail string    `json:"referrerEmail"`
	ReferredEmail string    `json:"referredEmail"`
	Source        string    `json:"source,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ReferralCount is keyed by referrer email.
type ReferralCount struct {
	Email     string    `json:"email"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type LeaderboardEntry struct {
	Rank  int    `json:"rank"`
	Email string `json:"email"`
	Count int64  `json:"count"`
}

// WaitlistSignup is keyed by email.
type WaitlistSignup struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Interest  string    `json:"interest,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	SubscriptionSubscribed = "subscribed"
	SubscriptionFailed     = "failed"
)

type SubscriptionLog struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Source    string    `json:"source,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
