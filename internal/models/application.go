// internal/models/application.go
package models

import (
	"slices"
	"time"
)

// Application statuses.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusWaitlist  = "waitlist"
	StatusShortlist = "shortlist"
)

// Submission kinds.
const (
	KindStandard = "standard"
	KindLegacy   = "legacy"
)

// ApplicationStatuses is the full set of targets a review may set.
var ApplicationStatuses = []string{StatusPending, StatusApproved, StatusRejected, StatusWaitlist, StatusShortlist}

// IsValidStatus reports whether status is a reachable application status.
func IsValidStatus(status string) bool {
	return slices.Contains(ApplicationStatuses, status)
}

// Application is an applicant submission plus its review state. The document id
// is the normalised applicant email.
type Application struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Email string `json:"email"`

	DisplayName string `json:"displayName,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Location    string `json:"location,omitempty"`
	ReferredBy  string `json:"referredBy,omitempty"`

	// standard
	Links    *Links   `json:"links,omitempty"`
	Industry string   `json:"industry,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Genres   []string `json:"genres,omitempty"`

	// legacy
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Profession string `json:"profession,omitempty"`

	Status      string     `json:"status"`
	ReviewedBy  string     `json:"reviewedBy,omitempty"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`

	AccountID            string     `json:"accountId,omitempty"`
	EntitlementGrantedAt *time.Time `json:"entitlementGrantedAt,omitempty"`

	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Links struct {
	Website   string `json:"website,omitempty"`
	Portfolio string `json:"portfolio,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	Other     string `json:"other,omitempty"`
}

// EffectiveStatus reads a missing status as pending.
func (a *Application) EffectiveStatus() string {
	if a.Status == "" {
		return StatusPending
	}
	return a.Status
}

// IsApproved reports whether the application has been approved.
func (a *Application) IsApproved() bool {
	return a.EffectiveStatus() == StatusApproved
}

// RoleLabels is the denormalized role list attached to the identity account.
// Legacy submissions carry a single profession instead of roles.
func (a *Application) RoleLabels() []string {
	if len(a.Roles) > 0 {
		return a.Roles
	}
	if a.Profession != "" {
		return []string{a.Profession}
	}
	return nil
}

// Name is the best display name available for correspondence.
func (a *Application) Name() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.FirstName != "":
		if a.LastName != "" {
			return a.FirstName + " " + a.LastName
		}
		return a.FirstName
	default:
		return a.Email
	}
}

// Review is the patch written by a status transition.
type Review struct {
	Status      string    `json:"status"`
	ReviewedBy  string    `json:"reviewedBy"`
	ReviewNotes string    `json:"reviewNotes"`
	ReviewedAt  time.Time `json:"reviewedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AccountLink is the patch written once an identity account is found.
type AccountLink struct {
	AccountID            string    `json:"accountId"`
	EntitlementGrantedAt time.Time `json:"entitlementGrantedAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}
