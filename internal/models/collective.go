// internal/models/collective.go
package models

import "time"

type Collective struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Members     []string  `json:"members,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SearchFilter narrows event and collective listings.
type SearchFilter struct {
	Query    string
	Category string
	Tag      string
	Status   string
	Limit    int
}

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 100
)

// Size is the result cap for a filtered listing.
func (f SearchFilter) Size() int {
	if f.Limit <= 0 || f.Limit > MaxSearchLimit {
		return DefaultSearchLimit
	}
	return f.Limit
}

// IsEmpty reports whether no filter was requested.
func (f SearchFilter) IsEmpty() bool {
	return f.Query == "" && f.Category == "" && f.Tag == "" && f.Status == ""
}
