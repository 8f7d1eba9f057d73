package reviewapplication

type Input struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	ReviewNotes   string `json:"reviewNotes,omitempty"`
	ReviewedBy    string `json:"reviewedBy,omitempty"`
}

type Output struct {
	ApplicationID     string `json:"applicationId"`
	ApplicationStatus string `json:"applicationStatus"`
	EntitlementLinked bool   `json:"entitlementLinked"`
	AccountID         string `json:"accountId,omitempty"`
	EntitlementError  string `json:"entitlementError,omitempty"`
	ReviewedAt        string `json:"reviewedAt,omitempty"` // ISO 8601
}
