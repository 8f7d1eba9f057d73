package syncentitlement

// Input names either an application to sync or an account to check.
// ApplicationID takes precedence.
type Input struct {
	ApplicationID string `json:"applicationId,omitempty"`
	Email         string `json:"email,omitempty"`
	UID           string `json:"uid,omitempty"`
}

type Output struct {
	IsApproved        bool   `json:"isApproved"`
	ApprovalSource    string `json:"approvalSource"`
	EntitlementLinked bool   `json:"entitlementLinked"`
	AccountID         string `json:"accountId,omitempty"`
}
