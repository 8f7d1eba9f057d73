package subscribenewsletter

// Input names the contact directly or through an application.
type Input struct {
	ApplicationID string `json:"applicationId,omitempty"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Source        string `json:"source,omitempty"`
}

type Output struct {
	Success        bool   `json:"success"`
	Email          string `json:"email"`
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"subscriptionStatus"`
	SubscribedAt   string `json:"subscribedAt"` // ISO 8601
}
