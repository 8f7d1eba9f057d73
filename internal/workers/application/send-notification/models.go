package sendnotification

type Input struct {
	ApplicationID string `json:"applicationId"`
	// TemplateType overrides the template chosen from the application status.
	TemplateType string `json:"templateType,omitempty"`
	// Email overrides the recipient.
	Email string `json:"email,omitempty"`
}

type Output struct {
	NotificationID string `json:"notificationId"`
	TemplateType   string `json:"templateType,omitempty"`
	Status         string `json:"status"` // sent, disabled, skipped
	SentAt         string `json:"sentAt"` // ISO 8601
}
