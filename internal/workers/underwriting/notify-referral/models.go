// internal/workers/underwriting/notify-referral/models.go
package notifyreferral

type Input struct {
	EvaluationID  string   `json:"evaluationId"`
	CarrierName   string   `json:"carrierName"`
	ProductName   string   `json:"productName"`
	Eligibility   string   `json:"eligibility"`
	Reasons       []string `json:"reasons,omitempty"`
	Concerns      []string `json:"concerns,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
}

type Output struct {
	NotificationID string   `json:"notificationId"`
	Channels       []string `json:"channels,omitempty"`
	SentAt         string   `json:"sentAt"`
}
