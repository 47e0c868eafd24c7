package storage

import "time"

// WebhookSettings is the single configuration row that controls outbound delivery.
type WebhookSettings struct {
	Enabled             bool      `json:"enabled"`
	DestinationURL      string    `json:"destinationUrl"`
	SigningSecret       string    `json:"signingSecret"`
	TimeoutSeconds      int       `json:"timeoutSeconds"`
	RetryAttempts       int       `json:"retryAttempts"`
	RetryDelaySeconds   int       `json:"retryDelaySeconds"`
	IncludeCustomerData bool      `json:"includeCustomerData"`
	IncludeOrderItems   bool      `json:"includeOrderItems"`
	IncludePricingData  bool      `json:"includePricingData"`
	IncludeShippingData bool      `json:"includeShippingData"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Configured reports whether deliveries should be attempted at all.
func (s WebhookSettings) Configured() bool {
	return s.Enabled && s.DestinationURL != ""
}
