package storage

import (
	"encoding/json"
	"strings"
	"time"
)

// DeliveryLogEntry records the outcome of a single HTTP attempt. Rows are never updated.
type DeliveryLogEntry struct {
	ID                  string          `json:"id"`
	QueueEntryID        string          `json:"queueEntryId"`
	OrderID             string          `json:"orderId"`
	DestinationURL      string          `json:"destinationUrl"`
	EventType           EventType       `json:"eventType"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	ResponseStatus      int             `json:"responseStatus"`
	ResponseBodyExcerpt string          `json:"responseBodyExcerpt,omitempty"`
	ResponseTimeMs      int64           `json:"responseTimeMs"`
	Success             bool            `json:"success"`
	ErrorMessage        string          `json:"errorMessage,omitempty"`
	RetryCountAtAttempt int             `json:"retryCountAtAttempt"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// TruncateExcerpt keeps at most MaxResponseExcerpt characters of a response body.
// Invalid UTF-8 is replaced so the excerpt is always storable as text.
func TruncateExcerpt(body string) string {
	body = strings.ToValidUTF8(body, "�")
	count := 0
	for i := range body {
		if count == MaxResponseExcerpt {
			return body[:i]
		}
		count++
	}
	return body
}

func (l DeliveryLogEntry) clone() DeliveryLogEntry {
	if l.Payload != nil {
		l.Payload = append(json.RawMessage(nil), l.Payload...)
	}
	return l
}

func prepareDeliveryLog(entry *DeliveryLogEntry, id string, now time.Time) {
	if entry.ID == "" {
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.ResponseBodyExcerpt = TruncateExcerpt(entry.ResponseBodyExcerpt)
}
