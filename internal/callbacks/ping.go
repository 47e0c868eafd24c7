package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/storage"
)

// EventTest is the event type of a manual test ping. It is never queued.
const EventTest = "webhook_test"

// ErrNotConfigured is returned when a ping is requested without a destination.
var ErrNotConfigured = errors.New("callbacks: webhooks not configured")

// PingPayload is the body of a test ping.
type PingPayload struct {
	EventType string           `json:"eventType"`
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	PingID    string           `json:"pingId"`
	Message   string           `json:"message"`
	Metadata  payload.Metadata `json:"metadata"`
}

// Ping sends one signed test event to the configured destination using the same
// sender, timeout and signature rules as queued deliveries. The queue and the
// delivery log are not touched. The enabled flag is ignored so a destination can be
// verified before deliveries are switched on.
func Ping(ctx context.Context, sender *Sender, s *storage.WebhookSettings, source string, now time.Time) (string, Outcome, error) {
	if s == nil || s.DestinationURL == "" {
		return "", Outcome{}, ErrNotConfigured
	}

	id := uuid.NewString()
	body, err := json.Marshal(PingPayload{
		EventType: EventTest,
		Version:   payload.SchemaVersion,
		Timestamp: now.UTC(),
		PingID:    id,
		Message:   "Test webhook from the storefront",
		Metadata:  payload.Metadata{Source: source},
	})
	if err != nil {
		return "", Outcome{}, fmt.Errorf("marshal ping: %w", err)
	}

	out := sender.Send(ctx, Request{
		URL:       s.DestinationURL,
		Body:      body,
		EventType: EventTest,
		EntryID:   id,
		Secret:    s.SigningSecret,
		Timeout:   attemptTimeout(s, DefaultTimeout),
	})
	return id, out, nil
}
