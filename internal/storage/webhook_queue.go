package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WebhookStatus represents the current state of a webhook in the queue.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"    // Waiting for delivery or retry
	WebhookStatusProcessing WebhookStatus = "processing" // Claimed by a worker
	WebhookStatusCompleted  WebhookStatus = "completed"  // Delivered (terminal)
	WebhookStatusFailed     WebhookStatus = "failed"     // Retries exhausted or cancelled (terminal)
)

// IsTerminal reports whether the status can never change again.
func (s WebhookStatus) IsTerminal() bool {
	return s == WebhookStatusCompleted || s == WebhookStatusFailed
}

// Valid reports whether s is one of the four queue states.
func (s WebhookStatus) Valid() bool {
	switch s {
	case WebhookStatusPending, WebhookStatusProcessing, WebhookStatusCompleted, WebhookStatusFailed:
		return true
	}
	return false
}

// EventType identifies the business event carried by a webhook.
type EventType string

const (
	EventPaymentLinkCreated EventType = "payment_link_created"
	EventOrderCompleted     EventType = "order_completed"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	return e == EventPaymentLinkCreated || e == EventOrderCompleted
}

// EnqueueRequest is the input to EnqueueWebhook.
type EnqueueRequest struct {
	OrderID        string
	DestinationURL string
	Payload        json.RawMessage // Exact bytes that will be signed and sent
	EventType      EventType
	MaxAttempts    int // Values below 1 are stored as 1
}

// QueueEntry is one outbound webhook delivery task. Payload is never modified after enqueue.
type QueueEntry struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	DestinationURL string          `json:"destinationUrl"` // Snapshot at enqueue time
	Payload        json.RawMessage `json:"payload"`
	EventType      EventType       `json:"eventType"`
	Status         WebhookStatus   `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	NextRetryAt    *time.Time      `json:"nextRetryAt,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsDue reports whether a pending entry may be delivered at now.
func (e QueueEntry) IsDue(now time.Time) bool {
	if e.Status != WebhookStatusPending {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

func (e QueueEntry) clone() QueueEntry {
	if e.Payload != nil {
		e.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		e.NextRetryAt = &t
	}
	return e
}

func transitionError(id string, from, to WebhookStatus) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, from, to)
}

func (e *QueueEntry) claim(at time.Time) error {
	switch e.Status {
	case WebhookStatusPending:
		e.Status = WebhookStatusProcessing
		e.UpdatedAt = at
		return nil
	case WebhookStatusProcessing:
		return ErrAlreadyClaimed
	default:
		return transitionError(e.ID, e.Status, WebhookStatusProcessing)
	}
}

func (e *QueueEntry) complete(at time.Time) error {
	if e.Status != WebhookStatusProcessing {
		return transitionError(e.ID, e.Status, WebhookStatusCompleted)
	}
	e.Status = WebhookStatusCompleted
	e.NextRetryAt = nil
	e.UpdatedAt = at
	return nil
}

func (e *QueueEntry) reschedule(attempts int, errMsg string, nextRetryAt, at time.Time) error {
	if e.Status != WebhookStatusProcessing || attempts >= e.MaxAttempts {
		return transitionError(e.ID, e.Status, WebhookStatusPending)
	}
	next := nextRetryAt
	e.Status = WebhookStatusPending
	e.Attempts = attempts
	e.ErrorMessage = errMsg
	e.NextRetryAt = &next
	e.UpdatedAt = at
	return nil
}

func (e *QueueEntry) fail(attempts int, errMsg string, at time.Time) error {
	if e.Status != WebhookStatusProcessing || attempts > e.MaxAttempts {
		return transitionError(e.ID, e.Status, WebhookStatusFailed)
	}
	e.Status = WebhookStatusFailed
	e.Attempts = attempts
	e.ErrorMessage = errMsg
	e.NextRetryAt = nil
	e.UpdatedAt = at
	return nil
}

func (e *QueueEntry) release(at time.Time) error {
	if e.Status != WebhookStatusProcessing {
		return transitionError(e.ID, e.Status, WebhookStatusPending)
	}
	e.Status = WebhookStatusPending
	e.UpdatedAt = at
	return nil
}

func (e *QueueEntry) cancel(reason string, at time.Time) error {
	if e.Status != WebhookStatusPending {
		return transitionError(e.ID, e.Status, WebhookStatusFailed)
	}
	e.Status = WebhookStatusFailed
	e.ErrorMessage = cancelMessage(reason)
	e.NextRetryAt = nil
	e.UpdatedAt = at
	return nil
}

func cancelMessage(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "cancelled by admin"
	}
	return "cancelled by admin: " + reason
}

// validateEnqueueRequest checks required fields and normalizes MaxAttempts.
func validateEnqueueRequest(req *EnqueueRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return fmt.Errorf("webhook requires order id")
	}
	if strings.TrimSpace(req.DestinationURL) == "" {
		return fmt.Errorf("webhook requires destination url")
	}
	if !req.EventType.Valid() {
		return fmt.Errorf("webhook event type %q is not supported", req.EventType)
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return fmt.Errorf("webhook payload must be valid JSON")
	}
	if req.MaxAttempts < 1 {
		req.MaxAttempts = 1
	}
	return nil
}

func newQueueEntry(id string, req EnqueueRequest, now time.Time) QueueEntry {
	return QueueEntry{
		ID:             id,
		OrderID:        req.OrderID,
		DestinationURL: req.DestinationURL,
		Payload:        append(json.RawMessage(nil), req.Payload...),
		EventType:      req.EventType,
		Status:         WebhookStatusPending,
		MaxAttempts:    req.MaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
