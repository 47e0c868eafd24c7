package callbacks

import (
	"context"
	"errors"
	"time"

	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/internal/storage"
)

// Header names sent with every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-ID"
)

const (
	// DefaultUserAgent identifies the storefront to receivers.
	DefaultUserAgent = "PlatehausStorefront-Webhooks/1.0"

	// DefaultTimeout applies when settings are unavailable or carry no timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryDelay is the base backoff when settings carry no delay.
	DefaultRetryDelay = 60 * time.Second

	// DefaultMaxBackoff caps the exponential retry delay.
	DefaultMaxBackoff = 24 * time.Hour

	// DefaultPollInterval is how often the background loop drains the queue.
	DefaultPollInterval = 30 * time.Second
)

// FailureKind classifies an unsuccessful attempt.
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"     // connect refused, DNS, TLS
	FailureTimeout    FailureKind = "timeout"     // request aborted by deadline
	FailureHTTPStatus FailureKind = "http_status" // receiver answered non-2xx
	FailureLocal      FailureKind = "local"       // request could not be built, or a panic
)

// Outcome is the normalized result of one HTTP attempt.
type Outcome struct {
	Success      bool
	StatusCode   int
	ResponseBody string // Already truncated to storage.MaxResponseExcerpt
	Kind         FailureKind
	Error        string
	Duration     time.Duration
}

// tripsBreaker reports whether the failure says something about the receiver's health.
// A 4xx means the receiver is up and rejecting us, which an open breaker would not fix.
func (o Outcome) tripsBreaker() bool {
	switch o.Kind {
	case FailureNetwork, FailureTimeout:
		return true
	case FailureHTTPStatus:
		return o.StatusCode >= 500
	}
	return false
}

var errReceiverUnhealthy = errors.New("callbacks: receiver unhealthy")

// SettingsSource supplies the settings snapshot read before each attempt. Nil means unconfigured.
type SettingsSource interface {
	Get(ctx context.Context) *storage.WebhookSettings
}

// OrderSource loads orders and the optional customer row.
type OrderSource interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	GetCustomerByEmail(ctx context.Context, email string) (orders.Customer, error)
}

// CatalogSource loads the plate catalog for item titles.
type CatalogSource interface {
	ListProducts(ctx context.Context) ([]products.Product, error)
}

// Notifier is told when new work was enqueued.
type Notifier interface {
	Notify()
}

// Result is what triggers report to their callers. Triggers never return Go errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	EntryID string `json:"entryId,omitempty"`
}
