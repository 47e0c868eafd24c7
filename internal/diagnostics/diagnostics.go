// Package diagnostics explains, read-only, why an order's webhooks did or did not arrive.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/storage"
)

// Code is the machine-readable diagnosis.
type Code string

const (
	CodeNotConfigured  Code = "not_configured"
	CodeLinkMissing    Code = "link_missing"
	CodeNotQueued      Code = "not_queued"
	CodeNotProcessed   Code = "not_processed"
	CodeDeliveryFailed Code = "delivery_failed"
	CodeDelivered      Code = "delivered"
)

// OrderReader loads the order under diagnosis.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
}

// QueueReader is the read-only part of storage.Store the service needs.
type QueueReader interface {
	ListWebhooksByOrder(ctx context.Context, orderID string) ([]storage.QueueEntry, error)
	ListDeliveryLogsByOrder(ctx context.Context, orderID string) ([]storage.DeliveryLogEntry, error)
}

// SettingsReader supplies the current settings snapshot. Nil means unconfigured.
type SettingsReader interface {
	Get(ctx context.Context) *storage.WebhookSettings
}

// SettingsView is the settings row with the destination redacted and the secret reduced to a flag.
type SettingsView struct {
	Enabled             bool      `json:"enabled"`
	DestinationURL      string    `json:"destinationUrl"`
	HasSecret           bool      `json:"hasSecret"`
	TimeoutSeconds      int       `json:"timeoutSeconds"`
	RetryAttempts       int       `json:"retryAttempts"`
	RetryDelaySeconds   int       `json:"retryDelaySeconds"`
	IncludeCustomerData bool      `json:"includeCustomerData"`
	IncludeOrderItems   bool      `json:"includeOrderItems"`
	IncludePricingData  bool      `json:"includePricingData"`
	IncludeShippingData bool      `json:"includeShippingData"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// NewSettingsView renders settings for admins. It never carries the secret.
func NewSettingsView(s storage.WebhookSettings) SettingsView {
	return SettingsView{
		Enabled:             s.Enabled,
		DestinationURL:      logger.RedactURL(s.DestinationURL),
		HasSecret:           s.SigningSecret != "",
		TimeoutSeconds:      s.TimeoutSeconds,
		RetryAttempts:       s.RetryAttempts,
		RetryDelaySeconds:   s.RetryDelaySeconds,
		IncludeCustomerData: s.IncludeCustomerData,
		IncludeOrderItems:   s.IncludeOrderItems,
		IncludePricingData:  s.IncludePricingData,
		IncludeShippingData: s.IncludeShippingData,
		UpdatedAt:           s.UpdatedAt,
	}
}

// OrderSummary is the part of the order relevant to webhooks.
type OrderSummary struct {
	ID             string     `json:"id"`
	OrderNumber    string     `json:"orderNumber"`
	Status         string     `json:"status"`
	PaymentStatus  string     `json:"paymentStatus"`
	PaymentLinkURL string     `json:"paymentLinkUrl,omitempty"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Report is the full diagnosis of one order.
type Report struct {
	Order         OrderSummary               `json:"order"`
	QueueEntries  []storage.QueueEntry       `json:"queueEntries"`
	DeliveryLogs  []storage.DeliveryLogEntry `json:"deliveryLogs"`
	Settings      *SettingsView              `json:"settings"`
	Diagnosis     string                     `json:"diagnosis"`
	DiagnosisCode Code                       `json:"diagnosisCode"`
}

// Service builds diagnosis reports. It performs no writes.
type Service struct {
	orders   OrderReader
	queue    QueueReader
	settings SettingsReader
	logger   zerolog.Logger
}

// NewService creates a diagnostics service.
func NewService(o OrderReader, q QueueReader, s SettingsReader, log zerolog.Logger) *Service {
	return &Service{
		orders:   o,
		queue:    q,
		settings: s,
		logger:   log.With().Str("component", "webhook_diagnostics").Logger(),
	}
}

// DiagnoseOrder returns orders.ErrOrderNotFound when the order does not exist.
func (s *Service) DiagnoseOrder(ctx context.Context, orderID string) (Report, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return Report{}, err
	}

	entries, err := s.queue.ListWebhooksByOrder(ctx, order.ID)
	if err != nil {
		return Report{}, fmt.Errorf("list queue entries: %w", err)
	}
	logs, err := s.queue.ListDeliveryLogsByOrder(ctx, order.ID)
	if err != nil {
		return Report{}, fmt.Errorf("list delivery logs: %w", err)
	}
	if entries == nil {
		entries = []storage.QueueEntry{}
	}
	if logs == nil {
		logs = []storage.DeliveryLogEntry{}
	}

	var settings *storage.WebhookSettings
	if s.settings != nil {
		settings = s.settings.Get(ctx)
	}

	report := Report{
		Order: OrderSummary{
			ID:             order.ID,
			OrderNumber:    order.OrderNumber,
			Status:         order.Status,
			PaymentStatus:  order.PaymentStatus,
			PaymentLinkURL: order.PaymentLinkURL,
			PaidAt:         order.PaidAt,
			CreatedAt:      order.CreatedAt,
		},
		QueueEntries: entries,
		DeliveryLogs: logs,
	}
	if settings != nil {
		view := NewSettingsView(*settings)
		report.Settings = &view
	}
	report.DiagnosisCode, report.Diagnosis = diagnose(settings, order, entries, logs)

	s.logger.Debug().
		Str("order_id", order.ID).
		Str("diagnosis_code", string(report.DiagnosisCode)).
		Int("queue_entries", len(entries)).
		Int("delivery_logs", len(logs)).
		Msg("webhook_diagnostics.report_built")

	return report, nil
}

// diagnose applies the checks in order; the first that matches wins.
func diagnose(settings *storage.WebhookSettings, order orders.Order, entries []storage.QueueEntry, logs []storage.DeliveryLogEntry) (Code, string) {
	switch {
	case settings == nil || !settings.Configured():
		return CodeNotConfigured, "not configured"
	case order.PaymentLinkURL == "":
		return CodeLinkMissing, "link never created"
	case len(entries) == 0:
		return CodeNotQueued, "failed before queueing"
	case len(logs) == 0:
		return CodeNotProcessed, "queued but never processed by worker"
	}

	latest := latestLog(logs)
	if !latest.Success {
		return CodeDeliveryFailed, "latest delivery attempt failed: " + latest.ErrorMessage
	}
	return CodeDelivered, "delivered successfully"
}

func latestLog(logs []storage.DeliveryLogEntry) storage.DeliveryLogEntry {
	sorted := append([]storage.DeliveryLogEntry(nil), logs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[len(sorted)-1]
}
