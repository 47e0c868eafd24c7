package httphandlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/diagnostics"
	apierrors "github.com/platehaus/storefront/internal/errors"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/settings"
	"github.com/platehaus/storefront/internal/storage"
	"github.com/platehaus/storefront/pkg/responders"
)

// SourceAdminTest is the metadata source stamped on test pings from the back office.
const SourceAdminTest = "admin_test"

// SettingsManager reads and updates the webhook settings row.
type SettingsManager interface {
	Get(ctx context.Context) *storage.WebhookSettings
	Update(ctx context.Context, u settings.Update) bool
}

// Drainer runs one bounded pass over the queue.
type Drainer interface {
	Drain(ctx context.Context) (callbacks.DrainResult, error)
}

// Diagnoser explains one order's webhook journey.
type Diagnoser interface {
	DiagnoseOrder(ctx context.Context, orderID string) (diagnostics.Report, error)
}

// WebhooksAdminHandler serves the back office webhook pages: settings, queue,
// delivery log, manual drain, test ping and per-order diagnosis.
type WebhooksAdminHandler struct {
	store       storage.Store
	settings    SettingsManager
	drainer     Drainer
	sender      *callbacks.Sender
	diagnostics Diagnoser
	now         func() time.Time
}

// NewWebhooksAdminHandler creates a new webhooks admin handler.
// drainer and sender may be nil, in which case the drain and test routes report not configured.
func NewWebhooksAdminHandler(store storage.Store, s SettingsManager, drainer Drainer, sender *callbacks.Sender, diag Diagnoser) *WebhooksAdminHandler {
	return &WebhooksAdminHandler{
		store:       store,
		settings:    s,
		drainer:     drainer,
		sender:      sender,
		diagnostics: diag,
		now:         time.Now,
	}
}

// GetSettings returns the settings with the destination redacted and the secret hidden.
// GET /admin/webhooks/settings
func (h *WebhooksAdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	current := h.settings.Get(r.Context())
	if current == nil {
		responders.JSON(w, http.StatusOK, map[string]interface{}{
			"configured": false,
			"settings":   nil,
		})
		return
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"configured": current.Configured(),
		"settings":   diagnostics.NewSettingsView(*current),
	})
}

// UpdateSettings overwrites the fields present in the body.
// PUT /admin/webhooks/settings
func (h *WebhooksAdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var update settings.Update
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "Invalid settings body: "+err.Error())
		return
	}
	if update.IsEmpty() {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "At least one setting is required")
		return
	}
	if err := update.Validate(); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	if !h.settings.Update(r.Context(), update) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeSettingsUpdateFailed, "Failed to update webhook settings")
		return
	}
	log.Info().Msg("webhook_admin.settings_updated")

	h.GetSettings(w, r)
}

// ListQueue returns queue entries, newest first, with an optional status filter.
// GET /admin/webhooks/queue?status=pending&limit=50
func (h *WebhooksAdminHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := storage.WebhookStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidStatus, "Invalid status parameter. Must be: pending, processing, completed, or failed")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.store.ListWebhooks(r.Context(), status, limit)
	if err != nil {
		apierrors.WriteCauseError(w, apierrors.ErrCodeDatabaseError, "Failed to list webhooks", err)
		return
	}
	responders.List(w, "entries", entries)
}

// GetQueueEntry returns one entry together with its delivery attempts.
// GET /admin/webhooks/queue/{id}
func (h *WebhooksAdminHandler) GetQueueEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "Queue entry ID is required")
		return
	}

	entry, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Failed to get queue entry")
		return
	}
	logs, err := h.store.ListDeliveryLogsByEntry(r.Context(), id)
	if err != nil {
		apierrors.WriteCauseError(w, apierrors.ErrCodeDatabaseError, "Failed to list delivery logs", err)
		return
	}
	if logs == nil {
		logs = []storage.DeliveryLogEntry{}
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"entry": entry,
		"logs":  logs,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelQueueEntry marks a pending entry failed so the worker never sends it.
// POST /admin/webhooks/queue/{id}/cancel
func (h *WebhooksAdminHandler) CancelQueueEntry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "Queue entry ID is required")
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "Invalid cancel body: "+err.Error())
			return
		}
	}
	if err := h.store.CancelWebhook(r.Context(), id, req.Reason, h.now().UTC()); err != nil {
		writeStoreError(w, err, "Failed to cancel queue entry")
		return
	}
	log.Info().Str("entry_id", id).Str("reason", req.Reason).Msg("webhook_admin.entry_cancelled")

	entry, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Failed to reload queue entry")
		return
	}
	responders.JSON(w, http.StatusOK, entry)
}

// ListLogs returns the most recent delivery attempts across all orders.
// GET /admin/webhooks/logs?limit=50
func (h *WebhooksAdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	logs, err := h.store.ListDeliveryLogs(r.Context(), limit)
	if err != nil {
		apierrors.WriteCauseError(w, apierrors.ErrCodeDatabaseError, "Failed to list delivery logs", err)
		return
	}
	responders.List(w, "logs", logs)
}

// Drain processes one batch of due entries and reports what happened.
// POST /admin/webhooks/drain
func (h *WebhooksAdminHandler) Drain(w http.ResponseWriter, r *http.Request) {
	if h.drainer == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "Webhook worker is not configured")
		return
	}

	result, err := h.drainer.Drain(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("webhook_admin.drain_failed")
		apierrors.WriteError(w, apierrors.ErrCodeDatabaseError, "Drain did not complete", map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	responders.JSON(w, http.StatusOK, result)
}

type testPingResponse struct {
	PingID         string `json:"pingId"`
	Success        bool   `json:"success"`
	ResponseStatus int    `json:"responseStatus,omitempty"`
	ResponseBody   string `json:"responseBody,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	FailureKind    string `json:"failureKind,omitempty"`
	Error          string `json:"error,omitempty"`
}

// TestDelivery sends a signed ping to the configured destination. The queue and
// the delivery log are not touched, and the receiver's answer is returned as is.
// POST /admin/webhooks/test
func (h *WebhooksAdminHandler) TestDelivery(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "Webhook sender is not configured")
		return
	}

	id, out, err := callbacks.Ping(r.Context(), h.sender, h.settings.Get(r.Context()), SourceAdminTest, h.now())
	if err != nil {
		if errors.Is(err, callbacks.ErrNotConfigured) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeNotConfigured, "Set a destination URL before sending a test webhook")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("ping_id", id).
		Bool("success", out.Success).
		Int("status", out.StatusCode).
		Msg("webhook_admin.test_sent")

	status := http.StatusOK
	if !out.Success {
		status = apierrors.ErrCodeWebhookTestError.HTTPStatus()
	}
	responders.JSON(w, status, testPingResponse{
		PingID:         id,
		Success:        out.Success,
		ResponseStatus: out.StatusCode,
		ResponseBody:   out.ResponseBody,
		ResponseTimeMs: out.Duration.Milliseconds(),
		FailureKind:    string(out.Kind),
		Error:          out.Error,
	})
}

// DiagnoseOrder reconstructs the webhook journey of one order.
// GET /admin/orders/{orderID}/webhook-diagnosis
func (h *WebhooksAdminHandler) DiagnoseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "Order ID is required")
		return
	}

	report, err := h.diagnostics.DiagnoseOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeOrderNotFound, "Order not found", "orderId", orderID)
			return
		}
		apierrors.WriteCauseError(w, apierrors.ErrCodeDatabaseError, "Failed to diagnose order", err)
		return
	}
	responders.JSON(w, http.StatusOK, report)
}

// parseLimit reads ?limit=, writing a 400 and returning false when it is malformed.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return storage.DefaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > storage.MaxListLimit {
		apierrors.WriteFieldError(w, apierrors.ErrCodeInvalidField,
			"Invalid limit parameter. Must be between 1 and "+strconv.Itoa(storage.MaxListLimit), "limit")
		return 0, false
	}
	return limit, true
}

func writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeQueueEntryNotFound, "Queue entry not found")
	case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrAlreadyClaimed):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidTransition, err.Error())
	default:
		apierrors.WriteCauseError(w, apierrors.ErrCodeDatabaseError, message, err)
	}
}
