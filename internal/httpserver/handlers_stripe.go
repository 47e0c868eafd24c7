package httpserver

import (
	"errors"
	"io"
	"net/http"
	"time"

	apierrors "github.com/platehaus/storefront/internal/errors"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/stripe"
	"github.com/platehaus/storefront/pkg/responders"
)

// maxStripeEventBytes matches Stripe's documented upper bound for event payloads.
const maxStripeEventBytes = 512 << 10

// handleStripeWebhook verifies a Stripe event and marks the referenced order paid.
// Ignored event types and repeat deliveries are acknowledged with 200 so Stripe stops retrying.
func (h *handlers) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	if h.stripe == nil || h.payments == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "stripe is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxStripeEventBytes))
	if err != nil {
		log.Error().Err(err).Msg("stripe.webhook.read_body_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "failed to read request body")
		return
	}

	event, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, stripe.ErrWebhookSecretMissing):
		log.Error().Msg("stripe.webhook.secret_missing")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, err.Error())
		return
	case errors.Is(err, stripe.ErrMissingOrderID):
		// Paid events from other integrations on the same account carry no order.
		log.Warn().Msg("stripe.webhook.missing_order_id")
		responders.JSON(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	case err != nil:
		log.Warn().Err(err).Msg("stripe.webhook.invalid_signature")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "invalid Stripe signature")
		return
	}

	log.Info().
		Str("stripe_event_id", event.ID).
		Str("event_type", event.Type).
		Str("order_id", event.OrderID).
		Msg("stripe.webhook.received")

	if err := h.payments.HandleStripeEvent(r.Context(), event); err != nil {
		log.Error().
			Err(err).
			Str("order_id", event.OrderID).
			Dur("duration", time.Since(start)).
			Msg("stripe.webhook.handle_failed")
		writePaymentError(w, event.OrderID, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"received": true,
		"handled":  event.Handled,
		"type":     event.Type,
	})
}
