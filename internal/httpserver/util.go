package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/platehaus/storefront/internal/circuitbreaker"
	apierrors "github.com/platehaus/storefront/internal/errors"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payments"
	"github.com/platehaus/storefront/internal/stripe"
)

// maxRequestBody caps admin JSON bodies.
const maxRequestBody = 1 << 20

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding. An empty body leaves dest untouched.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(io.LimitReader(r, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writePaymentError maps order and payment failures onto the error envelope.
func writePaymentError(w http.ResponseWriter, orderID string, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeOrderNotFound, "order not found", "orderId", orderID)
	case errors.Is(err, orders.ErrNotPayable):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeOrderNotPayable, "order is paid or cancelled", "orderId", orderID)
	case errors.Is(err, orders.ErrAlreadyPaid):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeOrderAlreadyPaid, "order already paid", "orderId", orderID)
	case errors.Is(err, payments.ErrLinksDisabled):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "payment links are not configured")
	case errors.Is(err, payments.ErrBatchTooLarge):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, err.Error(), "maxBatchSize", payments.MaxBatchSize)
	case errors.Is(err, stripe.ErrInvalidAmount):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, err.Error(), "orderId", orderID)
	case errors.Is(err, stripe.ErrCheckoutFailed), circuitbreaker.IsOpen(err):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, err.Error())
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to update order")
	}
}
