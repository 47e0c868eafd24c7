package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/platehaus/storefront/internal/errors"
	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/products"
	"github.com/platehaus/storefront/pkg/responders"
)

type batchLinksRequest struct {
	OrderIDs []string `json:"orderIds"`
}

type markPaidRequest struct {
	Method            string     `json:"method"`
	AmountPaid        float64    `json:"amountPaid"`
	PaidAt            *time.Time `json:"paidAt"`
	ProviderPaymentID string     `json:"providerPaymentId"`
	ProviderInvoiceID string     `json:"providerInvoiceId"`
}

// listOrders returns recent orders for the back office, optionally by payment status.
// GET /admin/orders?paymentStatus=unpaid&limit=50
func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "orders source is not configured")
		return
	}

	filter := orders.ListFilter{PaymentStatus: r.URL.Query().Get("paymentStatus")}
	switch filter.PaymentStatus {
	case "", orders.PaymentStatusPaid, orders.PaymentStatusUnpaid:
	default:
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidStatus, "unknown payment status", "paymentStatus", filter.PaymentStatus)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			apierrors.WriteFieldError(w, apierrors.ErrCodeInvalidField, "limit must be a positive integer", "limit")
			return
		}
		filter.Limit = limit
	}

	list, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("orders.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to list orders")
		return
	}

	responders.List(w, "orders", list)
}

// createPaymentLink issues a Stripe link for one order and fires payment_link_created.
// POST /admin/orders/{orderID}/payment-link
func (h *handlers) createPaymentLink(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "payment links are not configured")
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if strings.TrimSpace(orderID) == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "orderID is required")
		return
	}

	res, err := h.payments.CreatePaymentLink(r.Context(), orderID, payload.Metadata{})
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().
			Err(err).
			Str("order_id", orderID).
			Msg("orders.payment_link_failed")
		writePaymentError(w, orderID, err)
		return
	}

	responders.JSON(w, http.StatusOK, res)
}

// createPaymentLinks issues links for several orders under one batch ID.
// POST /admin/orders/payment-links
func (h *handlers) createPaymentLinks(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "payment links are not configured")
		return
	}

	var req batchLinksRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if len(req.OrderIDs) == 0 {
		apierrors.WriteFieldError(w, apierrors.ErrCodeMissingField, "orderIds is required", "orderIds")
		return
	}

	batch, err := h.payments.CreatePaymentLinks(r.Context(), req.OrderIDs)
	if err != nil {
		writePaymentError(w, "", err)
		return
	}

	responders.JSON(w, http.StatusOK, batch)
}

// markPaid records a manual payment and fires order_completed.
// POST /admin/orders/{orderID}/mark-paid
func (h *handlers) markPaid(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "payments are not configured")
		return
	}
	orderID := chi.URLParam(r, "orderID")

	var req markPaidRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.AmountPaid < 0 {
		apierrors.WriteFieldError(w, apierrors.ErrCodeInvalidField, "amountPaid must not be negative", "amountPaid")
		return
	}

	// A manual payment without an amount settles the full order total.
	if req.AmountPaid == 0 && h.orders != nil {
		order, err := h.orders.GetOrder(r.Context(), orderID)
		if err != nil {
			writePaymentError(w, orderID, err)
			return
		}
		req.AmountPaid = order.TotalAmount
	}

	payment := orders.Payment{
		Method:            req.Method,
		AmountPaid:        req.AmountPaid,
		ProviderPaymentID: req.ProviderPaymentID,
		ProviderInvoiceID: req.ProviderInvoiceID,
	}
	if req.PaidAt != nil {
		payment.PaidAt = req.PaidAt.UTC()
	}

	res, err := h.payments.MarkPaid(r.Context(), orderID, payment)
	if err != nil {
		writePaymentError(w, orderID, err)
		return
	}

	responders.JSON(w, http.StatusOK, res)
}

// listCatalog returns the plate catalog used to title webhook line items.
// GET /admin/catalog
func (h *handlers) listCatalog(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		responders.List[products.Product](w, "products", nil)
		return
	}

	list, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("catalog.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to list catalog")
		return
	}

	responders.List(w, "products", list)
}
