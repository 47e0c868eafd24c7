package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/metrics"
	"github.com/platehaus/storefront/internal/observability"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/payload"
	"github.com/platehaus/storefront/internal/stripe"
)

type fakeLinks struct {
	calls int
	err   error
}

func (f *fakeLinks) CreatePaymentLink(_ context.Context, o orders.Order) (orders.PaymentLink, error) {
	f.calls++
	if f.err != nil {
		return orders.PaymentLink{}, f.err
	}
	return orders.PaymentLink{URL: "https://pay.example/" + o.ID, SessionID: "cs_" + o.ID}, nil
}

type triggerCall struct {
	event   string
	orderID string
	payment payload.PaymentData
	meta    payload.Metadata
}

type fakeTrigger struct {
	calls  []triggerCall
	result callbacks.Result
}

func (f *fakeTrigger) TriggerPaymentLinkWebhook(_ context.Context, orderID string, meta payload.Metadata) callbacks.Result {
	f.calls = append(f.calls, triggerCall{event: "payment_link_created", orderID: orderID, meta: meta})
	return f.result
}

func (f *fakeTrigger) TriggerOrderCompletedWebhook(_ context.Context, orderID string, p payload.PaymentData, meta payload.Metadata) callbacks.Result {
	f.calls = append(f.calls, triggerCall{event: "order_completed", orderID: orderID, payment: p, meta: meta})
	return f.result
}

type recordingPaymentHook struct {
	links []observability.PaymentLinkCreatedEvent
	paid  []observability.OrderPaidEvent
}

func (h *recordingPaymentHook) Name() string { return "recording" }

func (h *recordingPaymentHook) OnPaymentLinkCreated(_ context.Context, e observability.PaymentLinkCreatedEvent) {
	h.links = append(h.links, e)
}

func (h *recordingPaymentHook) OnOrderPaid(_ context.Context, e observability.OrderPaidEvent) {
	h.paid = append(h.paid, e)
}

type fixture struct {
	svc     *Service
	repo    *orders.MemoryRepository
	links   *fakeLinks
	trigger *fakeTrigger
	hook    *recordingPaymentHook
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := orders.NewMemoryRepository()
	repo.PutOrder(orders.Order{ID: "ord-1", OrderNumber: "PH-1001", Status: orders.StatusPending, PaymentStatus: orders.PaymentStatusUnpaid, TotalAmount: 214.97})
	repo.PutOrder(orders.Order{ID: "ord-2", OrderNumber: "PH-1002", Status: orders.StatusPending, PaymentStatus: orders.PaymentStatusUnpaid, TotalAmount: 50})
	repo.PutOrder(orders.Order{ID: "ord-paid", OrderNumber: "PH-1003", Status: orders.StatusConfirmed, PaymentStatus: orders.PaymentStatusPaid, TotalAmount: 10})

	hooks := observability.NewRegistry(zerolog.Nop())
	hook := &recordingPaymentHook{}
	hooks.RegisterPaymentHook(hook)

	f := &fixture{
		repo:    repo,
		links:   &fakeLinks{},
		trigger: &fakeTrigger{result: callbacks.Result{Success: true, EntryID: "entry-1"}},
		hook:    hook,
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.svc = NewService(Options{
		Orders:   repo,
		Links:    f.links,
		Webhooks: f.trigger,
		Hooks:    hooks,
		Metrics:  f.metrics,
		Logger:   zerolog.Nop(),
	})
	f.svc.newID = func() string { return "batch-1" }
	return f
}

func TestCreatePaymentLink(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreatePaymentLink(context.Background(), "ord-1", payload.Metadata{})
	if err != nil {
		t.Fatalf("CreatePaymentLink() error = %v", err)
	}
	if res.PaymentLinkURL != "https://pay.example/ord-1" || !res.Webhook.Success {
		t.Errorf("result = %+v", res)
	}

	stored, _ := f.repo.GetOrder(context.Background(), "ord-1")
	if stored.PaymentLinkURL != res.PaymentLinkURL {
		t.Errorf("stored link = %q, want %q", stored.PaymentLinkURL, res.PaymentLinkURL)
	}

	if len(f.trigger.calls) != 1 {
		t.Fatalf("trigger calls = %d, want 1", len(f.trigger.calls))
	}
	call := f.trigger.calls[0]
	if call.event != "payment_link_created" || call.meta.Source != SourceAdmin || call.meta.CreatedVia != CreatedViaAdmin {
		t.Errorf("trigger call = %+v", call)
	}
	if len(f.hook.links) != 1 || !f.hook.links[0].Success {
		t.Errorf("link events = %+v", f.hook.links)
	}
}

func TestCreatePaymentLink_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		orderID  string
		linkErr  error
		wantErr  error
		wantCall bool
	}{
		{name: "unknown order", orderID: "missing", wantErr: orders.ErrOrderNotFound},
		{name: "already paid", orderID: "ord-paid", wantErr: orders.ErrNotPayable},
		{name: "stripe failure", orderID: "ord-1", linkErr: errors.New("stripe down"), wantCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.links.err = tt.linkErr

			_, err := f.svc.CreatePaymentLink(context.Background(), tt.orderID, payload.Metadata{})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if (f.links.calls > 0) != tt.wantCall {
				t.Errorf("stripe calls = %d", f.links.calls)
			}
			if len(f.trigger.calls) != 0 {
				t.Errorf("webhook triggered on failure: %+v", f.trigger.calls)
			}
			if len(f.hook.links) != 1 || f.hook.links[0].Success {
				t.Errorf("link events = %+v", f.hook.links)
			}
		})
	}
}

func TestCreatePaymentLink_TriggerFailureKeepsLink(t *testing.T) {
	f := newFixture(t)
	f.trigger.result = callbacks.Result{Error: "enqueue webhook: db down"}

	res, err := f.svc.CreatePaymentLink(context.Background(), "ord-1", payload.Metadata{})
	if err != nil {
		t.Fatalf("CreatePaymentLink() error = %v", err)
	}
	if res.Webhook.Success || res.Webhook.Error == "" {
		t.Errorf("webhook result = %+v", res.Webhook)
	}
	stored, _ := f.repo.GetOrder(context.Background(), "ord-1")
	if stored.PaymentLinkURL == "" {
		t.Error("payment link not stored")
	}
}

func TestCreatePaymentLinks_Batch(t *testing.T) {
	f := newFixture(t)

	batch, err := f.svc.CreatePaymentLinks(context.Background(), []string{"ord-1", "ord-paid", "ord-2", "ord-1", " "})
	if err != nil {
		t.Fatalf("CreatePaymentLinks() error = %v", err)
	}
	if batch.BatchID != "batch-1" || batch.Succeeded != 2 || batch.Failed != 1 || len(batch.Results) != 3 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Results[1].Error == "" {
		t.Errorf("paid order result = %+v", batch.Results[1])
	}
	for _, call := range f.trigger.calls {
		if call.meta.CreatedVia != CreatedViaAdminBatch || call.meta.BatchID != "batch-1" {
			t.Errorf("trigger meta = %+v", call.meta)
		}
	}
}

func TestCreatePaymentLinks_TooLarge(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, MaxBatchSize+1)
	if _, err := f.svc.CreatePaymentLinks(context.Background(), ids); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("error = %v, want ErrBatchTooLarge", err)
	}
}

func TestCreatePaymentLink_Disabled(t *testing.T) {
	svc := NewService(Options{Orders: orders.NewMemoryRepository(), Webhooks: &fakeTrigger{}, Logger: zerolog.Nop()})
	if _, err := svc.CreatePaymentLink(context.Background(), "ord-1", payload.Metadata{}); !errors.Is(err, ErrLinksDisabled) {
		t.Fatalf("error = %v, want ErrLinksDisabled", err)
	}
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.MarkPaid(context.Background(), "ord-1", orders.Payment{AmountPaid: 214.97})
	if err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if !res.Order.IsPaid() {
		t.Errorf("order not paid: %+v", res.Order)
	}
	if len(f.trigger.calls) != 1 {
		t.Fatalf("trigger calls = %d", len(f.trigger.calls))
	}
	call := f.trigger.calls[0]
	if call.event != "order_completed" || call.meta.Source != SourceAdmin || call.meta.Trigger != TriggerManual {
		t.Errorf("trigger call = %+v", call)
	}
	if call.payment.Method != TriggerManual || call.payment.PaidAt.IsZero() {
		t.Errorf("payment = %+v", call.payment)
	}
	if len(f.hook.paid) != 1 || f.hook.paid[0].Source != SourceAdmin {
		t.Errorf("paid events = %+v", f.hook.paid)
	}

	if _, err := f.svc.MarkPaid(context.Background(), "ord-1", orders.Payment{}); !errors.Is(err, orders.ErrAlreadyPaid) {
		t.Errorf("second MarkPaid error = %v, want ErrAlreadyPaid", err)
	}
}

func TestHandleStripeEvent(t *testing.T) {
	f := newFixture(t)
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := stripe.WebhookEvent{
		ID:              "evt_1",
		Type:            stripe.EventCheckoutCompleted,
		OrderID:         "ord-1",
		SessionID:       "cs_1",
		PaymentIntentID: "pi_1",
		AmountCents:     21497,
		PaidAt:          paidAt,
		Handled:         true,
	}

	if err := f.svc.HandleStripeEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleStripeEvent() error = %v", err)
	}
	if len(f.trigger.calls) != 1 {
		t.Fatalf("trigger calls = %d", len(f.trigger.calls))
	}
	call := f.trigger.calls[0]
	if call.meta.Source != SourceStripeWebhook || call.meta.Trigger != stripe.EventCheckoutCompleted {
		t.Errorf("meta = %+v", call.meta)
	}
	if call.payment.ProviderPaymentID != "pi_1" || call.payment.AmountPaid != 214.97 || !call.payment.PaidAt.Equal(paidAt) {
		t.Errorf("payment = %+v", call.payment)
	}

	// Stripe redelivers events; the second one must not fire another webhook.
	if err := f.svc.HandleStripeEvent(context.Background(), ev); err != nil {
		t.Fatalf("duplicate HandleStripeEvent() error = %v", err)
	}
	if len(f.trigger.calls) != 1 {
		t.Errorf("duplicate event triggered webhook, calls = %d", len(f.trigger.calls))
	}
	if got := promtest.ToFloat64(f.metrics.StripeEventsTotal.WithLabelValues(stripe.EventCheckoutCompleted, "success")); got != 2 {
		t.Errorf("stripe events success = %v, want 2", got)
	}
}

func TestHandleStripeEvent_IgnoredAndMissingOrder(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.HandleStripeEvent(context.Background(), stripe.WebhookEvent{Type: "customer.created"}); err != nil {
		t.Fatalf("ignored event error = %v", err)
	}
	err := f.svc.HandleStripeEvent(context.Background(), stripe.WebhookEvent{Type: stripe.EventInvoicePaid, OrderID: "missing", Handled: true})
	if !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
	if len(f.trigger.calls) != 0 {
		t.Errorf("trigger calls = %d, want 0", len(f.trigger.calls))
	}
	if got := promtest.ToFloat64(f.metrics.StripeEventsTotal.WithLabelValues(stripe.EventInvoicePaid, "failed")); got != 1 {
		t.Errorf("stripe events failed = %v, want 1", got)
	}
}
