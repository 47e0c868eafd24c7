package storefront

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/config"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/storage"
)

const testSecret = "whsec_test_secret"

type capturedRequest struct {
	body      []byte
	signature string
	event     string
	id        string
}

func newTestApp(t *testing.T, destination string, repo orders.Repository) *App {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Webhooks.WorkerEnabled = false
	cfg.Webhooks.Defaults.Enabled = destination != ""
	cfg.Webhooks.Defaults.DestinationURL = destination
	cfg.Webhooks.Defaults.SigningSecret = testSecret
	cfg.Admin.APIKeys = map[string]string{"adm_key": "admin"}

	opts := []Option{
		WithLogger(zerolog.Nop()),
		WithRegisterer(prometheus.NewRegistry()),
	}
	if repo != nil {
		opts = append(opts, WithOrders(repo))
	}

	app, err := NewApp(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewApp_RequiresConfig(t *testing.T) {
	if _, err := NewApp(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewApp_SeedsSettingsAndServesRoutes(t *testing.T) {
	app := newTestApp(t, "https://hooks.example.com/catch/1", nil)

	current := app.Settings.Get(context.Background())
	if current == nil || !current.Configured() {
		t.Fatalf("expected seeded settings, got %+v", current)
	}
	if current.RetryAttempts != 3 || current.TimeoutSeconds != 30 {
		t.Errorf("unexpected defaults %+v", current)
	}
	if app.Stripe != nil {
		t.Error("stripe client must be nil without a secret key")
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks/settings", nil)
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("settings without key: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/webhooks/settings", nil)
	req.Header.Set("X-API-Key", "adm_key")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings with key: expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), testSecret) {
		t.Error("settings response leaked the signing secret")
	}

	// Payment links need stripe.secret_key.
	req = httptest.NewRequest(http.MethodPost, "/admin/orders/o-1/payment-link", nil)
	req.Header.Set("X-API-Key", "adm_key")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("payment link without stripe: expected 500, got %d", rec.Code)
	}
}

func TestApp_MarkPaidDeliversSignedWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []capturedRequest
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, capturedRequest{
			body:      body,
			signature: r.Header.Get(callbacks.HeaderSignature),
			event:     r.Header.Get(callbacks.HeaderEvent),
			id:        r.Header.Get(callbacks.HeaderID),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	repo := orders.NewMemoryRepository()
	repo.PutOrder(orders.Order{
		ID:            "o-42",
		OrderNumber:   "PH-1042",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentStatusUnpaid,
		CustomerEmail: "lifter@example.com",
		CustomerName:  "Sam Lifter",
		OrderItems:    json.RawMessage(`[{"weight":45,"quantity":2,"price":159}]`),
		TotalAmount:   318,
	})

	app := newTestApp(t, receiver.URL, repo)
	ctx := context.Background()

	res, err := app.Payments.MarkPaid(ctx, "o-42", orders.Payment{Method: "bank_transfer", AmountPaid: 318})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !res.Webhook.Success || res.Webhook.EntryID == "" {
		t.Fatalf("expected queued webhook, got %+v", res.Webhook)
	}

	drained, err := app.Worker.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained.Delivered != 1 {
		t.Fatalf("expected 1 delivery, got %+v", drained)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 request, got %d", len(received))
	}
	got := received[0]
	if got.event != string(storage.EventOrderCompleted) {
		t.Errorf("expected event header %q, got %q", storage.EventOrderCompleted, got.event)
	}
	if got.id != res.Webhook.EntryID {
		t.Errorf("expected webhook id %q, got %q", res.Webhook.EntryID, got.id)
	}
	if !callbacks.VerifySignature(testSecret, got.body, got.signature) {
		t.Error("signature did not verify")
	}

	entry, err := app.Store.GetWebhook(ctx, res.Webhook.EntryID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != storage.WebhookStatusCompleted {
		t.Errorf("expected completed entry, got %s", entry.Status)
	}

	logs, err := app.Store.ListDeliveryLogsByEntry(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || !logs[0].Success {
		t.Errorf("expected one successful log, got %+v", logs)
	}
	// /metrics serves the registry the app was built with.
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "storefront_webhooks_enqueued_total") {
		t.Error("metrics output is missing the enqueue counter")
	}
}

func TestApp_UnconfiguredSkipsEnqueue(t *testing.T) {
	repo := orders.NewMemoryRepository()
	repo.PutOrder(orders.Order{ID: "o-1", PaymentStatus: orders.PaymentStatusUnpaid, TotalAmount: 10})

	app := newTestApp(t, "", repo)
	res, err := app.Payments.MarkPaid(context.Background(), "o-1", orders.Payment{AmountPaid: 10})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !res.Webhook.Success || res.Webhook.EntryID != "" {
		t.Errorf("expected a silent skip, got %+v", res.Webhook)
	}
	if res.Order.PaymentStatus != orders.PaymentStatusPaid {
		t.Errorf("payment must be recorded regardless of webhooks, got %q", res.Order.PaymentStatus)
	}

	entries, err := app.Store.ListWebhooks(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty queue, got %d entries", len(entries))
	}
}
