package httphandlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/platehaus/storefront/internal/callbacks"
	"github.com/platehaus/storefront/internal/diagnostics"
	"github.com/platehaus/storefront/internal/orders"
	"github.com/platehaus/storefront/internal/settings"
	"github.com/platehaus/storefront/internal/storage"
)

type fakeDrainer struct {
	result callbacks.DrainResult
	err    error
	calls  int
}

func (f *fakeDrainer) Drain(context.Context) (callbacks.DrainResult, error) {
	f.calls++
	return f.result, f.err
}

type adminFixture struct {
	store    *storage.MemoryStore
	orders   *orders.MemoryRepository
	settings *settings.Provider
	drainer  *fakeDrainer
	router   chi.Router
}

func newAdminFixture(t *testing.T, seed *storage.WebhookSettings) *adminFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	provider := settings.NewProvider(store, zerolog.Nop())
	if seed != nil {
		if !provider.EnsureDefaults(context.Background(), *seed) {
			t.Fatal("seed settings")
		}
	}
	repo := orders.NewMemoryRepository()
	drainer := &fakeDrainer{}
	diag := diagnostics.NewService(repo, store, provider, zerolog.Nop())

	h := NewWebhooksAdminHandler(store, provider, drainer, callbacks.NewSender("test-agent"), diag)

	r := chi.NewRouter()
	r.Get("/admin/webhooks/settings", h.GetSettings)
	r.Put("/admin/webhooks/settings", h.UpdateSettings)
	r.Get("/admin/webhooks/queue", h.ListQueue)
	r.Get("/admin/webhooks/queue/{id}", h.GetQueueEntry)
	r.Post("/admin/webhooks/queue/{id}/cancel", h.CancelQueueEntry)
	r.Get("/admin/webhooks/logs", h.ListLogs)
	r.Post("/admin/webhooks/drain", h.Drain)
	r.Post("/admin/webhooks/test", h.TestDelivery)
	r.Get("/admin/orders/{orderID}/webhook-diagnosis", h.DiagnoseOrder)

	return &adminFixture{store: store, orders: repo, settings: provider, drainer: drainer, router: r}
}

func (f *adminFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	return resp.Error.Code
}

func (f *adminFixture) enqueue(t *testing.T, orderID string) storage.QueueEntry {
	t.Helper()
	entry, err := f.store.EnqueueWebhook(context.Background(), storage.EnqueueRequest{
		OrderID:        orderID,
		DestinationURL: "https://hooks.example.com/catch/123",
		Payload:        []byte(`{"eventType":"payment_link_created"}`),
		EventType:      storage.EventPaymentLinkCreated,
		MaxAttempts:    3,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return entry
}

func TestGetSettings_HidesSecret(t *testing.T) {
	f := newAdminFixture(t, &storage.WebhookSettings{
		Enabled:        true,
		DestinationURL: "https://hooks.example.com/catch/123/abc?token=secret",
		SigningSecret:  "whsec_live",
		TimeoutSeconds: 10,
	})

	rec := f.do(t, http.MethodGet, "/admin/webhooks/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "whsec_live") || strings.Contains(rec.Body.String(), "token=secret") {
		t.Fatalf("response leaks secret material: %s", rec.Body.String())
	}

	var resp struct {
		Configured bool                      `json:"configured"`
		Settings   diagnostics.SettingsView `json:"settings"`
	}
	decodeBody(t, rec, &resp)
	if !resp.Configured || !resp.Settings.HasSecret || resp.Settings.TimeoutSeconds != 10 {
		t.Errorf("unexpected settings response: %+v", resp)
	}
}

func TestGetSettings_Missing(t *testing.T) {
	f := newAdminFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/admin/webhooks/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]interface{}
	decodeBody(t, rec, &resp)
	if resp["configured"] != false || resp["settings"] != nil {
		t.Errorf("resp = %v, want unconfigured", resp)
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newAdminFixture(t, &storage.WebhookSettings{TimeoutSeconds: 30, RetryAttempts: 3})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "empty body", body: `{}`, wantCode: http.StatusBadRequest, wantErr: "missing_field"},
		{name: "unknown field", body: `{"colour":"red"}`, wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{name: "negative timeout", body: `{"timeoutSeconds":-1}`, wantCode: http.StatusBadRequest, wantErr: "invalid_field"},
		{name: "enable", body: `{"enabled":true,"destinationUrl":"https://hooks.example.com/x","retryAttempts":5}`, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/admin/webhooks/settings", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				if got := errorCode(t, rec); got != tt.wantErr {
					t.Errorf("error code = %q, want %q", got, tt.wantErr)
				}
			}
		})
	}

	got := f.settings.Get(context.Background())
	if got == nil || !got.Enabled || got.RetryAttempts != 5 || got.TimeoutSeconds != 30 {
		t.Errorf("stored settings = %+v", got)
	}
}

func TestListQueue(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.enqueue(t, "ord-1")
	f.enqueue(t, "ord-2")

	rec := f.do(t, http.MethodGet, "/admin/webhooks/queue?status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Entries []storage.QueueEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 || len(resp.Entries) != 2 {
		t.Errorf("count = %d, entries = %d, want 2", resp.Count, len(resp.Entries))
	}

	for _, path := range []string{
		"/admin/webhooks/queue?status=success",
		"/admin/webhooks/queue?limit=0",
		"/admin/webhooks/queue?limit=abc",
	} {
		if rec := f.do(t, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestGetQueueEntry(t *testing.T) {
	f := newAdminFixture(t, nil)
	entry := f.enqueue(t, "ord-1")
	if err := f.store.AppendDeliveryLog(context.Background(), storage.DeliveryLogEntry{
		QueueEntryID: entry.ID,
		OrderID:      "ord-1",
		EventType:    storage.EventPaymentLinkCreated,
		ErrorMessage: "receiver returned HTTP 500",
	}); err != nil {
		t.Fatalf("append log: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/admin/webhooks/queue/"+entry.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Entry storage.QueueEntry         `json:"entry"`
		Logs  []storage.DeliveryLogEntry `json:"logs"`
	}
	decodeBody(t, rec, &resp)
	if resp.Entry.ID != entry.ID || len(resp.Logs) != 1 {
		t.Errorf("resp = %+v", resp)
	}

	rec = f.do(t, http.MethodGet, "/admin/webhooks/queue/missing", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "queue_entry_not_found" {
		t.Errorf("missing entry: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCancelQueueEntry(t *testing.T) {
	f := newAdminFixture(t, nil)
	entry := f.enqueue(t, "ord-1")

	rec := f.do(t, http.MethodPost, "/admin/webhooks/queue/"+entry.ID+"/cancel", `{"reason":"duplicate order"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got storage.QueueEntry
	decodeBody(t, rec, &got)
	if got.Status != storage.WebhookStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "duplicate order") {
		t.Errorf("error message = %q", got.ErrorMessage)
	}

	// A terminal entry cannot be cancelled again.
	rec = f.do(t, http.MethodPost, "/admin/webhooks/queue/"+entry.ID+"/cancel", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_transition" {
		t.Errorf("second cancel: status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestListLogs(t *testing.T) {
	f := newAdminFixture(t, nil)
	for i := 0; i < 3; i++ {
		if err := f.store.AppendDeliveryLog(context.Background(), storage.DeliveryLogEntry{OrderID: "ord-1", Success: i == 2}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rec := f.do(t, http.MethodGet, "/admin/webhooks/logs?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestDrain(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.drainer.result = callbacks.DrainResult{Due: 2, Delivered: 1, Retried: 1}

	rec := f.do(t, http.MethodPost, "/admin/webhooks/drain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got callbacks.DrainResult
	decodeBody(t, rec, &got)
	if got != f.drainer.result {
		t.Errorf("result = %+v, want %+v", got, f.drainer.result)
	}

	f.drainer.err = errors.New("db down")
	rec = f.do(t, http.MethodPost, "/admin/webhooks/drain", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failing drain status = %d, want 500", rec.Code)
	}
	if f.drainer.calls != 2 {
		t.Errorf("drain calls = %d, want 2", f.drainer.calls)
	}
}

func TestTestDelivery(t *testing.T) {
	var gotSignature, gotEvent string
	var gotBody []byte
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(callbacks.HeaderSignature)
		gotEvent = r.Header.Get(callbacks.HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))
	defer receiver.Close()

	f := newAdminFixture(t, &storage.WebhookSettings{
		DestinationURL: receiver.URL,
		SigningSecret:  "whsec_test",
		TimeoutSeconds: 5,
	})

	rec := f.do(t, http.MethodPost, "/admin/webhooks/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp testPingResponse
	decodeBody(t, rec, &resp)
	if !resp.Success || resp.ResponseStatus != http.StatusAccepted || resp.ResponseBody != "ok" {
		t.Errorf("resp = %+v", resp)
	}
	if gotEvent != callbacks.EventTest {
		t.Errorf("event header = %q", gotEvent)
	}
	if !callbacks.VerifySignature("whsec_test", gotBody, gotSignature) {
		t.Errorf("signature %q does not verify", gotSignature)
	}

	entries, _ := f.store.ListWebhooks(context.Background(), "", 10)
	logs, _ := f.store.ListDeliveryLogs(context.Background(), 10)
	if len(entries) != 0 || len(logs) != 0 {
		t.Errorf("test ping touched the queue: %d entries, %d logs", len(entries), len(logs))
	}
}

func TestTestDelivery_ReceiverError(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer receiver.Close()

	f := newAdminFixture(t, &storage.WebhookSettings{DestinationURL: receiver.URL, TimeoutSeconds: 5})

	rec := f.do(t, http.MethodPost, "/admin/webhooks/test", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp testPingResponse
	decodeBody(t, rec, &resp)
	if resp.Success || resp.ResponseStatus != http.StatusInternalServerError || resp.FailureKind != string(callbacks.FailureHTTPStatus) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTestDelivery_NotConfigured(t *testing.T) {
	f := newAdminFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/admin/webhooks/test", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "webhooks_not_configured" {
		t.Errorf("status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestDiagnoseOrder(t *testing.T) {
	f := newAdminFixture(t, &storage.WebhookSettings{Enabled: true, DestinationURL: "https://hooks.example.com/x"})
	f.orders.PutOrder(orders.Order{
		ID:             "ord-1",
		OrderNumber:    "ORD-1",
		CustomerEmail:  "lifter@example.com",
		PaymentStatus:  orders.PaymentStatusUnpaid,
		PaymentLinkURL: "https://checkout.stripe.com/c/pay/cs_1",
		CreatedAt:      time.Now(),
	})
	f.enqueue(t, "ord-1")

	rec := f.do(t, http.MethodGet, "/admin/orders/ord-1/webhook-diagnosis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report diagnostics.Report
	decodeBody(t, rec, &report)
	if report.DiagnosisCode != diagnostics.CodeNotProcessed || report.Diagnosis != "queued but never processed by worker" {
		t.Errorf("diagnosis = %s / %q", report.DiagnosisCode, report.Diagnosis)
	}

	rec = f.do(t, http.MethodGet, "/admin/orders/missing/webhook-diagnosis", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "order_not_found" {
		t.Errorf("missing order: status = %d body %s", rec.Code, rec.Body.String())
	}
}
