package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		status    int
		retryable bool
	}{
		{ErrCodeInvalidField, http.StatusBadRequest, false},
		{ErrCodeUnauthorized, http.StatusUnauthorized, false},
		{ErrCodeForbidden, http.StatusForbidden, false},
		{ErrCodeOrderNotFound, http.StatusNotFound, false},
		{ErrCodeQueueEntryNotFound, http.StatusNotFound, false},
		{ErrCodeInvalidTransition, http.StatusConflict, false},
		{ErrCodeRequestInProgress, http.StatusConflict, true},
		{ErrCodeStripeError, http.StatusBadGateway, true},
		{ErrCodeSettingsUpdateFailed, http.StatusInternalServerError, false},
		{ErrCodeWebhookTriggerFailed, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
			if got := tt.code.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestWriteErrorWithDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetail(rec, ErrCodeQueueEntryNotFound, "queue entry not found", "id", "abc")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Code != ErrCodeQueueEntryNotFound || resp.Error.Details["id"] != "abc" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestWriteCauseError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCauseError(rec, ErrCodeDatabaseError, "failed to list webhooks", errors.New("connection refused"))

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Details["error"] != "connection refused" {
		t.Errorf("expected cause in details, got %+v", resp.Error.Details)
	}
	if rec.Code != resp.Status() {
		t.Errorf("status = %d, want %d", rec.Code, resp.Status())
	}

	rec = httptest.NewRecorder()
	WriteCauseError(rec, ErrCodeDatabaseError, "failed", nil)
	resp = ErrorResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Details != nil {
		t.Errorf("nil cause must not add details, got %+v", resp.Error.Details)
	}
}

func TestWriteFieldError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteFieldError(rec, ErrCodeMissingField, "orderIds is required", "orderIds")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Details["field"] != "orderIds" || resp.Error.Retryable {
		t.Errorf("unexpected body: %+v", resp)
	}
}
