package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the envelope every admin and webhook endpoint uses for failures.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the code clients switch on and the message operators read.
type ErrorDetail struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"` // orderId, field, underlying error
}

// NewErrorResponse builds the envelope. Retryable is derived from the code.
func NewErrorResponse(code ErrorCode, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		Retryable: code.IsRetryable(),
		Details:   details,
	}}
}

// Status is the HTTP status this response is written with.
func (e ErrorResponse) Status() int {
	return e.Error.Code.HTTPStatus()
}

// WriteJSON writes the envelope with the status mapped from its code.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(e)
}

// WriteError writes code, message and optional details in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]any) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}

// WriteSimpleError writes an error without details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}

// WriteErrorWithDetail writes an error with a single detail.
func WriteErrorWithDetail(w http.ResponseWriter, code ErrorCode, message string, key string, value any) {
	WriteError(w, code, message, map[string]any{key: value})
}

// WriteFieldError reports a rejected request field under details.field.
func WriteFieldError(w http.ResponseWriter, code ErrorCode, message, field string) {
	WriteErrorWithDetail(w, code, message, "field", field)
}

// WriteCauseError reports a backend failure with the underlying error under details.error.
// A nil cause writes no details.
func WriteCauseError(w http.ResponseWriter, code ErrorCode, message string, cause error) {
	if cause == nil {
		WriteSimpleError(w, code, message)
		return
	}
	WriteErrorWithDetail(w, code, message, "error", cause.Error())
}
