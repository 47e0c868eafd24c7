package errors

// ErrorCode represents a machine-readable error identifier for the admin back office.
type ErrorCode string

// Validation Errors (Request input validation)
const (
	ErrCodeMissingField     ErrorCode = "missing_field"
	ErrCodeInvalidField     ErrorCode = "invalid_field"
	ErrCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrCodeInvalidStatus    ErrorCode = "invalid_status"
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
)

// Resource/State Errors (Resource not found or in wrong state)
const (
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeOrderNotFound      ErrorCode = "order_not_found"
	ErrCodeQueueEntryNotFound ErrorCode = "queue_entry_not_found"

	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrCodeOrderAlreadyPaid  ErrorCode = "order_already_paid"
	ErrCodeOrderNotPayable   ErrorCode = "order_not_payable"

	ErrCodeRequestInProgress ErrorCode = "request_in_progress" // Same Idempotency-Key still being processed
)

// Auth Errors
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeForbidden    ErrorCode = "forbidden"
)

// External Service Errors (Stripe, webhook destination)
const (
	ErrCodeStripeError      ErrorCode = "stripe_error"
	ErrCodeNetworkError     ErrorCode = "network_error"
	ErrCodeWebhookTestError ErrorCode = "webhook_test_failed"
)

// Webhook pipeline errors
const (
	ErrCodeWebhookTriggerFailed ErrorCode = "webhook_trigger_failed"
	ErrCodeSettingsUpdateFailed ErrorCode = "settings_update_failed"
	ErrCodeNotConfigured        ErrorCode = "webhooks_not_configured"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeNetworkError,
		ErrCodeStripeError,
		ErrCodeWebhookTestError,
		ErrCodeDatabaseError,
		ErrCodeRequestInProgress:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidRequest,
		ErrCodeInvalidStatus,
		ErrCodeInvalidSignature,
		ErrCodeOrderNotPayable:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodeForbidden:
		return 403

	case ErrCodeNotFound,
		ErrCodeOrderNotFound,
		ErrCodeQueueEntryNotFound:
		return 404

	// 409 Conflict - state machine and business rule conflicts
	case ErrCodeInvalidTransition,
		ErrCodeOrderAlreadyPaid,
		ErrCodeNotConfigured,
		ErrCodeRequestInProgress:
		return 409

	// 502 Bad Gateway - External service errors
	case ErrCodeStripeError,
		ErrCodeNetworkError,
		ErrCodeWebhookTestError:
		return 502

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
