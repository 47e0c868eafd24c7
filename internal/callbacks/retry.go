package callbacks

import (
	"time"

	"github.com/platehaus/storefront/internal/storage"
)

// Backoff returns the delay before the next attempt after `attempts` failed ones:
// retryDelay * 2^(attempts-1), capped at max.
func Backoff(retryDelay time.Duration, attempts int, max time.Duration) time.Duration {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempts < 1 {
		attempts = 1
	}

	backoff := retryDelay
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

// attemptTimeout is the hard deadline of one attempt under the current settings.
func attemptTimeout(s *storage.WebhookSettings, fallback time.Duration) time.Duration {
	if fallback <= 0 {
		fallback = DefaultTimeout
	}
	if s == nil || s.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func retryDelay(s *storage.WebhookSettings) time.Duration {
	if s == nil || s.RetryDelaySeconds <= 0 {
		return DefaultRetryDelay
	}
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

func signingSecret(s *storage.WebhookSettings) string {
	if s == nil {
		return ""
	}
	return s.SigningSecret
}

// maxAttemptsFor maps the configured retry count to the number of attempts stored on an entry.
func maxAttemptsFor(s storage.WebhookSettings) int {
	if s.RetryAttempts < 1 {
		return 1
	}
	return s.RetryAttempts
}
