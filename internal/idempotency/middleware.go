package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/platehaus/storefront/internal/apikey"
	apierrors "github.com/platehaus/storefront/internal/errors"
	"github.com/platehaus/storefront/internal/logger"
)

const (
	// HeaderKey is the standard idempotency key header
	HeaderKey = "Idempotency-Key"

	// HeaderReplay marks a response served from the cache.
	HeaderReplay = "X-Idempotency-Replay"

	// DefaultTTL is the default cache duration for idempotent responses (24 hours)
	DefaultTTL = 24 * time.Hour

	// MaxKeyLength bounds the client-supplied key.
	MaxKeyLength = 255
)

// responseWriter captures the status and body written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) snapshot(now time.Time) *Response {
	headers := make(map[string]string, len(rw.Header()))
	for key := range rw.Header() {
		headers[key] = rw.Header().Get(key)
	}
	return &Response{
		StatusCode: rw.statusCode,
		Headers:    headers,
		Body:       append([]byte(nil), rw.body.Bytes()...),
		CachedAt:   now,
	}
}

// Middleware makes POST routes safe to repeat under the same Idempotency-Key.
// 2xx responses are cached and replayed. A repeat that arrives while the first
// request is still running gets 409. Non-2xx responses release the key.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(rawKey) > MaxKeyLength {
				apierrors.WriteFieldError(w, apierrors.ErrCodeInvalidField, "Idempotency-Key too long", HeaderKey)
				return
			}

			// Scope by role, method and path so keys never collide across endpoints or callers.
			key := string(apikey.GetRole(r)) + ":" + r.Method + ":" + r.URL.Path + ":" + rawKey
			log := logger.FromContext(r.Context())

			state, cached := store.Reserve(r.Context(), key, ttl)
			switch state {
			case StateDone:
				log.Debug().Str("path", r.URL.Path).Msg("idempotency.replay")
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			case StateInFlight:
				log.Info().Str("path", r.URL.Path).Msg("idempotency.in_flight")
				apierrors.WriteSimpleError(w, apierrors.ErrCodeRequestInProgress, "a request with this Idempotency-Key is still being processed")
				return
			}

			rw := &responseWriter{ResponseWriter: w}
			completed := false
			defer func() {
				if !completed {
					store.Abort(r.Context(), key)
				}
			}()

			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				store.Complete(r.Context(), key, rw.snapshot(time.Now()), ttl)
				completed = true
			}
		})
	}
}
