package httpserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/platehaus/storefront/internal/errors"
)

// metricsHandler serves g, or the default registry when g is nil.
func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// adminMetricsAuth guards /metrics with "Authorization: Bearer {key}".
// An empty key leaves the endpoint open so a sidecar scraper needs no secret.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			expected := "Bearer " + apiKey
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "invalid or missing metrics API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
