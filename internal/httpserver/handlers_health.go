package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/platehaus/storefront/internal/logger"
	"github.com/platehaus/storefront/internal/storage"
	"github.com/platehaus/storefront/pkg/responders"
)

// health reports liveness plus a storage probe. A failing probe yields 503 "degraded".
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	storageHealthy := h.checkStorage(ctx)

	status := "ok"
	statusCode := http.StatusOK
	if !storageHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":         status,
		"uptime":         now.Sub(serverStartTime).String(),
		"timestamp":      now.UTC(),
		"storageHealthy": storageHealthy,
	}
	if h.cfg != nil {
		response["storageBackend"] = h.cfg.Storage.Backend
		response["workerEnabled"] = h.cfg.Webhooks.WorkerEnabled
		if h.cfg.Server.RoutePrefix != "" {
			response["routePrefix"] = h.cfg.Server.RoutePrefix
		}
	}

	responders.JSON(w, statusCode, response)
}

func (h *handlers) checkStorage(ctx context.Context) bool {
	if h.store == nil {
		return false
	}
	if _, err := h.store.ListWebhooks(ctx, storage.WebhookStatusPending, 1); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("health.storage_probe_failed")
		return false
	}
	return true
}
