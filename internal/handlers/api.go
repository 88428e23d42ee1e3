package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/models"
)

// QueueDepther reports the queue backlog for health checks
type QueueDepther interface {
	Depths(ctx context.Context) map[models.Domain]int
}

type APIHandler struct {
	queues QueueDepther
	logger arbor.ILogger
}

func NewAPIHandler(queues QueueDepther, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		queues: queues,
		logger: logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"full":    common.GetFullVersion(),
	})
}

// HealthHandler returns health check status with the queue backlog
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":     "ok",
		"goroutines": common.GetGoroutineCount(),
	}
	if h.queues != nil {
		depths := make(map[string]int)
		for domain, n := range h.queues.Depths(r.Context()) {
			depths[string(domain)] = n
		}
		body["queues"] = depths
	}
	WriteJSON(w, http.StatusOK, body)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
