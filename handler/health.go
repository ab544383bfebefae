package handler

import (
	"net/http"
	"time"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/infra/response"
	"github.com/tahsilat/sanalpos/store"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store     *store.SQLiteStore
	registry  *gateway.Registry
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store *store.SQLiteStore, registry *gateway.Registry) *HealthHandler {
	return &HealthHandler{
		store:     store,
		registry:  registry,
		startTime: time.Now(),
	}
}

// Health reports process and storage health plus the registered
// gateway types.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	dbStats, err := h.store.GetStats()
	if err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		dbStats = map[string]any{"error": "storage unavailable"}
	}

	types := h.registry.RegisteredTypes()
	gateways := make([]string, 0, len(types))
	for _, t := range types {
		gateways = append(gateways, string(t))
	}

	response.Success(w, httpStatus, "Health check", map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"database":  dbStats,
		"gateways":  gateways,
	})
}

// Liveness is the bare process check for orchestrators.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "alive", nil)
}
