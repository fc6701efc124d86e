package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/alicorn-scan/alicorn/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is the connectivity probe used by the health endpoint. db.DB
// satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves liveness, health, and version endpoints.
type HealthHandler struct {
	db        Pinger
	version   string
	startTime time.Time
	logger    *logging.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db Pinger, version string, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{
		db:        db,
		version:   version,
		startTime: time.Now(),
		logger:    logger.WithComponent("api.health"),
	}
}

// Liveness serves GET /liveness. It only proves the process is serving
// requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Health serves GET /health, including a database connectivity probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	overall := "healthy"
	dbStatus := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithError(err).Warn("database health check failed")
		status = http.StatusServiceUnavailable
		overall = "degraded"
		dbStatus = "unreachable"
	}

	writeJSON(w, status, map[string]any{
		"status":   overall,
		"database": dbStatus,
		"uptime":   time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Version serves GET /version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "alicorn",
		"version": h.version,
	})
}
