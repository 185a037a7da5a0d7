package handlers

import (
	"net/http"

	"norelock.dev/listenify/bragi/internal/services/system"
	"norelock.dev/listenify/bragi/internal/utils"
)

// HealthHandler handles HTTP requests related to system health.
type HealthHandler struct {
	logger    *utils.Logger
	healthSvc *system.HealthService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(logger *utils.Logger, healthSvc *system.HealthService) *HealthHandler {
	return &HealthHandler{
		logger:    logger.Named("health_handler"),
		healthSvc: healthSvc,
	}
}

// Check reports the last health snapshot. Anything but "up" answers 503.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	health := h.healthSvc.GetHealth()

	statusCode := http.StatusOK
	if health.Status != system.StatusUp {
		statusCode = http.StatusServiceUnavailable
		h.logger.Debug("Reporting unhealthy", "status", health.Status)
	}

	utils.RespondWithJSON(w, statusCode, health)
}
