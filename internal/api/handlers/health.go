package handlers

import (
	"net/http"

	"github.com/theblitlabs/parity-flsim/internal/monitoring/health"
)

type HealthHandler struct {
	checker *health.HealthChecker
}

// NewHealthHandler serves the checker results. A nil checker always reports OK.
func NewHealthHandler(checker *health.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

type healthResponse struct {
	Status     health.Status            `json:"status"`
	Components []health.ComponentHealth `json:"components"`
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     health.StatusOK,
		Components: []health.ComponentHealth{},
	}
	if h.checker != nil {
		resp.Status = h.checker.Overall()
		resp.Components = h.checker.GetAllHealth()
	}

	status := http.StatusOK
	if resp.Status == health.StatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
