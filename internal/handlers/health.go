package handlers

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks"`
}

// HealthCheck reports service health
// @Summary Health check
// @Description Reports database, cache store and mirror health. Degraded cache tiers do not fail the check; reads fall back to the authoritative store.
// @Tags health
// @Produce json
// @Success 200 {object} healthResponse "Service healthy"
// @Failure 503 {object} healthResponse "Authoritative store unreachable"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]interface{})
	status := "healthy"
	code := http.StatusOK

	if err := h.storage.Health(); err != nil {
		// The store is authoritative; without it the service cannot
		// serve uncached reads or any writes.
		checks["database"] = map[string]string{"status": "unhealthy", "detail": err.Error()}
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		checks["database"] = map[string]string{"status": "healthy"}
	}

	if h.redis != nil {
		store := h.redis.HealthCheck(r.Context())
		checks["cache_store"] = store
		if store.Status != "healthy" && status == "healthy" {
			status = "degraded"
		}
	}

	if h.mirror != nil {
		checks["mirror"] = h.mirror.Stats()
	}

	writeJSON(w, code, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}
