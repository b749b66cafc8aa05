package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
)

// Statistics handlers

// GetUsageStats returns render outcome statistics over a window
// @Summary Get usage statistics
// @Description Summarizes render outcomes for the organization, optionally filtered by template code. The window defaults to the last 24 hours.
// @Tags statistics
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param code query string false "Filter by template code"
// @Param since query string false "Window start (RFC 3339)"
// @Success 200 {object} storage.UsageStats "Usage statistics"
// @Failure 400 {object} errorResponse "Invalid since parameter"
// @Router /api/stats/usage [get]
func (h *Handlers) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	org := organizationID(r)
	if org == "" {
		h.writeError(w, apperrors.ValidationError("organization_id is required"))
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, apperrors.ValidationError("since must be RFC 3339"))
			return
		}
		since = parsed
	}

	stats, err := h.storage.GetUsageStats(r.Context(), org, r.URL.Query().Get("code"), since)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetCacheStats returns the mirror cache health snapshot
// @Summary Get cache statistics
// @Description Returns the in-process mirror's record counts, observed version, sync and eviction counters
// @Tags statistics
// @Produce json
// @Success 200 {object} cache.MirrorStats "Cache statistics"
// @Failure 404 {object} errorResponse "Cache disabled"
// @Router /api/stats/cache [get]
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		h.writeError(w, apperrors.NotFoundError("cache"))
		return
	}

	writeJSON(w, http.StatusOK, h.mirror.Stats())
}
