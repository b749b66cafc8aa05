package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/digitalboi0/Template-man/internal/cache"
	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/config"
	"github.com/digitalboi0/Template-man/internal/redis"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
)

// organizationHeader carries the tenant on every API request
const organizationHeader = "X-Organization-ID"

type Handlers struct {
	storage  storage.Storage
	aside    *cache.ScopedCacheAside
	mirror   *cache.MirrorCache
	versions *cache.VersionCounter
	renderer *templates.Renderer
	redis    *redis.Client
	config   *config.Config
	logger   logging.Logger
}

func New(store storage.Storage, aside *cache.ScopedCacheAside, mirror *cache.MirrorCache, versions *cache.VersionCounter, renderer *templates.Renderer, redisClient *redis.Client, cfg *config.Config) *Handlers {
	return &Handlers{
		storage:  store,
		aside:    aside,
		mirror:   mirror,
		versions: versions,
		renderer: renderer,
		redis:    redisClient,
		config:   cfg,
		logger:   logging.GetGlobalLogger(),
	}
}

// RegisterRoutes attaches all API routes to the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	api.HandleFunc("/templates", h.CreateTemplate).Methods("POST")
	api.HandleFunc("/templates/by-type/{type}", h.ListTemplatesByType).Methods("GET")
	api.HandleFunc("/templates/by-tag/{tag}", h.ListTemplatesByTag).Methods("GET")
	api.HandleFunc("/templates/{code}", h.GetTemplate).Methods("GET")
	api.HandleFunc("/templates/{code}/render", h.RenderTemplate).Methods("POST")
	api.HandleFunc("/templates/{id}/publish", h.PublishTemplate).Methods("POST")
	api.HandleFunc("/templates/{id}/archive", h.ArchiveTemplate).Methods("POST")

	api.HandleFunc("/stats/usage", h.GetUsageStats).Methods("GET")
	api.HandleFunc("/stats/cache", h.GetCacheStats).Methods("GET")

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// organizationID extracts the tenant header; empty values are rejected by
// the layers below as validation errors.
func organizationID(r *http.Request) string {
	return r.Header.Get(organizationHeader)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// writeError maps the error taxonomy onto HTTP status codes. Unknown
// errors are reported as internal without leaking their cause.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		h.logger.Error("unclassified handler error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   string(apperrors.ErrTypeInternal),
			Message: "internal server error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Type {
	case apperrors.ErrTypeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrTypeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrTypeVariableMissing:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrTypeRenderTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.ErrTypeStoreUnavailable, apperrors.ErrTypeCircuitOpen:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorResponse{
		Error:   string(appErr.Type),
		Message: appErr.Message,
		Context: appErr.Context,
	})
}

// lookup resolves one active template through the cache tiers, skipping
// tiers that are not configured.
func (h *Handlers) lookup(ctx context.Context, organizationID, code, language string) (*templates.Template, error) {
	if h.mirror != nil {
		return h.mirror.GetByCode(ctx, organizationID, code, language)
	}
	if h.aside != nil {
		return h.aside.Get(ctx, organizationID, code, language)
	}
	return h.storage.GetActiveTemplate(ctx, organizationID, code, language)
}

// invalidate drops a published or archived template from both cache
// tiers and bumps the shared version counter so peer instances reload.
// Called synchronously before the mutation response is written.
func (h *Handlers) invalidate(ctx context.Context, tmpl *templates.Template) {
	if h.versions != nil {
		if _, err := h.versions.Bump(ctx); err != nil {
			h.logger.Warn("failed to bump cache version counter",
				logging.String("code", tmpl.Code),
				logging.Err(err),
			)
		}
	}

	if h.aside != nil {
		if err := h.aside.Invalidate(ctx, tmpl.OrganizationID, tmpl.Code, tmpl.Language); err != nil {
			h.logger.Warn("failed to invalidate cache-aside entry",
				logging.String("code", tmpl.Code),
				logging.Err(err),
			)
		}
	}

	if h.mirror != nil {
		h.mirror.Invalidate(tmpl.OrganizationID, tmpl.Code, tmpl.Language)
	}
}
