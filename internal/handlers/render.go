package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
)

// RenderRequest is the render call payload
type RenderRequest struct {
	Variables      map[string]interface{} `json:"variables"`
	Language       string                 `json:"language,omitempty"`
	NotificationID string                 `json:"notification_id,omitempty"`
}

// RenderResponse carries the three independently rendered fields
type RenderResponse struct {
	TemplateCode    string `json:"template_code"`
	TemplateVersion int    `json:"template_version"`
	Language        string `json:"language"`
	Subject         string `json:"subject,omitempty"`
	Content         string `json:"content"`
	HTMLContent     string `json:"html_content,omitempty"`
	RenderTimeMS    int64  `json:"render_time_ms"`
}

// RenderTemplate resolves a template and renders it with the supplied bindings
// @Summary Render template
// @Description Resolves the active default for a code and renders subject, content and html_content with the supplied variables. Unbound required variables fail the render; optional variables (underscore-prefixed) do not.
// @Tags render
// @Accept json
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param code path string true "Template code"
// @Param request body RenderRequest true "Variable bindings"
// @Success 200 {object} RenderResponse "Rendered fields"
// @Failure 404 {object} errorResponse "Template not found"
// @Failure 422 {object} errorResponse "Required variables missing"
// @Failure 504 {object} errorResponse "Render budget exhausted"
// @Router /api/templates/{code}/render [post]
func (h *Handlers) RenderTemplate(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	org := organizationID(r)

	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.ValidationError("invalid JSON body: "+err.Error()))
		return
	}

	tmpl, err := h.lookup(r.Context(), org, code, req.Language)
	if err != nil {
		h.writeError(w, err)
		return
	}

	budget := h.config.RenderTimeoutDuration()
	if budget <= 0 {
		budget = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()

	fields, elapsed, err := h.renderer.RenderTemplate(ctx, tmpl, req.Variables, req.NotificationID, org)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &RenderResponse{
		TemplateCode:    tmpl.Code,
		TemplateVersion: tmpl.Version,
		Language:        tmpl.Language,
		Subject:         fields.Subject,
		Content:         fields.Content,
		HTMLContent:     fields.HTMLContent,
		RenderTimeMS:    elapsed.Milliseconds(),
	})
}
