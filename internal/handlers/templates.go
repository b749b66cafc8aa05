package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/common/pagination"
	"github.com/digitalboi0/Template-man/internal/templates"
)

// Template management handlers

// ListTemplates returns the organization's active default templates
// @Summary List templates
// @Description Returns the organization's active default templates as a paginated list
// @Tags templates
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param page query int false "Page number (default 1)"
// @Param per_page query int false "Page size (default 20, max 100)"
// @Success 200 {object} pagination.Response[templates.Template] "Active templates"
// @Failure 400 {object} errorResponse "Missing organization"
// @Router /api/templates [get]
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	org := organizationID(r)
	params := pagination.ParseParams(r)

	var result []*templates.Template
	var err error

	if h.mirror != nil {
		result, err = h.mirror.GetAll(org)
	} else {
		if org == "" {
			h.writeError(w, apperrors.ValidationError("organization_id is required"))
			return
		}
		result, err = h.storage.ListActiveTemplates(r.Context(), org)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.Paginate(result, params))
}

// GetTemplate returns one active template by code
// @Summary Get template
// @Description Resolves the active default for a code, falling back to English when the requested language has no variant
// @Tags templates
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param code path string true "Template code"
// @Param language query string false "Language code (default en)"
// @Success 200 {object} templates.Template "Active template"
// @Failure 404 {object} errorResponse "Template not found"
// @Router /api/templates/{code} [get]
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	code := vars["code"]
	language := r.URL.Query().Get("language")

	tmpl, err := h.lookup(r.Context(), organizationID(r), code, language)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tmpl)
}

// ListTemplatesByType returns active templates of one channel type
// @Summary List templates by type
// @Tags templates
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param type path string true "Template type: email, push or sms"
// @Success 200 {array} templates.Template "Active templates"
// @Failure 400 {object} errorResponse "Invalid type"
// @Router /api/templates/by-type/{type} [get]
func (h *Handlers) ListTemplatesByType(w http.ResponseWriter, r *http.Request) {
	templateType := templates.Type(mux.Vars(r)["type"])
	if !templateType.Valid() {
		h.writeError(w, apperrors.ValidationError("invalid template type: "+string(templateType)))
		return
	}

	org := organizationID(r)

	if h.mirror != nil {
		result, err := h.mirror.GetByType(org, templateType)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if org == "" {
		h.writeError(w, apperrors.ValidationError("organization_id is required"))
		return
	}

	result, err := h.storage.ListTemplatesByType(r.Context(), org, templateType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListTemplatesByTag returns active templates carrying a tag
// @Summary List templates by tag
// @Tags templates
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param tag path string true "Tag"
// @Success 200 {array} templates.Template "Active templates"
// @Router /api/templates/by-tag/{tag} [get]
func (h *Handlers) ListTemplatesByTag(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]
	org := organizationID(r)

	if h.mirror != nil {
		result, err := h.mirror.GetByTag(org, tag)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if org == "" {
		h.writeError(w, apperrors.ValidationError("organization_id is required"))
		return
	}

	result, err := h.storage.ListTemplatesByTag(r.Context(), org, tag)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateTemplate creates a new draft version
// @Summary Create template
// @Description Creates a new draft version of a template; the version number is assigned automatically
// @Tags templates
// @Accept json
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param template body templates.Template true "Template"
// @Success 201 {object} templates.Template "Created draft"
// @Failure 400 {object} errorResponse "Invalid template"
// @Router /api/templates [post]
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl templates.Template
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		h.writeError(w, apperrors.ValidationError("invalid JSON body: "+err.Error()))
		return
	}

	// The header is authoritative for the tenant; the body cannot
	// create templates for another organization.
	tmpl.OrganizationID = organizationID(r)

	if err := h.storage.CreateTemplate(r.Context(), &tmpl); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("template draft created",
		logging.String("organization_id", tmpl.OrganizationID),
		logging.String("code", tmpl.Code),
		logging.Int("version", tmpl.Version),
	)

	writeJSON(w, http.StatusCreated, &tmpl)
}

// PublishTemplate activates a draft version as the new default
// @Summary Publish template
// @Description Activates a version; the previous default for the same code and language is demoted in the same transaction. Both cache tiers are invalidated before the response is written.
// @Tags templates
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param id path string true "Template version ID"
// @Success 200 {object} templates.Template "Activated template"
// @Failure 404 {object} errorResponse "Version not found"
// @Router /api/templates/{id}/publish [post]
func (h *Handlers) PublishTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, apperrors.ValidationError("invalid template id"))
		return
	}

	tmpl, err := h.storage.ActivateTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.invalidate(r.Context(), tmpl)

	h.logger.Info("template published",
		logging.String("organization_id", tmpl.OrganizationID),
		logging.String("code", tmpl.Code),
		logging.String("language", tmpl.Language),
		logging.Int("version", tmpl.Version),
	)

	writeJSON(w, http.StatusOK, tmpl)
}

// ArchiveTemplate retires a template version
// @Summary Archive template
// @Description Archives a version. Archiving the only active default of a code is rejected; activate a replacement first.
// @Tags templates
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param id path string true "Template version ID"
// @Success 200 {object} templates.Template "Archived template"
// @Failure 400 {object} errorResponse "Last active default"
// @Failure 404 {object} errorResponse "Version not found"
// @Router /api/templates/{id}/archive [post]
func (h *Handlers) ArchiveTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, apperrors.ValidationError("invalid template id"))
		return
	}

	tmpl, err := h.storage.ArchiveTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.invalidate(r.Context(), tmpl)

	h.logger.Info("template archived",
		logging.String("organization_id", tmpl.OrganizationID),
		logging.String("code", tmpl.Code),
		logging.Int("version", tmpl.Version),
	)

	writeJSON(w, http.StatusOK, tmpl)
}
