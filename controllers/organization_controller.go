package controllers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/services"
)

// OrganizationController handles organization management requests
type OrganizationController struct {
	services *services.Services
}

// NewOrganizationController creates a new organization controller
func NewOrganizationController(services *services.Services) *OrganizationController {
	return &OrganizationController{
		services: services,
	}
}

// List handles GET /admin/organizations
func (c *OrganizationController) List(w http.ResponseWriter, r *http.Request) {
	orgs, err := c.services.Organization.List(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to list organizations")
		writeError(w, r, http.StatusInternalServerError, "failed to load organizations")
		return
	}

	writeJSON(w, r, http.StatusOK, orgs)
}

// Create handles POST /admin/organizations
func (c *OrganizationController) Create(w http.ResponseWriter, r *http.Request) {
	var form models.OrganizationForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	org, err := c.services.Organization.Create(r.Context(), &form)
	if err != nil {
		var verrs models.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeJSON(w, r, http.StatusBadRequest, models.ErrorResponse{Error: "validation failed", Details: verrs})
		case errors.Is(err, services.ErrOrganizationExists):
			writeError(w, r, http.StatusConflict, err.Error())
		default:
			logging.Ctx(r.Context()).Error().Err(err).Msg("failed to create organization")
			writeError(w, r, http.StatusInternalServerError, "failed to create organization")
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, org)
}

// Delete handles DELETE /admin/organizations/{name}
func (c *OrganizationController) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := c.services.Organization.Delete(r.Context(), name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, services.ErrOrganizationNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrProtectedOrganization):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("organization", name).Msg("failed to delete organization")
		writeError(w, r, http.StatusInternalServerError, "failed to delete organization")
	}
}
