package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/services"
	"github.com/blogem/nms-gateway/userctx"
)

// AuditLogController serves the audit log
type AuditLogController struct {
	services *services.Services
}

// NewAuditLogController creates a new audit log controller
func NewAuditLogController(services *services.Services) *AuditLogController {
	return &AuditLogController{
		services: services,
	}
}

// List handles GET /admin/audit_log
// Callers see their own organization's entries; superusers may pass
// ?organization= to narrow the listing, or omit it to see everything.
func (c *AuditLogController) List(w http.ResponseWriter, r *http.Request) {
	org, err := userctx.GetOrganization(r.Context())
	if err != nil {
		writeError(w, r, http.StatusForbidden, "organization not found")
		return
	}

	query := r.URL.Query()
	filter := models.AuditLogFilter{
		ObjectType:   query.Get("object_type"),
		MutationType: models.MutationType(strings.ToUpper(query.Get("mutation_type"))),
	}
	if filter.MutationType != "" && !filter.MutationType.Valid() {
		writeError(w, r, http.StatusBadRequest, "mutation_type must be CREATE, UPDATE or DELETE")
		return
	}

	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid offset")
		return
	}

	if org.IsSuperuser {
		filter.Organization = query.Get("organization")
	} else {
		filter.Organization = org.Name
	}

	page, err := c.services.Audit.List(r.Context(), filter)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to list audit log")
		writeError(w, r, http.StatusInternalServerError, "failed to load audit log")
		return
	}

	writeJSON(w, r, http.StatusOK, page)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
