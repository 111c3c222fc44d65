package controllers

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/services"
)

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// writeError writes an ErrorResponse with the given status code
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	writeJSON(w, r, statusCode, models.ErrorResponse{Error: message})
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Controllers holds all controller instances
type Controllers struct {
	Auth         *AuthController
	AuditLog     *AuditLogController
	Organization *OrganizationController
	Health       *HealthController
}

// NewControllers creates and initializes all controller instances
func NewControllers(services *services.Services, db Pinger) *Controllers {
	return &Controllers{
		Auth:         NewAuthController(),
		AuditLog:     NewAuditLogController(services),
		Organization: NewOrganizationController(services),
		Health:       NewHealthController(db),
	}
}
