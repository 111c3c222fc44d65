package services

import (
	"github.com/blogem/nms-gateway/audit"
	"github.com/blogem/nms-gateway/config"
	"github.com/blogem/nms-gateway/repositories"
)

// Services holds all service instances
type Services struct {
	Audit        AuditService
	Organization OrganizationService
}

// NewServices creates and initializes all service instances
func NewServices(repos *repositories.Repositories, rules *audit.Ruleset, cfg *config.Config, metrics *AuditMetrics) *Services {
	return &Services{
		Audit:        NewAuditService(repos.Audit, rules, cfg.Audit, metrics),
		Organization: NewOrganizationService(repos.Organization, cfg.Organization.Superuser),
	}
}
