package repositories

import (
	"database/sql"
)

// Repositories struct holds all repository interfaces
type Repositories struct {
	Audit        AuditRepository
	Organization OrganizationRepository
}

// NewRepositories creates and initializes all repositories
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Audit:        NewAuditRepository(db),
		Organization: NewOrganizationRepository(db),
	}
}
