package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blogem/nms-gateway/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// OrganizationRepository interface defines organization database operations
type OrganizationRepository interface {
	GetAll(ctx context.Context) ([]models.Organization, error)
	GetByName(ctx context.Context, name string) (*models.Organization, error)
	Create(ctx context.Context, org *models.Organization) error
	Delete(ctx context.Context, name string) error
}

// organizationRepository implements OrganizationRepository interface
type organizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sql.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

// GetAll retrieves all organizations with their networks
func (r *organizationRepository) GetAll(ctx context.Context) ([]models.Organization, error) {
	query := `
		SELECT o.id, o.name, o.is_superuser, o.created_at,
		       COALESCE(GROUP_CONCAT(n.network_id, ','), '')
		FROM organizations o
		LEFT JOIN organization_networks n ON n.organization_id = o.id
		GROUP BY o.id
		ORDER BY o.name ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	orgs := []models.Organization{}
	for rows.Next() {
		var org models.Organization
		var networks string

		if err := rows.Scan(&org.ID, &org.Name, &org.IsSuperuser, &org.CreatedAt, &networks); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.Networks = splitNetworks(networks)

		orgs = append(orgs, org)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organizations: %w", err)
	}

	return orgs, nil
}

// GetByName retrieves an organization by its unique name
func (r *organizationRepository) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	query := `
		SELECT o.id, o.name, o.is_superuser, o.created_at,
		       COALESCE(GROUP_CONCAT(n.network_id, ','), '')
		FROM organizations o
		LEFT JOIN organization_networks n ON n.organization_id = o.id
		WHERE o.name = ?
		GROUP BY o.id
	`

	var org models.Organization
	var networks string

	err := r.db.QueryRowContext(ctx, query, name).Scan(&org.ID, &org.Name, &org.IsSuperuser, &org.CreatedAt, &networks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.Networks = splitNetworks(networks)

	return &org, nil
}

// Create inserts an organization and its networks in one transaction
func (r *organizationRepository) Create(ctx context.Context, org *models.Organization) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO organizations (name, is_superuser, created_at) VALUES (?, ?, ?)",
		org.Name, org.IsSuperuser, org.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get organization ID: %w", err)
	}

	for _, network := range org.Networks {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO organization_networks (organization_id, network_id) VALUES (?, ?)",
			id, network,
		); err != nil {
			return fmt.Errorf("failed to insert network %s: %w", network, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit organization: %w", err)
	}

	org.ID = int(id)
	return nil
}

// Delete removes an organization; its network links cascade
func (r *organizationRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM organizations WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("organization %q: %w", name, ErrNotFound)
	}

	return nil
}

func splitNetworks(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
