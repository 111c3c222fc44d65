package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/repositories"
)

var (
	ErrOrganizationNotFound  = errors.New("organization not found")
	ErrOrganizationExists    = errors.New("organization already exists")
	ErrNetworkForbidden      = errors.New("network not accessible to organization")
	ErrProtectedOrganization = errors.New("the superuser organization cannot be deleted")
)

// OrganizationService interface defines organization business logic
type OrganizationService interface {
	GetByName(ctx context.Context, name string) (*models.Organization, error)
	List(ctx context.Context) ([]models.Organization, error)
	Create(ctx context.Context, form *models.OrganizationForm) (*models.Organization, error)
	Delete(ctx context.Context, name string) error
	// EnsureSuperuser creates the configured superuser organization when it
	// does not exist yet.
	EnsureSuperuser(ctx context.Context) error
	// CheckNetworkAccess returns ErrNetworkForbidden when org may not reach
	// networkID.
	CheckNetworkAccess(org *models.Organization, networkID string) error
}

// organizationService implements OrganizationService interface
type organizationService struct {
	repo      repositories.OrganizationRepository
	superuser string
}

// NewOrganizationService creates a new organization service. superuser names
// the organization that may see every network.
func NewOrganizationService(repo repositories.OrganizationRepository, superuser string) OrganizationService {
	return &organizationService{repo: repo, superuser: superuser}
}

// GetByName retrieves an organization by name
func (s *organizationService) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrOrganizationNotFound
	}

	org, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load organization %s: %w", name, err)
	}
	return org, nil
}

// List retrieves all organizations
func (s *organizationService) List(ctx context.Context) ([]models.Organization, error) {
	return s.repo.GetAll(ctx)
}

// Create creates a new organization with validation
func (s *organizationService) Create(ctx context.Context, form *models.OrganizationForm) (*models.Organization, error) {
	if errs := form.Validate(); errs.HasErrors() {
		return nil, errs
	}

	name := strings.TrimSpace(form.Name)
	if _, err := s.repo.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationExists, name)
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to check organization %s: %w", name, err)
	}

	networks := form.Networks
	if networks == nil {
		networks = []string{}
	}
	org := &models.Organization{
		Name:        name,
		Networks:    networks,
		IsSuperuser: form.IsSuperuser,
	}

	if err := s.repo.Create(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	logging.Info().Str("organization", org.Name).Strs("networks", org.Networks).Msg("organization created")
	return org, nil
}

// Delete removes an organization
func (s *organizationService) Delete(ctx context.Context, name string) error {
	if name == s.superuser {
		return ErrProtectedOrganization
	}

	err := s.repo.Delete(ctx, name)
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrOrganizationNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	logging.Info().Str("organization", name).Msg("organization deleted")
	return nil
}

// EnsureSuperuser creates the superuser organization if missing
func (s *organizationService) EnsureSuperuser(ctx context.Context) error {
	_, err := s.repo.GetByName(ctx, s.superuser)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to load superuser organization: %w", err)
	}

	org := &models.Organization{Name: s.superuser, Networks: []string{}, IsSuperuser: true}
	if err := s.repo.Create(ctx, org); err != nil {
		return fmt.Errorf("failed to create superuser organization: %w", err)
	}

	logging.Info().Str("organization", s.superuser).Msg("superuser organization created")
	return nil
}

// CheckNetworkAccess validates that org owns networkID
func (s *organizationService) CheckNetworkAccess(org *models.Organization, networkID string) error {
	if org == nil {
		return fmt.Errorf("%w: %s", ErrNetworkForbidden, networkID)
	}
	if !org.HasNetwork(networkID) {
		return fmt.Errorf("%w: %s not in %s", ErrNetworkForbidden, networkID, org.Name)
	}
	return nil
}
