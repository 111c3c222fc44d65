package models

import (
	"regexp"
	"strings"
	"time"
)

// Organization is a tenant. It owns a set of orchestrator networks.
type Organization struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Networks    []string  `json:"networks" db:"networks"`
	IsSuperuser bool      `json:"is_superuser" db:"is_superuser"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasNetwork reports whether networkID belongs to the organization.
// Superuser organizations can reach every network.
func (o *Organization) HasNetwork(networkID string) bool {
	if o.IsSuperuser {
		return true
	}
	for _, n := range o.Networks {
		if n == networkID {
			return true
		}
	}
	return false
}

// OrganizationForm represents the payload for creating an organization
type OrganizationForm struct {
	Name        string   `json:"name"`
	Networks    []string `json:"networks"`
	IsSuperuser bool     `json:"is_superuser"`
}

var organizationNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Validate validates the organization form data
func (f *OrganizationForm) Validate() ValidationErrors {
	var errs ValidationErrors

	name := strings.TrimSpace(f.Name)
	if name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "Name is required"})
	} else {
		if len(name) > 63 {
			errs = append(errs, ValidationError{Field: "name", Message: "Name must be at most 63 characters"})
		}
		if !organizationNamePattern.MatchString(name) {
			errs = append(errs, ValidationError{Field: "name", Message: "Name must be lowercase letters, digits and dashes"})
		}
	}

	seen := make(map[string]bool, len(f.Networks))
	for _, n := range f.Networks {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, ValidationError{Field: "networks", Message: "Network IDs must not be empty"})
			continue
		}
		if seen[n] {
			errs = append(errs, ValidationError{Field: "networks", Message: "Duplicate network " + n})
		}
		seen[n] = true
	}

	return errs
}
