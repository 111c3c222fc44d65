package userctx

import (
	"context"
	"errors"
	"sync"

	"github.com/blogem/nms-gateway/models"
)

// ErrNoOrganization is returned when no organization accessor was attached
// to the context.
var ErrNoOrganization = errors.New("no organization in request context")

// Context key type
type contextKey string

const userEmailKey contextKey = "user_email"
const UserIDKey contextKey = "user_id"
const organizationKey contextKey = "organization"

// OrganizationFunc loads the organization of the current request.
type OrganizationFunc func() (*models.Organization, error)

// SetUserEmail adds user email to request context
func SetUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailKey, email)
}

// GetUserEmail retrieves user email from request context
func GetUserEmail(ctx context.Context) string {
	email, ok := ctx.Value(userEmailKey).(string)
	if !ok {
		return ""
	}
	return email
}

// SetUserID adds user ID to request context
func SetUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// GetUserID retrieves user ID from request context
func GetUserID(ctx context.Context) string {
	if userID := ctx.Value(UserIDKey); userID != nil {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return ""
}

// SetOrganization attaches a lazy organization accessor. load runs at most
// once per context, on the first call to GetOrganization.
func SetOrganization(ctx context.Context, load OrganizationFunc) context.Context {
	return context.WithValue(ctx, organizationKey, OrganizationFunc(sync.OnceValues(load)))
}

// GetOrganization resolves the organization attached by SetOrganization.
func GetOrganization(ctx context.Context) (*models.Organization, error) {
	load, ok := ctx.Value(organizationKey).(OrganizationFunc)
	if !ok || load == nil {
		return nil, ErrNoOrganization
	}
	return load()
}
