package middleware

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"gitea.com/go-chi/session"

	"github.com/blogem/nms-gateway/audit"
	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/services"
	"github.com/blogem/nms-gateway/userctx"
)

// ErrNoSessionOrganization is returned by the organization accessor of a
// signed-in user whose session names no organization.
var ErrNoSessionOrganization = errors.New("signed-in user has no organization")

// OrganizationResolver attaches a lazy organization accessor to the request
// context. A signed-in user belongs to the organization stored in their
// session and to nothing else; the Host header is never consulted for them.
// Anonymous requests, which only get past authentication when it is
// disabled, use the first label of a multi-label Host, else defaultName.
// An empty defaultName leaves them without an organization. Lookup happens
// on first use only.
func OrganizationResolver(orgs services.OrganizationService, defaultName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			name, err := organizationName(r, defaultName)

			ctx = userctx.SetOrganization(ctx, func() (*models.Organization, error) {
				if err != nil {
					return nil, err
				}
				return orgs.GetByName(ctx, name)
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func organizationName(r *http.Request, defaultName string) (string, error) {
	if sess := session.GetSession(r); sess != nil {
		if name, ok := sess.Get(SessionOrganization).(string); ok && name != "" {
			return name, nil
		}
		if userID, ok := sess.Get(SessionUserID).(string); ok && userID != "" {
			return "", ErrNoSessionOrganization
		}
	}
	if name := hostOrganization(r.Host); name != "" {
		return name, nil
	}
	if defaultName == "" {
		return "", services.ErrOrganizationNotFound
	}
	return defaultName, nil
}

// hostOrganization returns "acme" for acme.nms.example.com. Hosts with fewer
// than three labels and IP addresses carry no organization.
func hostOrganization(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	return strings.ToLower(labels[0])
}

// NetworkAccess rejects requests under mountPath whose API path names a
// network the request's organization does not own. Superuser organizations
// pass every check. The path must already be cleaned by CanonicalPath.
func NetworkAccess(orgs services.OrganizationService, mountPath string) func(http.Handler) http.Handler {
	mountPath = strings.TrimRight(mountPath, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The escaped form keeps an encoded "/" inside the id, where the
			// orchestrator sees it.
			networkID, scoped := audit.NetworkID(strings.TrimPrefix(r.URL.EscapedPath(), mountPath))
			if !scoped {
				next.ServeHTTP(w, r)
				return
			}
			if id, err := url.PathUnescape(networkID); err == nil {
				networkID = id
			}

			ctx := r.Context()
			org, err := userctx.GetOrganization(ctx)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("network_id", networkID).Msg("no organization for network-scoped request")
				writeError(w, http.StatusForbidden, "organization not found")
				return
			}

			if err := orgs.CheckNetworkAccess(org, networkID); err != nil {
				if !errors.Is(err, services.ErrNetworkForbidden) {
					logging.Ctx(ctx).Error().Err(err).Msg("network access check failed")
				}
				writeError(w, http.StatusForbidden, "network "+networkID+" is not accessible")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperuser lets only members of a superuser organization through.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, err := userctx.GetOrganization(r.Context())
		if err != nil || org == nil || !org.IsSuperuser {
			writeError(w, http.StatusForbidden, "superuser organization required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
