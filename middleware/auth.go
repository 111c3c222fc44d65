package middleware

import (
	"context"
	"net/http"

	"gitea.com/go-chi/session"
	"github.com/goccy/go-json"

	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/userctx"
)

type contextKey string

// Session keys written by the login callback.
const (
	SessionUserID       = "user_id"
	SessionUserEmail    = "user_email"
	SessionOrganization = "organization"
	SessionRedirect     = "redirect_after_login"
)

// RequireAuth ensures the user is authenticated
// If not authenticated, redirects to /login and stores the intended destination
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.GetSession(r)
		userID, ok := sess.Get(SessionUserID).(string)

		if !ok || userID == "" {
			// Store the intended destination for redirect after login
			sess.Set(SessionRedirect, r.URL.RequestURI())
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r.WithContext(withSessionUser(r, sess, userID)))
	})
}

// RequireAPIAuth is RequireAuth for JSON endpoints: it answers 401 instead
// of redirecting.
func RequireAPIAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.GetSession(r)
		userID, ok := sess.Get(SessionUserID).(string)

		if !ok || userID == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(withSessionUser(r, sess, userID)))
	})
}

type sessionReader interface {
	Get(key interface{}) interface{}
}

func withSessionUser(r *http.Request, sess sessionReader, userID string) context.Context {
	ctx := userctx.SetUserID(r.Context(), userID)
	if email, ok := sess.Get(SessionUserEmail).(string); ok {
		ctx = userctx.SetUserEmail(ctx, email)
	}
	return ctx
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}
