package controllers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"

	"gitea.com/go-chi/session"

	"github.com/blogem/nms-gateway/authenticator"
	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/middleware"
	"github.com/blogem/nms-gateway/userctx"
)

// OrganizationClaim is the ID token claim naming the user's organization
const OrganizationClaim = "org"

type AuthController struct{}

func NewAuthController() *AuthController {
	return &AuthController{}
}

// Login initiates the authentication process
func (ac *AuthController) Login(auth authenticator.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Generate random state
		state, err := generateRandomState()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Save the state in the session to validate in callback
		sess := session.GetSession(r)
		sess.Set("state", state)

		// Redirect to the identity provider login page
		http.Redirect(w, r, auth.GetAuthURL(state), http.StatusTemporaryRedirect)
	}
}

// Callback handles the callback from the identity provider
func (ac *AuthController) Callback(auth authenticator.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get session
		sess := session.GetSession(r)

		// Verify state
		storedState, ok := sess.Get("state").(string)
		if !ok || storedState == "" {
			http.Error(w, "State not found in session", http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("state") != storedState {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		// Exchange the code for a token
		token, err := auth.ExchangeCode(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("authorization code exchange failed")
			http.Error(w, "Failed to exchange authorization code for a token", http.StatusUnauthorized)
			return
		}

		// Verify the ID token and extract profile information
		claims, err := auth.GetClaims(r.Context(), token)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("ID token verification failed")
			http.Error(w, "Failed to verify ID Token", http.StatusUnauthorized)
			return
		}

		userID := claims.String("sub")
		if userID == "" {
			http.Error(w, "ID token has no subject", http.StatusUnauthorized)
			return
		}

		sess.Set(middleware.SessionUserID, userID)
		sess.Set(middleware.SessionUserEmail, claims.String("email"))
		if org := strings.ToLower(claims.String(OrganizationClaim)); org != "" {
			sess.Set(middleware.SessionOrganization, org)
		}

		// Clear the state from session
		sess.Delete("state")

		logging.Ctx(r.Context()).Info().Str("user_id", userID).Msg("user logged in")

		redirect := "/"
		if target, ok := sess.Get(middleware.SessionRedirect).(string); ok && strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
			redirect = target
			sess.Delete(middleware.SessionRedirect)
		}
		http.Redirect(w, r, redirect, http.StatusSeeOther)
	}
}

// Logout clears the user from the session
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.GetSession(r)
	for _, key := range []string{
		middleware.SessionUserID,
		middleware.SessionUserEmail,
		middleware.SessionOrganization,
		middleware.SessionRedirect,
	} {
		sess.Delete(key)
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SessionInfo describes the signed-in user
type SessionInfo struct {
	UserID       string   `json:"user_id"`
	UserEmail    string   `json:"user_email"`
	Organization string   `json:"organization"`
	IsSuperuser  bool     `json:"is_superuser"`
	Networks     []string `json:"networks"`
}

// Me handles GET /, where login lands. A user without a known organization
// gets an empty organization and no networks.
func (ac *AuthController) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := SessionInfo{
		UserID:    userctx.GetUserID(ctx),
		UserEmail: userctx.GetUserEmail(ctx),
		Networks:  []string{},
	}

	org, err := userctx.GetOrganization(ctx)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("no organization for session")
	} else if org != nil {
		info.Organization = org.Name
		info.IsSuperuser = org.IsSuperuser
		if org.Networks != nil {
			info.Networks = org.Networks
		}
	}

	writeJSON(w, r, http.StatusOK, info)
}

// generateRandomState generates a random state value for CSRF protection
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
