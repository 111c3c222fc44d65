package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gitea.com/go-chi/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogem/nms-gateway/authenticator"
	"github.com/blogem/nms-gateway/middleware"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/userctx"
)

type fakeProvider struct {
	claims      authenticator.Claims
	exchangeErr error
}

func (p *fakeProvider) GetAuthURL(state string) string {
	return "https://issuer.example.com/authorize?state=" + state
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (*authenticator.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &authenticator.Token{AccessToken: "at-" + code, IDToken: "id"}, nil
}

func (p *fakeProvider) GetClaims(context.Context, *authenticator.Token) (authenticator.Claims, error) {
	return p.claims, nil
}

// sessionHarness runs handler behind a memory session, first applying
// before and afterwards copying the listed keys out of the session.
func sessionHarness(t *testing.T, before map[string]string, keys []string, handler http.Handler) (http.Handler, map[string]any) {
	t.Helper()
	sessioner, err := session.Sessioner(session.Options{Provider: "memory", CookieName: "test_session"})
	require.NoError(t, err)

	after := map[string]any{}
	return sessioner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.GetSession(r)
		for k, v := range before {
			sess.Set(k, v)
		}
		handler.ServeHTTP(w, r)
		for _, k := range keys {
			after[k] = sess.Get(k)
		}
	})), after
}

func TestLogin_RedirectsWithState(t *testing.T) {
	ac := NewAuthController()
	handler, after := sessionHarness(t, nil, []string{"state"}, ac.Login(&fakeProvider{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	state, ok := after["state"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, state)
	assert.Equal(t, "https://issuer.example.com/authorize?state="+state, rec.Header().Get("Location"))
}

func TestCallback_StoresUserAndOrganization(t *testing.T) {
	ac := NewAuthController()
	provider := &fakeProvider{claims: authenticator.Claims{"sub": "u-1", "email": "ops@acme.example", "org": "ACME"}}
	keys := []string{middleware.SessionUserID, middleware.SessionUserEmail, middleware.SessionOrganization, "state"}
	before := map[string]string{"state": "s1", middleware.SessionRedirect: "/admin/audit_log"}
	handler, after := sessionHarness(t, before, keys, ac.Callback(provider))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=s1&code=c1", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/audit_log", rec.Header().Get("Location"))
	assert.Equal(t, "u-1", after[middleware.SessionUserID])
	assert.Equal(t, "ops@acme.example", after[middleware.SessionUserEmail])
	assert.Equal(t, "acme", after[middleware.SessionOrganization])
	assert.Nil(t, after["state"])
}

func TestCallback_Rejections(t *testing.T) {
	ac := NewAuthController()

	tests := []struct {
		name     string
		provider *fakeProvider
		before   map[string]string
		target   string
		want     int
	}{
		{"missing state", &fakeProvider{}, nil, "/callback?state=s1", http.StatusBadRequest},
		{"state mismatch", &fakeProvider{}, map[string]string{"state": "s1"}, "/callback?state=other", http.StatusBadRequest},
		{"exchange failure", &fakeProvider{exchangeErr: errors.New("invalid_grant")}, map[string]string{"state": "s1"}, "/callback?state=s1&code=c", http.StatusUnauthorized},
		{"no subject", &fakeProvider{claims: authenticator.Claims{"email": "x@y"}}, map[string]string{"state": "s1"}, "/callback?state=s1&code=c", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := sessionHarness(t, tt.before, nil, ac.Callback(tt.provider))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLogout_ClearsSession(t *testing.T) {
	ac := NewAuthController()
	before := map[string]string{middleware.SessionUserID: "u-1", middleware.SessionOrganization: "acme"}
	handler, after := sessionHarness(t, before, []string{middleware.SessionUserID, middleware.SessionOrganization}, http.HandlerFunc(ac.Logout))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Nil(t, after[middleware.SessionUserID])
	assert.Nil(t, after[middleware.SessionOrganization])
}

func TestMe(t *testing.T) {
	ac := NewAuthController()

	t.Run("with organization", func(t *testing.T) {
		ctx := userctx.SetUserEmail(userctx.SetUserID(context.Background(), "u-1"), "ops@acme.example")
		ctx = userctx.SetOrganization(ctx, func() (*models.Organization, error) {
			return &models.Organization{Name: "acme", Networks: []string{"lte1"}}, nil
		})
		rec := httptest.NewRecorder()
		ac.Me(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"user_id":"u-1","user_email":"ops@acme.example","organization":"acme","is_superuser":false,"networks":["lte1"]}`, rec.Body.String())
	})

	t.Run("without organization", func(t *testing.T) {
		ctx := userctx.SetOrganization(userctx.SetUserID(context.Background(), "u-2"), func() (*models.Organization, error) {
			return nil, errors.New("signed-in user has no organization")
		})
		rec := httptest.NewRecorder()
		ac.Me(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"user_id":"u-2","user_email":"","organization":"","is_superuser":false,"networks":[]}`, rec.Body.String())
	})
}
