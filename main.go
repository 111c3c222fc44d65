package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gitea.com/go-chi/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/blogem/nms-gateway/audit"
	"github.com/blogem/nms-gateway/authenticator"
	"github.com/blogem/nms-gateway/config"
	"github.com/blogem/nms-gateway/controllers"
	"github.com/blogem/nms-gateway/database"
	"github.com/blogem/nms-gateway/logging"
	authmiddleware "github.com/blogem/nms-gateway/middleware"
	"github.com/blogem/nms-gateway/proxy"
	"github.com/blogem/nms-gateway/repositories"
	"github.com/blogem/nms-gateway/services"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("nms-gateway exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	if err := database.InitializeDatabase(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.CloseDB()

	db := database.GetDB()

	// Initialize repositories
	repos := repositories.NewRepositories(db)

	rules, err := audit.NewRuleset(audit.DefaultRules())
	if err != nil {
		return fmt.Errorf("failed to compile audit rules: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize services
	srvs := services.NewServices(repos, rules, cfg, services.NewAuditMetrics(registry))
	defer srvs.Audit.Close()

	if err := srvs.Organization.EnsureSuperuser(ctx); err != nil {
		return err
	}

	// Initialize controllers
	ctrl := controllers.NewControllers(srvs, db)

	var auth authenticator.Provider
	if cfg.OIDCEnabled() {
		auth, err = authenticator.NewOpenIDProvider(ctx, authenticator.Config{
			ProviderURL:  cfg.Auth.IssuerURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       cfg.Auth.Scopes,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
	} else {
		logging.Warn().Msg("auth.issuer_url is not set; requests are not authenticated")
	}

	apiProxy, err := proxy.New(cfg.Proxy, srvs.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator proxy: %w", err)
	}

	// Set up router
	r, err := setupRouter(cfg, ctrl, srvs, auth, apiProxy, registry)
	if err != nil {
		return fmt.Errorf("failed to setup router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info().
			Str("addr", cfg.Server.Addr).
			Str("upstream", cfg.Proxy.UpstreamURL).
			Str("database", cfg.Database.Path).
			Bool("audit_async", cfg.Audit.Async).
			Int("audit_rules", rules.Len()).
			Msg("nms-gateway starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logging.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("nms-gateway stopped")
	return nil
}

// setupRouter configures all routes. A nil auth disables authentication.
func setupRouter(cfg *config.Config, ctrl *controllers.Controllers, srvs *services.Services, auth authenticator.Provider, apiProxy http.Handler, registry *prometheus.Registry) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Middleware
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)

	// Session middleware
	sessionHandler, err := session.Sessioner(session.Options{
		Provider:       "memory",
		ProviderConfig: "",
		CookieName:     cfg.Auth.SessionName,
		Secure:         cfg.Server.SecureCookies,
		Gclifetime:     cfg.Auth.SessionTTL,
		Maxlifetime:    cfg.Auth.SessionTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	r.Use(sessionHandler)

	limit := rateLimiter(cfg.RateLimit)
	requireAuth := authmiddleware.RequireAuth
	requireAPIAuth := authmiddleware.RequireAPIAuth
	// Signed-in users always carry their organization in the session; the
	// default organization only serves unauthenticated development setups.
	defaultOrganization := ""
	if auth == nil {
		requireAuth = passThrough
		requireAPIAuth = passThrough
		defaultOrganization = cfg.Organization.Default
	}
	r.Use(authmiddleware.OrganizationResolver(srvs.Organization, defaultOrganization))

	// PUBLIC ROUTES (no authentication required)
	r.Get("/health", ctrl.Health.Check)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	r.With(requireAuth).Get("/", ctrl.Auth.Me)
	if auth != nil {
		r.With(limit).Get("/login", ctrl.Auth.Login(auth))
		r.Get("/callback", ctrl.Auth.Callback(auth))
		r.Get("/logout", ctrl.Auth.Logout)
	}

	// Orchestrator API
	r.Route(cfg.Proxy.MountPath, func(r chi.Router) {
		r.Use(limit)
		r.Use(authmiddleware.CanonicalPath(cfg.Proxy.MountPath))
		r.Use(requireAPIAuth)
		r.Use(authmiddleware.NetworkAccess(srvs.Organization, cfg.Proxy.MountPath))
		r.Use(authmiddleware.CaptureRequest(cfg.Proxy.MountPath))
		r.Handle("/*", apiProxy)
	})

	// Admin API
	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAPIAuth)
		r.Use(middleware.Compress(5))

		r.Get("/audit_log", ctrl.AuditLog.List)

		r.Group(func(r chi.Router) {
			r.Use(authmiddleware.RequireSuperuser)
			r.Get("/organizations", ctrl.Organization.List)
			r.Post("/organizations", ctrl.Organization.Create)
			r.Delete("/organizations/{name}", ctrl.Organization.Delete)
		})
	})

	return r, nil
}

// rateLimiter limits requests per client IP; zero requests disables it.
func rateLimiter(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Requests <= 0 {
		return passThrough
	}
	return httprate.LimitByIP(cfg.Requests, cfg.Window)
}

func passThrough(next http.Handler) http.Handler {
	return next
}
