// Package httpapi serves the goAccess HTTP surface: the OAuth endpoints,
// API-key protected endpoints and the admin routes, on a chi router.
package httpapi

import (
	"context"
	"net/http"

	goAccess "github.com/MrEthical07/goAccess"
	promexport "github.com/MrEthical07/goAccess/metrics/export/prometheus"
	accessmw "github.com/MrEthical07/goAccess/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options configures a Server.
type Options struct {
	Logger zerolog.Logger
	// Subject resolves the signed-in user of a browser or admin request.
	// Requests resolving to "" are anonymous.
	Subject SubjectResolver
	// Registry receives the HTTP and engine metrics served on /metrics.
	// A fresh registry is used when nil.
	Registry *prometheus.Registry
	// Ready backs /readyz. Nil reports ready.
	Ready func(ctx context.Context) error
}

// Server is an http.Handler exposing an Engine.
type Server struct {
	router   chi.Router
	engine   *goAccess.Engine
	logger   zerolog.Logger
	subject  SubjectResolver
	registry *prometheus.Registry
	metrics  *httpMetrics
	ready    func(ctx context.Context) error
}

// NewServer builds the router. The engine's counters are registered on
// opts.Registry.
func NewServer(engine *goAccess.Engine, opts Options) *Server {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	subject := opts.Subject
	if subject == nil {
		subject = Anonymous
	}

	s := &Server{
		router:   chi.NewRouter(),
		engine:   engine,
		logger:   opts.Logger,
		subject:  subject,
		registry: reg,
		metrics:  newHTTPMetrics(reg),
		ready:    opts.Ready,
	}
	reg.MustRegister(promexport.NewExporter(engine))

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.middleware)
	s.router.Use(accessmw.ClientContext)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// OAuth 2.0 authorization server
	s.router.Get("/oauth/authorize", s.handleAuthorize)
	s.router.Post("/oauth/authorize", s.handleConsent)
	s.router.Post("/oauth/token", s.handleToken)
	s.router.Post("/oauth/revoke", s.handleRevoke)

	s.router.Route("/api", func(r chi.Router) {
		r.With(accessmw.RequireAccessToken(s.engine)).Get("/oauth/userinfo", s.handleUserInfo)
		r.With(accessmw.APIKeyGate(s.engine, accessmw.GateOptions{Required: []string{"oauth"}, Action: "oauth_user_info"})).
			Post("/oauth/user-info", s.handleKeyUserInfo)
		r.With(accessmw.APIKeyGate(s.engine, accessmw.GateOptions{Required: s.engine.Permissions(), Action: "rate_limit_status"})).
			Get("/rate-limit", s.handleRateLimitStatus)
	})

	s.router.Route("/admin", func(r chi.Router) {
		// Admins and their permissions
		r.Get("/admins", s.handleListAdmins)
		r.Post("/admins", s.handleAddAdmin)
		r.Post("/admins/{email}/deactivate", s.handleSetAdminActive(false))
		r.Post("/admins/{email}/reactivate", s.handleSetAdminActive(true))
		r.Get("/admins/{email}/permissions", s.handleListPermissions)
		r.Post("/admins/{email}/permissions", s.handleReplacePermissions)
		r.Patch("/admins/{email}/permissions", s.handleGrantPermission)
		r.Delete("/admins/{email}/permissions", s.handleRevokePermission)

		// API keys
		r.Get("/api_keys", s.handleListAPIKeys)
		r.Post("/api_keys", s.handleCreateAPIKey)
		r.Patch("/api_keys/{id}", s.handleUpdateAPIKey)
		r.Delete("/api_keys/{id}", s.handleDeleteAPIKey)
		r.Get("/api_keys/{id}/rate_limit", s.handleAPIKeyRateLimit)
		r.Post("/api_keys/{id}/rate_limit/reset", s.handleResetAPIKeyRateLimit)
		r.Get("/api_keys/{id}/logs", s.handleAPIKeyLogs)

		// OAuth apps
		r.Post("/apps", s.handleRegisterApp)
		r.Post("/apps/{id}/regenerate-secret", s.handleRegenerateAppSecret)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
