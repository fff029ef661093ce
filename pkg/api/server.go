package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Dependencies are the handler groups and middleware the server is built
// from. Nil handler groups are skipped.
type Dependencies struct {
	OAuth    RouteRegistrar
	SAML     RouteRegistrar
	Accounts *AccountHandlers

	SessionAuth *middleware.SessionAuth
	RateLimiter middleware.Limiter

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// MaxBodyBytes bounds request bodies; zero means 1 MiB
	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	s := &Server{router: mux.NewRouter()}
	s.router.Use(
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(deps.Metrics),
		httputil.MaxBytesMiddleware(deps.MaxBodyBytes),
	)
	if deps.RateLimiter != nil {
		s.router.Use(limitLogin(deps.RateLimiter))
	}
	s.setupRoutes(deps)

	s.handler = otelhttp.NewHandler(s.router, "warden",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) {
	if deps.OAuth != nil {
		deps.OAuth.RegisterRoutes(s.router)
	}
	if deps.SAML != nil {
		deps.SAML.RegisterRoutes(s.router)
	}

	if deps.Accounts != nil && deps.SessionAuth != nil {
		v1 := s.router.PathPrefix("/v1").Subrouter()
		v1.Use(deps.SessionAuth.Handler)
		deps.Accounts.RegisterRoutes(v1)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// limitLogin applies the rate limiter to /auth routes only
func limitLogin(limiter middleware.Limiter) mux.MiddlewareFunc {
	limit := middleware.RateLimit(limiter)
	return func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/auth/") {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewHealthRouter serves liveness, readiness and Prometheus metrics for the
// health port. A nil registry disables /metrics.
func NewHealthRouter(checker *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	return router
}
