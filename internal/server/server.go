// Package server implements the assetstage HTTP API on chi with huma
// operations.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetstage/assetstage/internal/auth"
	"github.com/assetstage/assetstage/internal/config"
	"github.com/assetstage/assetstage/internal/pipeline"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

// Server is the assetstage HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	pipeline   *pipeline.Pipeline
	store      storage.ObjectStore
	registry   registry.Registry
	verifier   *auth.Verifier
	httpServer *http.Server
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithObjectStore sets the object store probed by the health check.
func WithObjectStore(store storage.ObjectStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithRegistry sets the claim registry probed by the health check.
func WithRegistry(reg registry.Registry) ServerOption {
	return func(s *Server) {
		s.registry = reg
	}
}

// New creates a Server that serves p. Middleware is installed on the chi
// router before any route, as chi requires.
func New(cfg *config.Config, p *pipeline.Pipeline, opts ...ServerOption) (*Server, error) {
	if p == nil {
		return nil, errors.New("server: pipeline is required")
	}
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	router := chi.NewMux()
	s := &Server{
		cfg:      cfg,
		router:   router,
		pipeline: p,
		verifier: verifier,
	}
	for _, opt := range opts {
		opt(s)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	if cfg.Observability.Metrics {
		router.Use(metricsMiddleware)
	}
	router.Use(middleware.Recoverer)
	router.Use(commonHeaders)
	if len(cfg.Server.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}
	router.Use(auth.Middleware(verifier))

	humaConfig := huma.DefaultConfig("assetstage API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	s.api = humachi.New(router, humaConfig)

	s.registerRoutes()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
// Middleware chain: requestID -> realIP -> metrics -> recoverer -> commonHeaders -> cors -> auth -> router.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes. Huma operations document themselves
// under /openapi; /metrics and HEAD /health are plain chi routes.
func (s *Server) registerRoutes() {
	sellers := s.requireRole(s.cfg.Auth.SellerRole, s.cfg.Auth.AdminRole)
	admins := s.requireRole(s.cfg.Auth.AdminRole)
	bearer := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports whether the object store and claim registry are reachable.",
		Tags:        []string{"System"},
	}, s.health)

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "issue-upload-url",
		Method:      http.MethodPost,
		Path:        "/api/uploads",
		Summary:     "Issue a signed upload URL",
		Description: "Returns a fresh staging key and a URL the client can PUT the file to directly.",
		Tags:        []string{"Uploads"},
		Security:    bearer,
		Middlewares: huma.Middlewares{sellers},
	}, s.issueUploadURL)

	huma.Register(s.api, huma.Operation{
		OperationID:   "confirm-upload",
		Method:        http.MethodPost,
		Path:          "/api/uploads/confirm",
		Summary:       "Confirm a finished upload",
		Description:   "Claims the staging key so the sweeper leaves it alone for the claim TTL.",
		Tags:          []string{"Uploads"},
		DefaultStatus: http.StatusNoContent,
		Security:      bearer,
		Middlewares:   huma.Middlewares{sellers},
	}, s.confirmUpload)

	huma.Register(s.api, huma.Operation{
		OperationID: "commit-assets",
		Method:      http.MethodPost,
		Path:        "/api/assets/commit",
		Summary:     "Promote staged assets",
		Description: "Moves every referenced staging object to permanent storage and reports a result per reference.",
		Tags:        []string{"Assets"},
		Security:    bearer,
		Middlewares: huma.Middlewares{sellers},
	}, s.commitAssets)

	huma.Register(s.api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/api/admin/sweep",
		Summary:     "Run a reclamation sweep",
		Description: "Deletes staging objects that hold no live claim.",
		Tags:        []string{"Admin"},
		Security:    bearer,
		Middlewares: huma.Middlewares{admins},
	}, s.runSweep)
}

// requireRole returns a huma middleware admitting only callers whose token
// carries one of roles. Identity is set earlier by auth.Middleware.
func (s *Server) requireRole(roles ...string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		id, ok := auth.IdentityFromContext(ctx.Context())
		if !ok {
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "authorization required")
			return
		}
		if !id.HasRole(roles...) {
			huma.WriteErr(s.api, ctx, http.StatusForbidden, "role "+id.Role+" may not call this endpoint")
			return
		}
		next(ctx)
	}
}
