package accessory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
	"github.com/ilot95/hmip-bridge/internal/infrastructure/config"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Endpoints is what the HTTP API needs from the host. *Host satisfies it.
type Endpoints interface {
	Endpoints() []EndpointView
	Endpoint(id string) (EndpointView, error)
	Get(id string, kind hmip.Characteristic) (any, error)
	Set(ctx context.Context, id string, kind hmip.Characteristic, value any) error
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// ServerDeps holds the dependencies required by the API server.
type ServerDeps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Host     Endpoints
	Logger   Logger
	Checks   map[string]HealthCheck
	Version  string
}

// Server is the HTTP API over the accessory host.
//
// Every route except /api/v1/health requires an HS256 bearer token signed
// with the configured secret.
//
//	server, err := accessory.NewServer(deps)
//	server.Start(ctx)
//	defer server.Close()
type Server struct {
	cfg     config.APIConfig
	secret  string
	host    Endpoints
	logger  Logger
	checks  map[string]HealthCheck
	version string
	server  *http.Server
}

// NewServer creates an API server. It is not listening until Start is called.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Host == nil {
		return nil, fmt.Errorf("endpoint host is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &Server{
		cfg:     deps.Config,
		secret:  deps.Security.JWT.Secret,
		host:    deps.Host,
		logger:  deps.Logger,
		checks:  deps.Checks,
		version: deps.Version,
	}, nil
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logInfo("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logError("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s == nil || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logInfo("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/endpoints", func(r chi.Router) {
				r.Get("/", s.handleListEndpoints)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetEndpoint)
					r.Get("/characteristics/{kind}", s.handleGetCharacteristic)
					r.Put("/characteristics/{kind}", s.handleSetCharacteristic)
				})
			})
		})
	})

	return r
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
