// Package http provides the ragd HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
)

// Ingestion queues documents and reports job status. *jobs.Queue implements it.
type Ingestion interface {
	Submit(ctx context.Context, doc rag.Document) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
}

// Projects manages namespaces and deletions. *rag.Ingestor implements it.
type Projects interface {
	EnsureProject(ctx context.Context, scope tenant.Scope) error
	Delete(ctx context.Context, scope tenant.Scope, docID string) error
}

// Retrieval answers queries. *rag.Retriever implements it.
type Retrieval interface {
	Retrieve(ctx context.Context, scope tenant.Scope, query string, limit int) ([]rag.ContextItem, error)
}

// Check is one readiness probe, e.g. a vector index or cache ping.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Deps are the components the server routes to.
type Deps struct {
	Ingestion Ingestion
	Projects  Projects
	Retrieval Retrieval

	// Events enables GET /api/v1/jobs/:job_id/events. Optional.
	Events *nats.Conn

	// Checks run on GET /ready.
	Checks []Check

	Logger  *logging.Logger
	Metrics *RequestMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RequestTimeout bounds every API request except event streams.
	RequestTimeout time.Duration

	// BodyLimit caps request bodies, e.g. "8M".
	BodyLimit string

	// EventHeartbeat is the interval of SSE keep-alive comments.
	EventHeartbeat time.Duration
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9090
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "8M"
	}
	if c.EventHeartbeat <= 0 {
		c.EventHeartbeat = 30 * time.Second
	}
}

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo   *echo.Echo
	logger *logging.Logger
	config *Config

	ingestion Ingestion
	projects  Projects
	retrieval Retrieval
	events    *nats.Conn
	checks    []Check
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Ingestion == nil || deps.Projects == nil || deps.Retrieval == nil {
		return nil, fmt.Errorf("ingestion, projects and retrieval are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		logger:    deps.Logger,
		config:    cfg,
		ingestion: deps.Ingestion,
		projects:  deps.Projects,
		retrieval: deps.Retrieval,
		events:    deps.Events,
		checks:    deps.Checks,
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.accessLog)
	if deps.Metrics != nil {
		e.Use(deps.Metrics.Middleware())
	}
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	timeout := requestTimeout(s.config.RequestTimeout)

	tenants := v1.Group("/tenants/:tenant_id", scopeFromPath, timeout)
	tenants.POST("/projects", s.handleCreateProject)

	project := tenants.Group("/projects/:project_id")
	project.POST("/documents", s.handleIngest)
	project.DELETE("/documents/:doc_id", s.handleDeleteDocument)
	project.POST("/retrieve", s.handleRetrieve)

	v1.GET("/jobs/:job_id", s.handleGetJob, timeout)
	// event streams outlive the request timeout
	v1.GET("/jobs/:job_id/events", s.handleJobEvents)
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady runs every readiness probe.
func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			resp.Checks[check.Name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name] = "ok"
	}
	return c.JSON(status, resp)
}
