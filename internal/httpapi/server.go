// Package httpapi provides the HTTP API for draftd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quillworks/draftd/internal/orchestrator"
	"github.com/quillworks/draftd/internal/render"
	"github.com/quillworks/draftd/internal/workflow"
)

// Server exposes run management over HTTP.
type Server struct {
	echo     *echo.Echo
	registry *orchestrator.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(registry *orchestrator.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/document", s.handleGetDocument)
	v1.POST("/runs/:id/phases/:phase/decision", s.handleDecision)
	v1.DELETE("/runs/:id", s.handleDeleteRun)
}

// StartRunResponse is the response body for POST /api/v1/runs.
type StartRunResponse struct {
	RunID  string          `json:"run_id"`
	Status workflow.Status `json:"status"`
}

// DecisionRequest is the request body for the decision endpoint.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

// ListRunsResponse is the response body for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs []string `json:"runs"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStartRun launches a run from a business requirement.
func (s *Server) handleStartRun(c echo.Context) error {
	var req workflow.BusinessRequirement
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	run, err := s.registry.Start(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, StartRunResponse{
		RunID:  run.ID,
		Status: run.Status(),
	})
}

// handleListRuns returns the registered run IDs.
func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, ListRunsResponse{Runs: s.registry.List()})
}

// handleGetRun returns the full snapshot of a run.
func (s *Server) handleGetRun(c echo.Context) error {
	snap, err := s.registry.Snapshot(c.Param("id"))
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// handleGetDocument renders the run's requirement document as markdown.
func (s *Server) handleGetDocument(c echo.Context) error {
	snap, err := s.registry.Snapshot(c.Param("id"))
	if err != nil {
		return runError(err)
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(render.Document(snap)))
}

// handleDecision applies a review decision to a suspended run.
func (s *Server) handleDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	decision, err := workflow.ParseReviewDecision(req.Decision)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if decision == workflow.ReviewRevise && req.Note == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "revise decisions require a note")
	}

	snap, err := s.registry.SubmitDecision(
		c.Request().Context(),
		c.Param("id"),
		workflow.PhaseID(c.Param("phase")),
		decision,
		req.Note,
	)
	if err != nil {
		return runError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// handleDeleteRun cancels a run and drops it from the registry.
func (s *Server) handleDeleteRun(c echo.Context) error {
	if err := s.registry.Remove(c.Param("id")); err != nil {
		return runError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// runError maps registry errors to HTTP status codes.
func runError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidDecision):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
