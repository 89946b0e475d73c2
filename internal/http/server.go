// Package http serves the extraction pipeline over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
	"github.com/fyrsmithlabs/formextract/internal/patterncache"
	"github.com/fyrsmithlabs/formextract/internal/pipeline"
)

// Processor runs one extraction. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, text string, state pipeline.FieldState) (*pipeline.Result, error)
}

// PatternAdmin exposes cache maintenance. *patterncache.Cache implements it.
type PatternAdmin interface {
	Stats() patterncache.Stats
	Clear(ctx context.Context)
}

// BackendProber reports backend availability. *extraction.Chain
// implements it.
type BackendProber interface {
	Status(ctx context.Context) []extraction.BackendStatus
}

// Server provides HTTP endpoints for formextract.
type Server struct {
	echo     *echo.Echo
	pipeline Processor
	cache    PatternAdmin
	backends BackendProber
	sessions *sessionStore
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	SessionTTL  time.Duration
	MaxSessions int
	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
	// Metrics records OTEL request metrics when set.
	Metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(p Processor, cache PatternAdmin, backends BackendProber, logger *logging.Logger, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("pattern cache cannot be nil")
	}
	if backends == nil {
		return nil, fmt.Errorf("backend prober cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 5000}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	if cfg.Metrics != nil {
		e.Use(cfg.Metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		pipeline: p,
		cache:    cache,
		backends: backends,
		sessions: newSessionStore(cfg.MaxSessions, cfg.SessionTTL),
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/extract", s.handleExtract)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleResetSession)
	v1.GET("/cache/stats", s.handleCacheStats)
	v1.DELETE("/cache", s.handleCacheClear)
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus probes the backends and summarizes the cache.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	backends := s.backends.Status(ctx)

	status := "ok"
	available := 0
	for _, b := range backends {
		if b.Available {
			available++
		}
	}
	if available == 0 {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:   status,
		Backends: backends,
		Patterns: s.cache.Stats().TotalPatterns,
		Sessions: s.sessions.len(),
	})
}

// handleExtract runs the pipeline on the submitted text. The form state
// comes from the named session, or from the request when no session
// exists yet.
func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid extract request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if !logging.ValidID(sessionID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session_id")
	}
	ctx := logging.WithSessionID(c.Request().Context(), sessionID)

	state, ok := s.sessions.get(sessionID)
	if !ok {
		state = pipeline.FieldState{Fields: req.Fields, Confidences: req.Confidences}
	}

	res, err := s.pipeline.Process(ctx, req.Text, state)
	s.config.Metrics.RecordExtraction(ctx, extractionOutcome(res, err), ok)
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput), errors.Is(err, pipeline.ErrInputTooLong):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error(ctx, "extraction failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "extraction failed")
	}

	s.sessions.put(sessionID, res.State())
	return c.JSON(http.StatusOK, ExtractResponse{SessionID: sessionID, Result: res})
}

// handleGetSession returns the stored form state.
func (s *Server) handleGetSession(c echo.Context) error {
	id := c.Param("id")
	state, ok := s.sessions.get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, SessionResponse{SessionID: id, FieldState: state})
}

// handleResetSession forgets a session's form state.
func (s *Server) handleResetSession(c echo.Context) error {
	if !s.sessions.remove(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// handleCacheStats returns pattern cache statistics.
func (s *Server) handleCacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cache.Stats())
}

// handleCacheClear drops every learned pattern.
func (s *Server) handleCacheClear(c echo.Context) error {
	ctx := c.Request().Context()
	s.cache.Clear(ctx)
	s.logger.Info(ctx, "pattern cache cleared over http")
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
