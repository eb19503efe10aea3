// Package api serves the formflow service over HTTP with echo.
package api

import (
	"net/http"
	"time"

	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Actor headers.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRoles = "X-Actor-Roles"
)

// RequestRecorder observes served requests; *metrics.Recorder implements it.
type RequestRecorder interface {
	RecordRequest(method, route string, status int, d time.Duration)
}

// Server holds the handlers' dependencies.
type Server struct {
	svc      *service.Service
	logger   logging.Logger
	requests RequestRecorder
	metrics  http.Handler
}

// Option customizes a Server.
type Option func(*Server)

func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRequestRecorder records every served request.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(s *Server) { s.requests = r }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates the API server over svc.
func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.Normalize(s.logger)
	return s
}

// Echo builds an echo instance with every route, panic recovery, request
// logging and error mapping installed.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.observeRequests)
	s.Register(e)
	return e
}

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/documents", s.SubmitDocument)
	e.GET("/documents", s.ListDocuments)
	e.GET("/documents/:id", s.GetDocument)
	e.GET("/documents/:id/transitions", s.AvailableTransitions)
	e.POST("/documents/:id/transitions/:transition", s.ApplyTransition)

	e.GET("/health", s.Health)

	e.POST("/forms", s.CreateForm)
	e.GET("/forms", s.ListForms)
	e.GET("/forms/:id", s.GetForm)
	e.GET("/forms/:id/versions/:version", s.GetFormVersion)
	e.POST("/workflows", s.CreateWorkflow)
	e.GET("/workflows", s.ListWorkflows)
	e.GET("/workflows/:id", s.GetWorkflow)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) observeRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		status := c.Response().Status
		elapsed := time.Since(start)
		if s.requests != nil {
			s.requests.RecordRequest(req.Method, c.Path(), status, elapsed)
		}
		s.logger.WithContext(req.Context()).Debug("%s %s %d %s", req.Method, req.URL.Path, status, elapsed)
		return nil
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := MapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(c.Request().Context()).Error("request %s %s failed: %v", c.Request().Method, c.Path(), err)
	}
	if writeErr := c.JSON(status, body); writeErr != nil {
		s.logger.Error("write error response: %v", writeErr)
	}
}
