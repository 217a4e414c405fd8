// Package api exposes the workspace service and run streams over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/devspace/workflow"
	"github.com/dshills/devspace/workflow/store"
	"github.com/dshills/devspace/workflow/stream"
	"github.com/dshills/devspace/workspace"
)

// DefaultHeartbeat is the interval of keep-alive comments on idle streams.
const DefaultHeartbeat = 15 * time.Second

// Deps are the collaborators of a Server. Ledger, Registry and Service are
// required.
type Deps struct {
	Ledger   store.RunStore
	Registry *stream.Registry
	Service  *workspace.Service

	// Auth defaults to HeaderAuthenticator.
	Auth Authenticator

	Metrics  *workflow.PrometheusMetrics
	Gatherer prometheus.Gatherer

	// TracerProvider enables otelecho request spans when set.
	TracerProvider trace.TracerProvider

	Logger *slog.Logger

	// UploadsDir is served under /uploads when set.
	UploadsDir string

	Heartbeat time.Duration
}

// Server routes HTTP requests. It implements http.Handler.
type Server struct {
	echo *echo.Echo

	ledger    store.RunStore
	registry  *stream.Registry
	svc       *workspace.Service
	auth      Authenticator
	metrics   *workflow.PrometheusMetrics
	logger    *slog.Logger
	heartbeat time.Duration
}

// New builds the server and registers every route.
func New(d Deps) *Server {
	s := &Server{
		echo:      echo.New(),
		ledger:    d.Ledger,
		registry:  d.Registry,
		svc:       d.Service,
		auth:      d.Auth,
		metrics:   d.Metrics,
		logger:    d.Logger,
		heartbeat: d.Heartbeat,
	}
	if s.auth == nil {
		s.auth = HeaderAuthenticator{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if d.TracerProvider != nil {
		e.Use(otelecho.Middleware("devspace", otelecho.WithTracerProvider(d.TracerProvider)))
	}
	e.Use(s.requestLogger())

	e.GET("/healthz", s.health)
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	if d.UploadsDir != "" {
		e.Static("/uploads", d.UploadsDir)
	}

	e.GET("/chat/:runId", s.streamRun)
	e.GET("/api/chat/:runId/stream", s.streamRun)

	g := e.Group("/api", s.requireUser)
	g.POST("/projects", s.createProject)
	g.GET("/projects", s.listProjects)
	g.POST("/projects/import", s.importProject)
	g.GET("/projects/:projectId", s.getProject)
	g.GET("/projects/:projectId/files", s.listFiles)
	g.GET("/projects/:projectId/conversations", s.listConversations)
	g.POST("/projects/:projectId/messages", s.sendMessage)
	g.GET("/conversations/:conversationId", s.getConversation)
	g.GET("/runs/:runId", s.getRun)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"time":           time.Now().UTC(),
		"active_streams": s.registry.Len(),
	})
}
