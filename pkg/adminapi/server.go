// Package adminapi exposes the cascade prevention system's read and admin
// operations over HTTP. The core stays an in-process library; this server is
// a consumer of its snapshot and control APIs.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayops/cascadeguard/pkg/breaker"
	"github.com/relayops/cascadeguard/pkg/cascade"
	"github.com/relayops/cascadeguard/pkg/logging"
	"github.com/relayops/cascadeguard/pkg/metrics"
	"github.com/relayops/cascadeguard/pkg/tracing"
)

// Options configures the admin server.
type Options struct {
	// System is the cascade prevention system to expose. Required.
	System *cascade.System

	// Breakers optionally exposes a standalone breaker registry alongside
	// the system's per-dependency breakers.
	Breakers *breaker.Manager

	// Metrics, when set, serves Prometheus exposition on /metrics and
	// instruments every request.
	Metrics *metrics.Metrics

	// Tracing, when set, traces every request.
	Tracing *tracing.Service

	Logger *logging.Logger

	// Mode selects the gin mode. Defaults to release.
	Mode string

	// AllowedOrigins restricts CORS. Empty allows every origin.
	AllowedOrigins []string

	// ReadyThreshold is the overall health floor below which /readyz
	// reports degraded. Defaults to the cascade default health threshold.
	ReadyThreshold float64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server serves the admin API for one cascade prevention system.
type Server struct {
	system   *cascade.System
	breakers *breaker.Manager
	metrics  *metrics.Metrics
	logger   *logging.Logger
	engine   *gin.Engine
	httpSrv  *http.Server

	readyThreshold float64
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

// NewServer builds the router and returns a server ready to start.
func NewServer(opts Options) *Server {
	mode := opts.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	readyThreshold := opts.ReadyThreshold
	if readyThreshold <= 0 {
		readyThreshold = cascade.DefaultHealthThreshold
	}

	s := &Server{
		system:         opts.System,
		breakers:       opts.Breakers,
		metrics:        opts.Metrics,
		logger:         logger,
		readyThreshold: readyThreshold,
		readTimeout:    opts.ReadTimeout,
		writeTimeout:   opts.WriteTimeout,
		idleTimeout:    opts.IdleTimeout,
	}

	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(SecurityHeadersMiddleware())
	engine.Use(CORSMiddleware(opts.AllowedOrigins))
	if s.metrics != nil {
		engine.Use(s.metrics.PrometheusMiddleware())
	}
	if opts.Tracing != nil {
		engine.Use(opts.Tracing.Middleware())
	}

	engine.GET("/healthz", s.handleLiveness)
	engine.GET("/readyz", s.handleReadiness)

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/system/health", s.handleSystemHealth)

		deps := v1.Group("/dependencies")
		{
			deps.GET("", s.handleListDependencies)
			deps.GET("/:name", s.handleDependencyHealth)
			deps.POST("/:name/isolate", s.handleIsolate)
			deps.POST("/:name/recover", s.handleRecover)
		}

		breakers := v1.Group("/breakers")
		{
			breakers.GET("", s.handleListBreakers)
			breakers.POST("/:name/reset", s.handleResetBreaker)
			breakers.POST("/:name/state", s.handleForceState)
		}
	}

	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	engine.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	s.engine = engine
	return s
}

// Router returns the configured gin engine, e.g. for mounting in tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Start listens on addr and serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.logger.Info("Admin API listening", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
