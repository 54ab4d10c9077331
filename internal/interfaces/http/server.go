// Package http provides the HTTP adapter over the flow registry and the
// action processor. It is a thin translation layer: request decoding,
// error-to-status mapping, nothing else.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/engine"
	"github.com/garyjia/staffops-approval/internal/registry"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	flows      *registry.Service
	processor  *engine.Processor
	logger     *zap.Logger
}

// NewServer creates a new HTTP server over the given services
func NewServer(
	config ServerConfig,
	flows *registry.Service,
	processor *engine.Processor,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:    config,
		router:    gin.New(),
		flows:     flows,
		processor: processor,
		logger:    logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.flows, s.processor, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api")
	{
		// Flow definitions
		api.POST("/flows", handlers.CreateFlow)
		api.GET("/flows", handlers.ListFlows)
		api.GET("/flows/:code", handlers.GetFlow)
		api.PUT("/flows/:code", handlers.UpdateFlow)
		api.DELETE("/flows/:code", handlers.DeleteFlow)
		api.POST("/flows/:code/reorder", handlers.ReorderFlowSteps)

		// Instances
		api.POST("/instances", handlers.CreateInstance)
		api.GET("/instances", handlers.ListInstances)
		api.GET("/instances/blocked", handlers.ListBlockedInstances)
		api.GET("/instances/by-code/:code", handlers.GetInstanceByCode)
		api.GET("/instances/:id", handlers.GetInstance)
		api.GET("/instances/:id/history", handlers.GetInstanceHistory)
		api.GET("/instances/:id/approvers", handlers.GetInstanceApprovers)
		api.POST("/instances/:id/actions", handlers.SubmitAction)
		api.POST("/instances/:id/cancel", handlers.CancelInstance)

		// Target lookup
		api.GET("/targets/:type/:target_id/instance", handlers.GetInstanceByTarget)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
