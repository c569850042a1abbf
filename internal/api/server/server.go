package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/api/middleware"
	"github.com/rockfridrich/villa-sub002/internal/api/rest"
	"github.com/rockfridrich/villa-sub002/internal/claim"
	"github.com/rockfridrich/villa-sub002/internal/gateway"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/migration"
	"github.com/rockfridrich/villa-sub002/internal/naming"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	authCfg    middleware.AuthConfig
	claims     claim.Service
	resolver   gateway.Resolver
	migrations migration.Service
	namespace  naming.Namespace
	json       adapter.JSON
	httpServer *http.Server
}

// New creates a new API server
func New(
	cfg Config,
	authCfg middleware.AuthConfig,
	claims claim.Service,
	resolver gateway.Resolver,
	migrations migration.Service,
	namespace naming.Namespace,
	jsonAdapter adapter.JSON,
) *Server {
	return &Server{
		config:     cfg,
		authCfg:    authCfg,
		claims:     claims,
		resolver:   resolver,
		migrations: migrations,
		namespace:  namespace,
		json:       jsonAdapter,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.SetupCORS())

	// Create REST handler
	restHandler := rest.NewHandler(s.claims, s.resolver, s.migrations, s.namespace, s.json)

	// Setup REST routes
	rest.SetupRoutes(router, restHandler, s.authCfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	// Start server
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
