package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rockfridrich/villa-sub002/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check and Prometheus metrics (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Availability check and claims (public; claims are gated by
		// signature verification and per-owner rate limiting, not by auth)
		v1.GET("/nicknames/availability", handler.CheckAvailability)
		v1.POST("/nicknames", handler.ClaimNickname)

		// Resolution gateway (public read access; CCIP-read clients hit these)
		v1.GET("/resolve/name/:name", handler.ResolveName)
		v1.GET("/resolve/address/:address", handler.ResolveAddress)

		// Migration authorization (requires authentication)
		v1.POST("/nicknames/:name/migration-authorization", middleware.Auth(authCfg), handler.AuthorizeMigration)

		// Migration batch endpoints (requires authentication; the
		// confirmation POST is the HTTP fallback for the JetStream subject)
		v1.GET("/migration/batches/:id", middleware.Auth(authCfg), handler.GetMigrationBatch)
		v1.POST("/migration/batches/:id/confirmation", middleware.Auth(authCfg), handler.ConfirmMigrationBatch)
	}
}
