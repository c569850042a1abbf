package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/api/middleware"
	"github.com/rockfridrich/villa-sub002/internal/api/server"
	"github.com/rockfridrich/villa-sub002/internal/claim"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/gateway"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/migration"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/ratelimit"
	"github.com/rockfridrich/villa-sub002/internal/registry"
	"github.com/rockfridrich/villa-sub002/internal/signing"
	"github.com/rockfridrich/villa-sub002/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create shutdown context with timeout
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "registry-api",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Villa Nickname Registry API")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("dsn", cfg.Database.DSN()))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	fs := adapter.NewFileSystem()
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()

	// Load profanity registry. A missing list is tolerated so local setups
	// boot, but production should always carry one.
	profanity, err := registry.LoadProfanityList(fs, jsonAdapter, cfg.Claim.ProfanityListPath)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to load profanity list",
			zap.Error(err),
			zap.String("path", cfg.Claim.ProfanityListPath))
	}
	if profanity.Size() == 0 {
		logger.WarnCtx(ctx, "Profanity list empty or not configured, content policy checks are disabled")
	} else {
		logger.InfoCtx(ctx, "Loaded profanity list",
			zap.String("path", cfg.Claim.ProfanityListPath),
			zap.Int("terms", profanity.Size()))
	}

	// Initialize the per-owner claim limiter backed by Redis
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error(err, zap.String("component", "redis"))
		}
	}()
	limiter, err := ratelimit.NewLimiter(cfg.Claim, redisClient, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize claim limiter", zap.Error(err))
	}
	defer func() {
		if err := limiter.Close(); err != nil {
			logger.Error(err, zap.String("component", "claim-limiter"))
		}
	}()

	// The gateway signer is mandatory: resolution responses are only useful
	// to CCIP-read clients when signed.
	signer, err := gateway.NewECDSASigner(cfg.Gateway.SignerKey)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to initialize gateway signer", zap.Error(err))
	}
	if cfg.Gateway.VerifierContract == "" {
		logger.WarnCtx(ctx, "Gateway verifier contract not configured, envelopes bind the zero address")
	}
	verifierContract := common.HexToAddress(cfg.Gateway.VerifierContract)

	// Assemble domain services
	namespace := naming.NewNamespace(cfg.Naming.ParentDomain)
	intentVerifier := signing.NewVerifier(jsonAdapter, adapter.NewJCS())
	claims := claim.NewService(dataStore, profanity, limiter, intentVerifier, namespace, jsonAdapter, clock)
	migrations := migration.NewService(dataStore, namespace, jsonAdapter, clock)
	resolver := gateway.NewResolver(dataStore, signer, clock, namespace, verifierContract, cfg.Gateway.SignatureTTL)
	logger.InfoCtx(ctx, "Gateway resolver ready",
		zap.String("signer", signer.Address().Hex()),
		zap.String("verifier_contract", verifierContract.Hex()),
		zap.String("parent_domain", cfg.Naming.ParentDomain),
	)

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	authConfig := middleware.AuthConfig{
		JWTPublicKey: cfg.Auth.JWTPublicKey,
		APIKeys:      cfg.Auth.APIKeys,
	}

	// Create and start server
	srv := server.New(serverConfig, authConfig, claims, resolver, migrations, namespace, jsonAdapter)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}
