package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/messaging"
	"github.com/rockfridrich/villa-sub002/internal/migration"
	"github.com/rockfridrich/villa-sub002/internal/naming"
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
	cfg, err := config.LoadMigratorConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "migrator",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting migration coordinator")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("dsn", cfg.Database.DSN()))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()
	natsJS := adapter.NewNatsJetStream()

	namespace := naming.NewNamespace(cfg.Naming.ParentDomain)

	// Batch submissions go out through JetStream; the on-chain submitter
	// picks them up from the submit subject.
	publisher, err := messaging.NewJetStreamPublisher(cfg.NATS, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create batch publisher", zap.Error(err))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Batch publisher connected",
		zap.String("url", cfg.NATS.URL),
		zap.String("subject", cfg.NATS.SubmitSubject))

	// The coordinator sweeps authorized records into batches; the consumer
	// settles them when confirmations come back.
	migrationService := migration.NewService(dataStore, namespace, jsonAdapter, clock)
	coordinator := migration.NewCoordinator(cfg.Migration, dataStore, publisher, namespace, jsonAdapter, clock)
	consumer, err := migration.NewConfirmationConsumer(cfg.NATS, natsJS, migrationService, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create confirmation consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := coordinator.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "migrator"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := coordinator.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "coordinator"))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("Migration coordinator stopped")
}
