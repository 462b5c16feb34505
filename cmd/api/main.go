package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jarto666/scriptforge/internal/api"
	"github.com/jarto666/scriptforge/internal/api/middleware"
	"github.com/jarto666/scriptforge/internal/config"
	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/gateway"
	"github.com/jarto666/scriptforge/internal/logger"
	"github.com/jarto666/scriptforge/internal/repository"
	"github.com/jarto666/scriptforge/internal/service"
	"github.com/jarto666/scriptforge/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	batchRepo := repository.NewBatchRepository(db)
	projectRepo := repository.NewProjectRepository(db)

	// Initialize optional artifact storage (supports S3, R2, S3-compatible)
	var exporter service.ArtifactExporter
	if cfg.Storage.Enabled {
		objectStorage, err := storage.NewStorage(&storage.S3Config{
			Type:      storage.StorageType(cfg.Storage.Type),
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := objectStorage.EnsureBucket(context.Background()); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		exporter = storage.NewBatchExporter(objectStorage)
	}

	// Initialize event bus and notification gateway
	bus := events.NewBus()
	gw := gateway.New(bus, gateway.Config{
		Heartbeat:      time.Duration(cfg.Realtime.HeartbeatSeconds) * time.Second,
		SendBufferSize: cfg.Realtime.SendBufferSize,
	}, appLogger)

	// Initialize script generator
	generator := service.NewOpenAIGenerator(&service.GeneratorConfig{
		Provider:  cfg.Generation.Provider,
		Model:     cfg.Generation.Model,
		APIKey:    cfg.Generation.APIKey,
		BaseURL:   cfg.Generation.BaseURL,
		Timeout:   time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		MaxTokens: cfg.Generation.MaxTokens,
	})

	// Initialize batch coordinator
	coordinator := service.NewCoordinator(bus, generator, batchRepo, exporter, appLogger)

	// Setup router
	router := api.SetupRouter(api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Logger:      appLogger,
		Coordinator: coordinator,
		Batches:     batchRepo,
		Projects:    projectRepo,
		Gateway:     gw,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Close websocket sessions before stopping the listener
	gw.Close()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
