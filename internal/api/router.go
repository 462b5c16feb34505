package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jarto666/scriptforge/internal/api/handler"
	"github.com/jarto666/scriptforge/internal/api/middleware"
	"github.com/jarto666/scriptforge/internal/gateway"
	"github.com/jarto666/scriptforge/internal/logger"
	"github.com/jarto666/scriptforge/internal/repository"
	"github.com/jarto666/scriptforge/internal/service"
)

// RouterConfig carries the router's dependencies and mode.
type RouterConfig struct {
	Mode        string
	CORS        middleware.CORSConfig
	Logger      *logger.Logger
	Coordinator *service.Coordinator
	Batches     *repository.BatchRepository
	Projects    *repository.ProjectRepository
	Gateway     *gateway.Gateway
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg RouterConfig) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	var sessionCounter func() int
	if cfg.Gateway != nil {
		sessionCounter = cfg.Gateway.SessionCount
	}
	healthHandler := handler.NewHealthHandler(sessionCounter)
	batchHandler := handler.NewBatchHandler(cfg.Coordinator, cfg.Batches, cfg.Projects)
	projectHandler := handler.NewProjectHandler(cfg.Projects)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Realtime notification gateway
	if cfg.Gateway != nil {
		r.GET("/ws", cfg.Gateway.Handle)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Batches
		v1.POST("/batches", batchHandler.CreateBatch)
		v1.GET("/batches/:id", batchHandler.GetBatch)
		v1.POST("/batches/:id/cancel", batchHandler.CancelBatch)

		// Projects
		v1.POST("/projects", projectHandler.CreateProject)
		v1.GET("/projects/:id", projectHandler.GetProject)
		v1.GET("/projects/:id/batches", batchHandler.ListBatches)
	}

	return r
}
