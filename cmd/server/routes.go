package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/handlers"
	"github.com/huangang/taskreport/internal/middleware"
	"github.com/huangang/taskreport/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine. The returned
// limiter must be closed on shutdown.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) *middleware.RateLimiter {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	healthHandler := handlers.NewHealthHandler(svc.db, svc.taskQueue, svc.mail, svc.pipeline)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(svc.metrics))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)

	api := r.Group("/api", middleware.CORS(cfg.Server.CORSOrigins...), limiter.Middleware())
	{
		// Report configurations
		reportConfigHandler := handlers.NewReportConfigHandler(svc.configs, svc.pipeline, svc.dispatcher)
		api.GET("/report-configs", reportConfigHandler.List)
		api.POST("/report-configs", reportConfigHandler.Create)
		api.GET("/report-configs/:id", reportConfigHandler.Get)
		api.PUT("/report-configs/:id", reportConfigHandler.Update)
		api.DELETE("/report-configs/:id", reportConfigHandler.Delete)
		api.GET("/report-configs/:id/schedule", reportConfigHandler.Schedule)
		api.POST("/report-configs/:id/generate", reportConfigHandler.Generate)
		api.POST("/report-configs/:id/send", reportConfigHandler.Send)

		// Delivery history
		deliveryHandler := handlers.NewReportDeliveryHandler(svc.deliveries)
		api.GET("/report-deliveries", deliveryHandler.List)

		// Lookups for the configuration form
		directoryHandler := handlers.NewDirectoryHandler(svc.directory, svc.holidays)
		api.GET("/teams", directoryHandler.SearchTeams)
		api.GET("/teams/:id/members", directoryHandler.TeamMembers)
		api.GET("/report-options", directoryHandler.Options)
	}

	return limiter
}
