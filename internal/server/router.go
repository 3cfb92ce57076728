package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/liftline/liftline-backend/internal/handlers"
)

type RouterConfig struct {
	EventsHandler    *handlers.EventsHandler
	AdminJobsHandler *handlers.AdminJobsHandler
	MonitorHandler   *handlers.MonitorHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/events", cfg.EventsHandler.Append)

		admin := api.Group("/admin")
		{
			admin.POST("/backfill", cfg.AdminJobsHandler.Backfill)
			admin.GET("/jobs/status", cfg.AdminJobsHandler.Status)
			admin.GET("/jobs/:id", cfg.AdminJobsHandler.GetByID)
			admin.POST("/jobs/:id/requeue", cfg.AdminJobsHandler.Requeue)
			admin.POST("/jobs/:id/cancel", cfg.AdminJobsHandler.Cancel)
			admin.GET("/freshness", cfg.MonitorHandler.Freshness)
			admin.GET("/freshness/summary", cfg.MonitorHandler.Summary)
		}
	}

	return router
}
