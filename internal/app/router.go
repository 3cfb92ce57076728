package app

import (
	"github.com/gin-gonic/gin"

	"github.com/liftline/liftline-backend/internal/handlers"
	"github.com/liftline/liftline-backend/internal/server"
)

func wireRouter(s Services) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		EventsHandler:    handlers.NewEventsHandler(s.Events),
		AdminJobsHandler: handlers.NewAdminJobsHandler(s.Jobs),
		MonitorHandler:   handlers.NewMonitorHandler(s.Monitor),
	})
}
