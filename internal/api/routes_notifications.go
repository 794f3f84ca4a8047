package api

import (
	"github.com/gin-gonic/gin"

	"github.com/neshama/shivanotify/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	if api == nil || handler == nil {
		return
	}

	api.GET("/pages/:id/notifications/failures", handler.Failures)
	api.GET("/notifications/exists", handler.Exists)

	hooks := api.Group("/hooks")
	{
		hooks.POST("/signup-created", handler.SignupCreated)
		hooks.POST("/co-organizer-invited", handler.CoOrganizerInvited)
	}
}
