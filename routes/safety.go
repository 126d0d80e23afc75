// routes/safety.go
package routes

import (
	"safewalk/controllers"
	"safewalk/middleware"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// SetupSafetyRoutes configures the routes of the authenticated session
func SetupSafetyRoutes(router *gin.RouterGroup, safetyController *controllers.SafetyController, redis *redis.Client, sosDebounce time.Duration) {
	session := router.Group("/session")
	{
		session.GET("/state", safetyController.GetState)
		session.DELETE("", safetyController.CloseSession)
	}

	emergency := session.Group("/emergency")
	{
		emergency.POST("/trigger",
			middleware.EmergencyRateLimit(redis),
			middleware.SOSDebounce(redis, sosDebounce),
			safetyController.TriggerEmergency,
		)
		emergency.GET("/history", safetyController.GetEmergencyHistory)
		emergency.GET("/photos/:photoId", safetyController.GetEmergencyPhoto)
	}

	contacts := session.Group("/contacts")
	{
		contacts.POST("", safetyController.AddContact)
		contacts.DELETE("/:contactId", safetyController.RemoveContact)
	}

	session.PUT("/settings/:key", safetyController.UpdateSetting)
}
