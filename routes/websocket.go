// routes/websocket.go
package routes

import (
	"safewalk/controllers"
	"safewalk/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// SetupWebSocketRoutes configures the device channel
func SetupWebSocketRoutes(router *gin.Engine, wsController *controllers.WebSocketController, redis *redis.Client) {
	// Main WebSocket connection endpoint. The session is created by the
	// hello message, so the upgrade itself is unauthenticated.
	router.GET("/ws", middleware.WebSocketRateLimit(redis), wsController.HandleWebSocket)

	router.GET("/api/v1/ws/stats", wsController.GetConnectionStats)
}
