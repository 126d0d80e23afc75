// routes/routes.go
package routes

import (
	"safewalk/controllers"
	"safewalk/middleware"
	"safewalk/services"
	"safewalk/websocket"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Dependencies are the long-lived components the routes are wired to
type Dependencies struct {
	Environment    string
	AllowedOrigins []string
	SOSDebounce    time.Duration

	Redis    *redis.Client
	Sessions *services.SessionService
	Hub      *websocket.Hub
	Photos   controllers.PhotoReader
	Health   controllers.HealthOptions
}

// Controllers initialization
type Controllers struct {
	Safety    *controllers.SafetyController
	WebSocket *controllers.WebSocketController
	Health    *controllers.HealthController
}

// SetupRoutes initializes all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	router := gin.New()

	controllers := initializeControllers(deps)

	setupGlobalMiddleware(router, deps)

	setupPublicRoutes(router, controllers, deps)
	setupSessionRoutes(router, controllers, deps)

	return router
}

func initializeControllers(deps Dependencies) *Controllers {
	health := deps.Health
	health.Redis = deps.Redis

	return &Controllers{
		Safety:    controllers.NewSafetyController(deps.Sessions, deps.Photos, deps.Hub),
		WebSocket: controllers.NewWebSocketController(deps.Hub),
		Health:    controllers.NewHealthController(health),
	}
}

// Global middleware setup
func setupGlobalMiddleware(router *gin.Engine, deps Dependencies) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerForEnvironment(deps.Environment))
	router.Use(middleware.ResponseTimeMiddleware())
	// Inside the logger so it records the status the handler errors map to
	router.Use(middleware.NewErrorHandler(deps.Environment, logrus.StandardLogger()).Handle())

	router.Use(middleware.CORSMiddleware(deps.Environment, deps.AllowedOrigins))
	router.Use(middleware.RateLimitMiddleware(deps.Redis, deps.Environment))

	router.NoRoute(func(c *gin.Context) {
		middleware.NotFound(c, "Route not found")
	})
}

// Public routes (no session required)
func setupPublicRoutes(router *gin.Engine, controllers *Controllers, deps Dependencies) {
	router.GET("/health", controllers.Health.HealthCheck)

	public := router.Group("/api/v1")
	{
		public.GET("/sessions/count", controllers.Safety.GetSessionCount)
		public.GET("/sessions/stats", controllers.Safety.GetSessionStats)
	}

	SetupWebSocketRoutes(router, controllers.WebSocket, deps.Redis)
}

// Session routes (requires a valid session token)
func setupSessionRoutes(router *gin.Engine, controllers *Controllers, deps Dependencies) {
	authMiddleware := middleware.NewAuthMiddleware(deps.Sessions)

	api := router.Group("/api/v1")
	api.Use(authMiddleware.RequireSession())
	api.Use(middleware.APIRateLimit(deps.Redis))

	SetupSafetyRoutes(api, controllers.Safety, deps.Redis, deps.SOSDebounce)
}
