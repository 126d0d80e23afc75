package controllers

import (
	"context"
	"net/http"
	"safewalk/database"
	"safewalk/utils"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const apiVersion = "1.0.0"

// HealthController reports the state of the backing services
type HealthController struct {
	redis        *redis.Client
	mongoEnabled bool
	smsEnabled   bool
	pushEnabled  bool
	startedAt    time.Time
}

type HealthOptions struct {
	Redis        *redis.Client
	MongoEnabled bool
	SMSEnabled   bool
	PushEnabled  bool
}

func NewHealthController(opts HealthOptions) *HealthController {
	return &HealthController{
		redis:        opts.Redis,
		mongoEnabled: opts.MongoEnabled,
		smsEnabled:   opts.SMSEnabled,
		pushEnabled:  opts.PushEnabled,
		startedAt:    time.Now(),
	}
}

// HealthCheck returns 200 while every configured dependency answers
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Failure 503 {object} models.HealthResponse
// @Router /health [get]
func (hc *HealthController) HealthCheck(c *gin.Context) {
	services := map[string]string{
		"database": "disabled",
		"redis":    "disabled",
		"sms":      enabledStatus(hc.smsEnabled),
		"push":     enabledStatus(hc.pushEnabled),
	}

	if hc.mongoEnabled {
		services["database"] = "unhealthy"
		if database.IsConnected() {
			services["database"] = "healthy"
		}
	}

	if hc.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		services["redis"] = "unhealthy"
		if hc.redis.Ping(ctx).Err() == nil {
			services["redis"] = "healthy"
		}
	}

	response := utils.HealthCheckResponse(services, apiVersion, utils.FormatDuration(time.Since(hc.startedAt)))

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

func enabledStatus(enabled bool) string {
	if enabled {
		return "healthy"
	}
	return "disabled"
}
