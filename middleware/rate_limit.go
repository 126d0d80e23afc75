package middleware

import (
	"context"
	"fmt"
	"net/http"
	"safewalk/models"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Redis          *redis.Client
	Requests       int           // Number of requests allowed
	Window         time.Duration // Time window
	KeyPrefix      string        // Redis key prefix
	SkipPaths      []string      // Paths to skip rate limiting
	SkipUserAgents []string      // User agents to skip
	ErrorMessage   string        // Custom error message
}

// RateLimitStrategy defines different rate limiting strategies
type RateLimitStrategy string

const (
	StrategyIP          RateLimitStrategy = "ip"
	StrategySession     RateLimitStrategy = "session"
	StrategySessionOrIP RateLimitStrategy = "session_or_ip"
	StrategyGlobal      RateLimitStrategy = "global"
)

// RateLimiter is a sliding window limiter backed by Redis sorted sets.
// Without a Redis client every request passes.
type RateLimiter struct {
	config   RateLimitConfig
	strategy RateLimitStrategy
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig, strategy RateLimitStrategy) *RateLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	if config.ErrorMessage == "" {
		config.ErrorMessage = "Rate limit exceeded"
	}

	return &RateLimiter{
		config:   config,
		strategy: strategy,
	}
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		if rl.config.Redis == nil {
			c.Next()
			return
		}

		if rl.shouldSkipPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		if rl.shouldSkipUserAgent(c.GetHeader("User-Agent")) {
			c.Next()
			return
		}

		key := rl.getKey(c)
		if key == "" {
			c.Next()
			return
		}

		allowed, resetTime, remaining, err := rl.checkRateLimit(c.Request.Context(), key)
		if err != nil {
			logrus.Errorf("Rate limit check failed: %v", err)
			// Allow request to proceed on error
			c.Next()
			return
		}

		rl.setRateLimitHeaders(c, remaining, resetTime)

		if !allowed {
			rl.handleRateLimitExceeded(c, resetTime)
			return
		}

		c.Next()
	})
}

// checkRateLimit checks if request is within rate limit
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (allowed bool, resetTime time.Time, remaining int, err error) {
	now := time.Now()
	window := rl.config.Window
	member := strconv.FormatInt(now.UnixNano(), 10)

	// Sliding window log algorithm with Redis sorted sets
	pipe := rl.config.Redis.Pipeline()

	expiredBefore := now.Add(-window).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(expiredBefore, 10))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})
	pipe.Expire(ctx, key, window+time.Minute)

	results, err := pipe.Exec(ctx)
	if err != nil {
		return false, time.Time{}, 0, err
	}

	// Count before adding the current request
	currentCount := results[1].(*redis.IntCmd).Val()

	remaining = rl.config.Requests - int(currentCount) - 1
	if remaining < 0 {
		remaining = 0
	}

	resetTime = now.Add(window)
	allowed = currentCount < int64(rl.config.Requests)

	// Rejected requests do not count against the window
	if !allowed {
		rl.config.Redis.ZRem(ctx, key, member)
	}

	return allowed, resetTime, remaining, nil
}

// getKey generates rate limit key based on strategy
func (rl *RateLimiter) getKey(c *gin.Context) string {
	prefix := rl.config.KeyPrefix

	switch rl.strategy {
	case StrategyIP:
		return fmt.Sprintf("%s:ip:%s", prefix, getClientIP(c))

	case StrategySession:
		sessionID := c.GetString("sessionID")
		if sessionID == "" {
			return ""
		}
		return fmt.Sprintf("%s:session:%s", prefix, sessionID)

	case StrategySessionOrIP:
		sessionID := c.GetString("sessionID")
		if sessionID != "" {
			return fmt.Sprintf("%s:session:%s", prefix, sessionID)
		}
		return fmt.Sprintf("%s:ip:%s", prefix, getClientIP(c))

	case StrategyGlobal:
		return fmt.Sprintf("%s:global", prefix)

	default:
		return fmt.Sprintf("%s:ip:%s", prefix, getClientIP(c))
	}
}

// getClientIP gets the real client IP
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}

	return c.ClientIP()
}

// setRateLimitHeaders sets rate limit related headers
func (rl *RateLimiter) setRateLimitHeaders(c *gin.Context, remaining int, resetTime time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
	c.Header("X-RateLimit-Window", rl.config.Window.String())
}

// handleRateLimitExceeded handles rate limit exceeded scenarios
func (rl *RateLimiter) handleRateLimitExceeded(c *gin.Context, resetTime time.Time) {
	retryAfter := time.Until(resetTime).Seconds()
	if retryAfter < 0 {
		retryAfter = 0
	}

	c.Header("Retry-After", strconv.Itoa(int(retryAfter)))

	response := models.ErrorResponse{
		Error:     "RATE_LIMIT_EXCEEDED",
		Message:   rl.config.ErrorMessage,
		Code:      "TOO_MANY_REQUESTS",
		RequestID: c.GetString("request_id"),
		Details: map[string]interface{}{
			"retry_after": int(retryAfter),
			"reset_time":  resetTime.Unix(),
		},
		Timestamp: time.Now().UTC(),
	}

	logrus.WithFields(logrus.Fields{
		"client_ip":   getClientIP(c),
		"session_id":  c.GetString("sessionID"),
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	c.JSON(http.StatusTooManyRequests, response)
	c.Abort()
}

// shouldSkipPath checks if path should be skipped
func (rl *RateLimiter) shouldSkipPath(path string) bool {
	for _, skipPath := range rl.config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// shouldSkipUserAgent checks if user agent should be skipped
func (rl *RateLimiter) shouldSkipUserAgent(userAgent string) bool {
	for _, skipUA := range rl.config.SkipUserAgents {
		if strings.Contains(userAgent, skipUA) {
			return true
		}
	}
	return false
}

// SOSDebounce rejects a second emergency trigger from the same session
// inside window. The first trigger claims the key with SETNX.
func SOSDebounce(rdb *redis.Client, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetString("sessionID")
		if rdb == nil || sessionID == "" || window <= 0 {
			c.Next()
			return
		}

		key := "sos_debounce:" + sessionID
		claimed, err := rdb.SetNX(c.Request.Context(), key, time.Now().Unix(), window).Result()
		if err != nil {
			logrus.Errorf("SOS debounce check failed: %v", err)
			c.Next()
			return
		}

		if !claimed {
			logrus.WithField("session_id", sessionID).Info("Duplicate emergency trigger debounced")
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.JSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:     "RATE_LIMIT_EXCEEDED",
				Message:   "Emergency already triggered",
				Code:      "SOS_DEBOUNCED",
				RequestID: c.GetString("request_id"),
				Timestamp: time.Now().UTC(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Predefined rate limiters

// DefaultRateLimit allows 100 requests per minute per IP
func DefaultRateLimit(redis *redis.Client) gin.HandlerFunc {
	config := RateLimitConfig{
		Redis:        redis,
		Requests:     100,
		Window:       time.Minute,
		KeyPrefix:    "rate_limit",
		ErrorMessage: "Too many requests. Please try again later.",
		SkipPaths: []string{
			"/health",
			"/ws",
		},
		SkipUserAgents: []string{
			"kube-probe",
			"GoogleHC",
		},
	}

	limiter := NewRateLimiter(config, StrategyIP)
	return limiter.Middleware()
}

// APIRateLimit limits session API calls
func APIRateLimit(redis *redis.Client) gin.HandlerFunc {
	config := RateLimitConfig{
		Redis:        redis,
		Requests:     1000,
		Window:       time.Hour,
		KeyPrefix:    "api_rate_limit",
		ErrorMessage: "API rate limit exceeded. Please try again later.",
	}

	limiter := NewRateLimiter(config, StrategySessionOrIP)
	return limiter.Middleware()
}

// EmergencyRateLimit creates rate limiter for emergency triggers
func EmergencyRateLimit(redis *redis.Client) gin.HandlerFunc {
	config := RateLimitConfig{
		Redis:        redis,
		Requests:     3,
		Window:       time.Minute,
		KeyPrefix:    "emergency_rate_limit",
		ErrorMessage: "Emergency alert rate limit exceeded.",
	}

	limiter := NewRateLimiter(config, StrategySession)
	return limiter.Middleware()
}

// WebSocketRateLimit creates rate limiter for WebSocket connections
func WebSocketRateLimit(redis *redis.Client) gin.HandlerFunc {
	config := RateLimitConfig{
		Redis:        redis,
		Requests:     10,
		Window:       time.Minute,
		KeyPrefix:    "ws_rate_limit",
		ErrorMessage: "WebSocket connection rate limit exceeded.",
	}

	limiter := NewRateLimiter(config, StrategyIP)
	return limiter.Middleware()
}

// RateLimitMiddleware picks the global limiter for the environment
func RateLimitMiddleware(redis *redis.Client, environment string) gin.HandlerFunc {
	switch environment {
	case "development":
		config := RateLimitConfig{
			Redis:     redis,
			Requests:  10000,
			Window:    time.Hour,
			KeyPrefix: "dev_rate_limit",
			SkipPaths: []string{"/health"},
		}
		return NewRateLimiter(config, StrategyIP).Middleware()
	default:
		return DefaultRateLimit(redis)
	}
}
