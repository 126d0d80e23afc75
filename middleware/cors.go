package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Origins of the app shells: the iOS and Android webviews and the Vite dev server
var appShellOrigins = []string{
	"capacitor://localhost",
	"ionic://localhost",
	"http://localhost",
	"http://localhost:5173",
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowAllOrigins  bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows the app shells plus the configured origins
func DefaultCORSConfig(allowedOrigins []string) CORSConfig {
	origins := append([]string{}, appShellOrigins...)
	origins = append(origins, allowedOrigins...)

	return CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
			"X-Request-ID",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"X-Response-Time",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

// CORS returns a CORS middleware with the given configuration. Requests
// without an Origin (the native shells' HTTP plugin, curl) pass untouched.
func CORS(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin == "" {
			c.Next()
			return
		}

		if !isOriginAllowed(config, origin) {
			logrus.WithField("origin", origin).Warn("CORS: origin not allowed")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		setAllowOrigin(c, config, origin)

		if c.Request.Method == http.MethodOptions {
			handlePreflightRequest(c, config)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		if len(config.ExposeHeaders) > 0 {
			c.Header("Access-Control-Expose-Headers", strings.Join(config.ExposeHeaders, ", "))
		}
		c.Next()
	}
}

func setAllowOrigin(c *gin.Context, config CORSConfig, origin string) {
	// Credentials forbid the "*" wildcard, so echo the origin back
	if config.AllowAllOrigins && !config.AllowCredentials {
		c.Header("Access-Control-Allow-Origin", "*")
	} else {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
	}

	if config.AllowCredentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}
}

func handlePreflightRequest(c *gin.Context, config CORSConfig) {
	requestMethod := c.Request.Header.Get("Access-Control-Request-Method")
	if requestMethod != "" && isMethodAllowed(config, requestMethod) {
		c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
	}

	if requestHeaders := c.Request.Header.Get("Access-Control-Request-Headers"); requestHeaders != "" {
		if allowed := filterAllowedHeaders(config, requestHeaders); len(allowed) > 0 {
			c.Header("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
		}
	} else if len(config.AllowHeaders) > 0 {
		c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
	}

	if config.MaxAge > 0 {
		c.Header("Access-Control-Max-Age", strconv.Itoa(int(config.MaxAge.Seconds())))
	}
}

func isOriginAllowed(config CORSConfig, origin string) bool {
	if config.AllowAllOrigins {
		return true
	}

	for _, allowedOrigin := range config.AllowOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
		// *.example.com
		if strings.HasPrefix(allowedOrigin, "*.") && strings.HasSuffix(origin, allowedOrigin[1:]) {
			return true
		}
	}

	return false
}

func isMethodAllowed(config CORSConfig, method string) bool {
	for _, allowedMethod := range config.AllowMethods {
		if allowedMethod == method {
			return true
		}
	}
	return false
}

func filterAllowedHeaders(config CORSConfig, requestHeaders string) []string {
	var allowed []string
	for _, header := range strings.Split(requestHeaders, ",") {
		header = strings.TrimSpace(header)
		if isHeaderAllowed(config, header) {
			allowed = append(allowed, header)
		}
	}
	return allowed
}

func isHeaderAllowed(config CORSConfig, header string) bool {
	switch strings.ToLower(header) {
	case "accept", "accept-language", "content-language", "content-type":
		return true
	}

	for _, allowedHeader := range config.AllowHeaders {
		if allowedHeader == "*" || strings.EqualFold(allowedHeader, header) {
			return true
		}
	}
	return false
}

// CORSMiddleware selects the CORS configuration for the environment.
// Development without explicit origins accepts any origin.
func CORSMiddleware(environment string, allowedOrigins []string) gin.HandlerFunc {
	config := DefaultCORSConfig(allowedOrigins)

	if environment == "development" && len(allowedOrigins) == 0 {
		logrus.Info("Using development CORS configuration")
		config.AllowAllOrigins = true
		config.AllowHeaders = []string{"*"}
		return CORS(config)
	}

	logrus.Infof("Using CORS configuration with %d allowed origins", len(config.AllowOrigins))
	return CORS(config)
}
