package middleware

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"regexp"
	"safewalk/utils"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Logger      *logrus.Logger
	LogBodies   bool
	MaxBodySize int64
	SkipPaths   []string
	// Paths logged at warn level whatever their status
	AlertPaths []string
}

var phoneFieldPattern = regexp.MustCompile(`"phone"\s*:\s*"([^"]*)"`)

// LoggerMiddleware logs one line per request with the session it ran for
func LoggerMiddleware(config LoggerConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = 4096
	}

	return func(c *gin.Context) {
		requestID := ensureRequestID(c)

		if shouldSkipPath(c.Request.URL.Path, config.SkipPaths) {
			c.Next()
			return
		}

		startTime := time.Now()

		var requestBody []byte
		var responseBody *bytes.Buffer
		if config.LogBodies {
			requestBody = captureRequestBody(c, config.MaxBodySize)
			responseBody = &bytes.Buffer{}
			c.Writer = &responseBodyWriter{
				ResponseWriter: c.Writer,
				body:           responseBody,
				maxSize:        config.MaxBodySize,
			}
		}

		c.Next()

		duration := time.Since(startTime)
		fields := createLogFields(c, duration, requestID, requestBody, responseBody)
		alert := shouldSkipPath(c.FullPath(), config.AlertPaths)

		logRequest(config.Logger, c.Writer.Status(), duration, alert, fields)
	}
}

// LoggerForEnvironment picks the request logger for the environment
func LoggerForEnvironment(environment string) gin.HandlerFunc {
	config := LoggerConfig{
		Logger:    logrus.StandardLogger(),
		SkipPaths: []string{"/health", "/favicon.ico"},
		AlertPaths: []string{
			"/api/v1/session/emergency/trigger",
		},
	}

	switch environment {
	case "development":
		// The device channel logs its own traffic
		config.LogBodies = true
		config.MaxBodySize = 8192
		config.SkipPaths = []string{"/health", "/ws"}
	case "production":
		config.MaxBodySize = 1024
	}

	return LoggerMiddleware(config)
}

func ensureRequestID(c *gin.Context) string {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Set("request_id", requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body    *bytes.Buffer
	maxSize int64
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)

	if remaining := int(w.maxSize) - w.body.Len(); remaining > 0 {
		if len(b) > remaining {
			b = b[:remaining]
		}
		w.body.Write(b)
	}

	return n, err
}

func captureRequestBody(c *gin.Context, maxSize int64) []byte {
	if c.Request.Body == nil {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSize))
	if err != nil {
		return nil
	}

	// Put back what was read in front of whatever is left
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), c.Request.Body))

	return body
}

// redactPhones masks contact phone numbers in a JSON body
func redactPhones(body string) string {
	return phoneFieldPattern.ReplaceAllStringFunc(body, func(match string) string {
		phone := phoneFieldPattern.FindStringSubmatch(match)[1]
		return fmt.Sprintf(`"phone":"%s"`, utils.MaskPhoneNumber(phone))
	})
}

func createLogFields(c *gin.Context, duration time.Duration, requestID string, requestBody []byte, responseBody *bytes.Buffer) logrus.Fields {
	fields := logrus.Fields{
		"request_id":    requestID,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"status":        c.Writer.Status(),
		"latency_ms":    float64(duration.Nanoseconds()) / 1000000.0,
		"ip":            c.ClientIP(),
		"user_agent":    c.GetHeader("User-Agent"),
		"response_size": c.Writer.Size(),
	}

	if sessionID := c.GetString("sessionID"); sessionID != "" {
		fields["session_id"] = sessionID
	}

	if len(requestBody) > 0 {
		if isTextContent(c.GetHeader("Content-Type")) {
			fields["request_body"] = redactPhones(string(requestBody))
		} else {
			fields["request_body_size"] = len(requestBody)
		}
	}

	// Photos are logged by size only
	if responseBody != nil && responseBody.Len() > 0 {
		if isTextContent(c.Writer.Header().Get("Content-Type")) {
			fields["response_body"] = redactPhones(responseBody.String())
		} else {
			fields["response_body_size"] = responseBody.Len()
		}
	}

	if len(c.Errors) > 0 {
		fields["errors"] = c.Errors.Errors()
	}

	return fields
}

func logRequest(logger *logrus.Logger, statusCode int, duration time.Duration, alert bool, fields logrus.Fields) {
	message := fmt.Sprintf("%s %s %d %s",
		fields["method"],
		fields["path"],
		statusCode,
		duration,
	)

	entry := logger.WithFields(fields)
	switch {
	case statusCode >= 500:
		entry.Error(message)
	case statusCode >= 400, alert:
		entry.Warn(message)
	case duration > 5*time.Second:
		entry.Warn(message + " (slow request)")
	default:
		entry.Info(message)
	}
}

func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if path != "" && strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

func isTextContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

// RequestIDMiddleware adds request ID to all requests
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ensureRequestID(c)
		c.Next()
	}
}

// timingWriter stamps X-Response-Time just before the headers go out
type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	ms := math.Ceil(float64(time.Since(w.start).Nanoseconds()) / 1000000.0)
	w.Header().Set("X-Response-Time", fmt.Sprintf("%.0fms", ms))
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

// ResponseTimeMiddleware adds the X-Response-Time header
func ResponseTimeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: time.Now()}
		c.Next()
	}
}
