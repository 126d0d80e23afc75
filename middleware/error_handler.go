package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"
	"safewalk/models"
	"safewalk/utils"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	environment string
	logger      *logrus.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(environment string, logger *logrus.Logger) *ErrorHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ErrorHandler{
		environment: environment,
		logger:      logger,
	}
}

// Handle returns the error handling middleware
func (eh *ErrorHandler) Handle() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				eh.handlePanic(c, err)
			}
		}()

		c.Next()

		// Errors attached with c.Error and not yet answered
		if len(c.Errors) > 0 && !c.Writer.Written() {
			eh.handleGinErrors(c)
		}
	})
}

// handlePanic handles panic recovery
func (eh *ErrorHandler) handlePanic(c *gin.Context, err interface{}) {
	stack := string(debug.Stack())

	eh.logger.WithFields(logrus.Fields{
		"panic":      err,
		"stack":      stack,
		"request_id": c.GetString("request_id"),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"session_id": c.GetString("sessionID"),
	}).Error("Panic recovered")

	response := models.ErrorResponse{
		Error:     "INTERNAL_ERROR",
		Message:   "Internal server error",
		Code:      "PANIC_RECOVERED",
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().UTC(),
	}

	// Include stack trace in development
	if eh.environment == "development" {
		response.Details = map[string]interface{}{
			"panic": err,
			"stack": stack,
		}
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, response)
}

// handleGinErrors answers with the last error attached through c.Error
func (eh *ErrorHandler) handleGinErrors(c *gin.Context) {
	lastError := c.Errors.Last()
	if lastError == nil {
		return
	}

	for _, ginErr := range c.Errors {
		eh.logError(c, ginErr)
	}

	eh.processError(c, lastError)
}

// logError logs an error with context
func (eh *ErrorHandler) logError(c *gin.Context, ginErr *gin.Error) {
	fields := logrus.Fields{
		"error":      ginErr.Err.Error(),
		"request_id": c.GetString("request_id"),
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"session_id": c.GetString("sessionID"),
		"ip":         c.ClientIP(),
	}

	if eh.isClientError(ginErr) {
		eh.logger.WithFields(fields).Warn("Client error")
		return
	}
	eh.logger.WithFields(fields).Error("Server error")
}

// processError maps a handler error onto the API envelope. Database errors
// are matched before service errors so a wrapped driver timeout surfaces as
// such.
func (eh *ErrorHandler) processError(c *gin.Context, ginErr *gin.Error) {
	err := ginErr.Err

	switch {
	case eh.isValidationError(err):
		eh.handleValidationError(c, err)
	case ginErr.IsType(gin.ErrorTypeBind):
		eh.respond(c, http.StatusBadRequest, utils.ErrCodeBadRequest, "Invalid request body", nil)
	case eh.isMongoError(err):
		eh.handleMongoError(c, err)
	case eh.isServiceError(err):
		eh.handleServiceError(c, err)
	default:
		eh.handleGenericError(c, err)
	}
}

func (eh *ErrorHandler) isValidationError(err error) bool {
	var validationErr validator.ValidationErrors
	return errors.As(err, &validationErr)
}

func (eh *ErrorHandler) isServiceError(err error) bool {
	_, ok := utils.GetServiceError(err)
	return ok
}

func (eh *ErrorHandler) isMongoError(err error) bool {
	return mongo.IsDuplicateKeyError(err) ||
		errors.Is(err, mongo.ErrNoDocuments) ||
		mongo.IsTimeout(err) ||
		mongo.IsNetworkError(err)
}

// isClientError reports whether err maps to a 4xx response
func (eh *ErrorHandler) isClientError(ginErr *gin.Error) bool {
	err := ginErr.Err
	if eh.isValidationError(err) || ginErr.IsType(gin.ErrorTypeBind) || errors.Is(err, mongo.ErrNoDocuments) {
		return true
	}
	if eh.isMongoError(err) {
		return false
	}
	if serviceErr, ok := utils.GetServiceError(err); ok {
		return serviceErr.StatusCode >= 400 && serviceErr.StatusCode < 500
	}
	return false
}

func (eh *ErrorHandler) respond(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, models.APIResponse{
		Success: false,
		Message: message,
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	})
}

func (eh *ErrorHandler) handleValidationError(c *gin.Context, err error) {
	var validationErr validator.ValidationErrors
	errors.As(err, &validationErr)

	eh.respond(c, http.StatusBadRequest, utils.ErrCodeValidation, "Validation failed", formatValidationErrors(validationErr))
}

func (eh *ErrorHandler) handleServiceError(c *gin.Context, err error) {
	serviceErr, _ := utils.GetServiceError(err)

	status := serviceErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	eh.respond(c, status, serviceErr.Code, serviceErr.Message, serviceErr.Details)
}

func (eh *ErrorHandler) handleMongoError(c *gin.Context, err error) {
	switch {
	case mongo.IsDuplicateKeyError(err):
		eh.respond(c, http.StatusConflict, models.ErrCodeConflict, "Resource already exists", nil)
	case errors.Is(err, mongo.ErrNoDocuments):
		eh.respond(c, http.StatusNotFound, models.ErrCodeNotFound, "Resource not found", nil)
	case mongo.IsTimeout(err):
		eh.respond(c, http.StatusGatewayTimeout, "DATABASE_TIMEOUT", "Database operation timed out", nil)
	default:
		eh.respond(c, http.StatusServiceUnavailable, models.ErrCodeExternal, "Database connection error", nil)
	}
}

func (eh *ErrorHandler) handleGenericError(c *gin.Context, err error) {
	var details interface{}
	if eh.environment == "development" {
		details = map[string]interface{}{"original_error": err.Error()}
	}

	eh.respond(c, http.StatusInternalServerError, models.ErrCodeInternal, "Internal server error", details)
}

// formatValidationErrors lists the failed fields with a readable message
func formatValidationErrors(validationErrors validator.ValidationErrors) map[string]interface{} {
	fields := make(map[string]interface{})

	for _, err := range validationErrors {
		var message string
		switch err.Tag() {
		case "required":
			message = "This field is required"
		case "max":
			message = "Value is too long"
		case "phone":
			message = "Must be a valid phone number"
		case "coordinate":
			message = "Must be a valid coordinate"
		default:
			message = "Invalid value"
		}

		fields[err.Field()] = map[string]interface{}{
			"message": message,
			"tag":     err.Tag(),
		}
	}

	return map[string]interface{}{
		"fields": fields,
	}
}

// AbortWithError aborts the request with an error
func AbortWithError(c *gin.Context, statusCode int, errorType, message, code string) {
	c.AbortWithStatusJSON(statusCode, models.ErrorResponse{
		Error:     errorType,
		Message:   message,
		Code:      code,
		RequestID: c.GetString("request_id"),
		Timestamp: time.Now().UTC(),
	})
}

// NotFound responds with 404 error
func NotFound(c *gin.Context, message string) {
	AbortWithError(c, http.StatusNotFound, "NOT_FOUND", message, "RESOURCE_NOT_FOUND")
}
