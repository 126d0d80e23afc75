package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"safewalk/models"
	"safewalk/utils"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// NewUpgrader builds the WebSocket upgrader. An empty allow list accepts
// every origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			logrus.Debugf("WebSocket connection from origin: %s", origin)
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// newCommandLimiter allows perMinute commands a minute with a burst of the
// same size, so a fresh connection can replay its setup at once
func newCommandLimiter(perMinute int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// validateWebSocketMessage validates incoming WebSocket message structure
func validateWebSocketMessage(msg models.WSRequest) error {
	if msg.Type == "" {
		return errors.New("message type is required")
	}

	// Validate specific message types
	switch msg.Type {
	case models.WSTypeCapabilityResponse:
		if msg.RequestID == "" {
			return errors.New("capability response without requestId")
		}
	case models.WSTypeCapabilityEvent, models.WSTypeAddContact, models.WSTypeRemoveContact, models.WSTypeUpdateSetting:
		if len(msg.Data) == 0 {
			return errors.New(msg.Type + " requires data")
		}
	}

	return nil
}

// createCommandResult creates a standardized command response
func createCommandResult(command string, result interface{}, requestID string) models.WSMessage {
	return models.WSMessage{
		Type:      models.WSTypeCommandResult,
		RequestID: requestID,
		Data: models.WSCommandResult{
			Command: command,
			Success: true,
			Result:  result,
		},
		Timestamp: time.Now(),
	}
}

// createErrorResponse creates a standardized error response
func createErrorResponse(code, message string, requestID string) models.WSMessage {
	return models.WSMessage{
		Type:      models.WSTypeError,
		RequestID: requestID,
		Data: models.WSError{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now(),
	}
}

// wsErrorFromService maps a service error onto a WebSocket error code
func wsErrorFromService(err error) (string, string) {
	serviceErr, ok := utils.GetServiceError(err)
	if !ok {
		return models.WSErrorInternal, "Internal error"
	}

	switch serviceErr.StatusCode {
	case http.StatusBadRequest:
		if details, ok := serviceErr.Details.([]utils.ValidationError); ok && len(details) > 0 {
			return models.WSErrorValidation, details[0].Message
		}
		return models.WSErrorValidation, serviceErr.Message
	case http.StatusUnauthorized:
		return models.WSErrorUnauthorized, serviceErr.Message
	case http.StatusNotFound, http.StatusGone:
		return models.WSErrorNotFound, serviceErr.Message
	case http.StatusConflict:
		return models.WSErrorConflict, serviceErr.Message
	case http.StatusTooManyRequests:
		return models.WSErrorRateLimit, serviceErr.Message
	default:
		return models.WSErrorInternal, serviceErr.Message
	}
}

// sanitizeMessageData prepares a payload for the debug log: credentials are
// dropped, phone numbers masked and image data replaced by its length
func sanitizeMessageData(data interface{}) interface{} {
	if data == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	return sanitizeValue("", generic)
}

func sanitizeValue(key string, value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for k, item := range v {
			if isSensitiveField(k) {
				continue
			}
			result[k] = sanitizeValue(k, item)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = sanitizeValue(key, item)
		}
		return result

	case string:
		switch strings.ToLower(key) {
		case "phone":
			return utils.MaskPhoneNumber(v)
		case "base64", "base64string", "dataurl", "photo":
			return fmt.Sprintf("<%d bytes>", len(v))
		}
		return v

	default:
		return v
	}
}

func isSensitiveField(fieldName string) bool {
	fieldLower := strings.ToLower(fieldName)
	for _, sensitive := range []string{"token", "secret", "password", "credential"} {
		if strings.Contains(fieldLower, sensitive) {
			return true
		}
	}
	return false
}

// logWebSocketEvent logs WebSocket events for debugging
func logWebSocketEvent(client *Client, eventType string, data interface{}) {
	if logrus.GetLevel() == logrus.DebugLevel {
		logrus.WithFields(logrus.Fields{
			"sessionID":    client.SessionID(),
			"connectionID": client.connectionID,
			"eventType":    eventType,
			"data":         sanitizeMessageData(data),
		}).Debug("WebSocket event processed")
	}
}
