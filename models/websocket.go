// models/websocket.go
package models

import (
	"encoding/json"
	"time"
)

// WebSocket envelope sent to the device
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocket envelope received from the device. Data is decoded per type.
type WSRequest struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// WSHello is the first message a device sends after connecting
type WSHello struct {
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion,omitempty"`
	PushToken  string `json:"pushToken,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
}

type WSSession struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsNative  bool      `json:"isNativeApp"`
}

// WSCapabilityRequest asks the device to run one capability method
type WSCapabilityRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type WSCapabilityError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type WSCapabilityResponse struct {
	OK     bool               `json:"ok"`
	Result json.RawMessage    `json:"result,omitempty"`
	Error  *WSCapabilityError `json:"error,omitempty"`
}

// WSCapabilityEvent carries one tick of a device-side subscription
type WSCapabilityEvent struct {
	WatchID string             `json:"watchId"`
	Payload json.RawMessage    `json:"payload,omitempty"`
	Error   *WSCapabilityError `json:"error,omitempty"`
}

type WSUpdateSetting struct {
	Key   SettingKey `json:"key"`
	Value bool       `json:"value"`
}

type WSRemoveContact struct {
	ID string `json:"id"`
}

type WSCommandResult struct {
	Command string      `json:"command"`
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Device -> server message types
const (
	WSTypeHello              = "hello"
	WSTypeCapabilityResponse = "capability.response"
	WSTypeCapabilityEvent    = "capability.event"
	WSTypeTriggerEmergency   = "trigger_emergency"
	WSTypeAddContact         = "add_contact"
	WSTypeRemoveContact      = "remove_contact"
	WSTypeUpdateSetting      = "update_setting"
	WSTypeGetState           = "get_state"
	WSTypePing               = "ping"
)

// Server -> device message types
const (
	WSTypeSession           = "session"
	WSTypeState             = "state"
	WSTypeCapabilityRequest = "capability.request"
	WSTypeCommandResult     = "command_result"
	WSTypeError             = "error"
	WSTypePong              = "pong"
)

// WebSocket error codes
const (
	WSErrorInvalidMessage = "INVALID_MESSAGE"
	WSErrorUnauthorized   = "UNAUTHORIZED"
	WSErrorRateLimit      = "RATE_LIMIT"
	WSErrorValidation     = "VALIDATION_ERROR"
	WSErrorNotFound       = "NOT_FOUND"
	WSErrorConflict       = "CONFLICT"
	WSErrorUnknownType    = "UNKNOWN_TYPE"
	WSErrorInternal       = "INTERNAL_ERROR"
)
