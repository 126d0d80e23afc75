package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Capability method names understood by the device runtimes
const (
	MethodIsNativePlatform          = "runtime.isNativePlatform"
	MethodGetCurrentPosition        = "geolocation.getCurrentPosition"
	MethodWatchPosition             = "geolocation.watchPosition"
	MethodClearWatch                = "geolocation.clearWatch"
	MethodGeolocationPermissions    = "geolocation.requestPermissions"
	MethodGetPhoto                  = "camera.getPhoto"
	MethodHapticsImpact             = "haptics.impact"
	MethodVibrate                   = "navigator.vibrate"
	MethodScheduleLocalNotification = "localNotifications.schedule"
	MethodLocalNotificationPerms    = "localNotifications.requestPermissions"
	MethodNotificationPermission    = "notification.permission"
	MethodRequestNotificationPerm   = "notification.requestPermission"
	MethodShowNotification          = "notification.show"
	MethodDeviceInfo                = "device.getInfo"
)

// Device error codes carried in capability responses
const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeUnavailable      = "UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeUnknown          = "UNKNOWN"
)

// ErrBridgeClosed is returned for calls on a disconnected device
var ErrBridgeClosed = errors.New("device bridge closed")

// Bridge carries capability calls to the device and streams watch events back
type Bridge interface {
	// Invoke runs method on the device and decodes its result into result
	// (which may be nil). Device-side failures come back as *RemoteError.
	Invoke(ctx context.Context, method string, params interface{}, result interface{}) error

	// Watch starts a device-side subscription. onEvent receives each tick's
	// payload, or a non-nil error when the device reports a failure.
	Watch(ctx context.Context, method string, params interface{}, onEvent func(payload json.RawMessage, err error)) (string, error)

	// Unwatch drops the local handler of a subscription
	Unwatch(watchID string)
}

// RemoteError is a failure reported by the device runtime
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device error %s", e.Code)
	}
	return fmt.Sprintf("device error %s: %s", e.Code, e.Message)
}
