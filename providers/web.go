package providers

import (
	"context"
	"safewalk/models"
	"sync"

	"github.com/sirupsen/logrus"
)

const webRuntime = "web"

// Browser notification permission states
const (
	permissionGranted = "granted"
	permissionDenied  = "denied"
)

var vibrationPattern = []int{200, 100, 200, 100, 200}

// WebProvider falls back to browser APIs when the app runs outside the
// native shell.
type WebProvider struct {
	bridge Bridge
	opts   Options
}

func NewWebProvider(bridge Bridge, opts Options) *WebProvider {
	return &WebProvider{
		bridge: bridge,
		opts:   opts.withDefaults(),
	}
}

func (wp *WebProvider) IsNativeRuntime() bool {
	return false
}

func (wp *WebProvider) GetCurrentLocation(ctx context.Context) *models.Location {
	ctx, cancel := context.WithTimeout(ctx, wp.opts.LocationTimeout)
	defer cancel()

	var pos position
	if err := wp.bridge.Invoke(ctx, MethodGetCurrentPosition, nil, &pos); err != nil {
		logFailure(webRuntime, "getCurrentLocation", err)
		return nil
	}

	loc := pos.location()
	return &loc
}

func (wp *WebProvider) WatchLocation(ctx context.Context, onUpdate func(models.Location)) *Subscription {
	params := map[string]interface{}{"enableHighAccuracy": true}
	return watchPosition(ctx, wp.bridge, webRuntime, params, wp.opts.CallTimeout, onUpdate)
}

func (wp *WebProvider) CaptureEmergencyPhoto(ctx context.Context) *Photo {
	logrus.Debug("Camera not available in web mode")
	return nil
}

func (wp *WebProvider) TriggerEmergencyHaptics(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, wp.opts.CallTimeout)
	defer cancel()

	params := map[string]interface{}{"pattern": vibrationPattern}
	if err := wp.bridge.Invoke(ctx, MethodVibrate, params, nil); err != nil {
		logFailure(webRuntime, "triggerEmergencyHaptics", err)
	}
}

// ScheduleNotification shows a browser notification, asking for permission
// first when the user has not decided yet. A denied permission is a no-op.
func (wp *WebProvider) ScheduleNotification(ctx context.Context, title, body string) {
	ctx, cancel := context.WithTimeout(ctx, wp.opts.LocationTimeout)
	defer cancel()

	permission, err := wp.notificationPermission(ctx, MethodNotificationPermission)
	if err != nil {
		logFailure(webRuntime, "scheduleNotification", err)
		return
	}

	if permission != permissionGranted {
		if permission == permissionDenied {
			logrus.Debug("Notification permission denied, skipping notification")
			return
		}

		permission, err = wp.notificationPermission(ctx, MethodRequestNotificationPerm)
		if err != nil {
			logFailure(webRuntime, "scheduleNotification", err)
			return
		}
		if permission != permissionGranted {
			return
		}
	}

	params := map[string]interface{}{
		"title": title,
		"body":  body,
		"icon":  "/favicon.ico",
	}
	if err := wp.bridge.Invoke(ctx, MethodShowNotification, params, nil); err != nil {
		logFailure(webRuntime, "scheduleNotification", err)
	}
}

// GetDeviceInfo returns a synthetic record; browsers expose no device plugin
func (wp *WebProvider) GetDeviceInfo(ctx context.Context) *models.DeviceInfo {
	return &models.DeviceInfo{
		Model:        "Web Browser",
		Platform:     "web",
		OSVersion:    wp.opts.UserAgent,
		Manufacturer: "Unknown",
	}
}

// RequestPermissions asks for geolocation and notifications together and
// succeeds when at least one was granted.
func (wp *WebProvider) RequestPermissions(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, wp.opts.LocationTimeout)
	defer cancel()

	var (
		wg            sync.WaitGroup
		locationOK    bool
		notifyGranted bool
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := wp.bridge.Invoke(ctx, MethodGetCurrentPosition, nil, nil); err != nil {
			logFailure(webRuntime, "requestPermissions", err)
			return
		}
		locationOK = true
	}()
	go func() {
		defer wg.Done()
		permission, err := wp.notificationPermission(ctx, MethodRequestNotificationPerm)
		if err != nil {
			logFailure(webRuntime, "requestPermissions", err)
			return
		}
		notifyGranted = permission == permissionGranted
	}()
	wg.Wait()

	return locationOK || notifyGranted
}

func (wp *WebProvider) notificationPermission(ctx context.Context, method string) (string, error) {
	var result struct {
		Permission string `json:"permission"`
	}
	if err := wp.bridge.Invoke(ctx, method, nil, &result); err != nil {
		return "", err
	}
	return result.Permission, nil
}
