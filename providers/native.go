package providers

import (
	"context"
	"encoding/json"
	"math"
	"safewalk/models"
	"time"

	"github.com/sirupsen/logrus"
)

const nativeRuntime = "native"

// NativeProvider drives the plugins of the native mobile shell
type NativeProvider struct {
	bridge Bridge
	opts   Options
}

func NewNativeProvider(bridge Bridge, opts Options) *NativeProvider {
	return &NativeProvider{
		bridge: bridge,
		opts:   opts.withDefaults(),
	}
}

func (np *NativeProvider) IsNativeRuntime() bool {
	return true
}

func (np *NativeProvider) GetCurrentLocation(ctx context.Context) *models.Location {
	ctx, cancel := context.WithTimeout(ctx, np.opts.LocationTimeout)
	defer cancel()

	params := map[string]interface{}{
		"enableHighAccuracy": true,
		"timeout":            np.opts.LocationTimeout.Milliseconds(),
	}

	var pos position
	if err := np.bridge.Invoke(ctx, MethodGetCurrentPosition, params, &pos); err != nil {
		logFailure(nativeRuntime, "getCurrentLocation", err)
		return nil
	}

	loc := pos.location()
	return &loc
}

func (np *NativeProvider) WatchLocation(ctx context.Context, onUpdate func(models.Location)) *Subscription {
	params := map[string]interface{}{
		"enableHighAccuracy": true,
		"timeout":            np.opts.WatchTimeout.Milliseconds(),
	}

	return watchPosition(ctx, np.bridge, nativeRuntime, params, np.opts.CallTimeout, onUpdate)
}

func (np *NativeProvider) CaptureEmergencyPhoto(ctx context.Context) *Photo {
	ctx, cancel := context.WithTimeout(ctx, np.opts.PhotoTimeout)
	defer cancel()

	params := map[string]interface{}{
		"quality":       90,
		"allowEditing":  false,
		"resultType":    "base64",
		"source":        "CAMERA",
		"saveToGallery": true,
	}

	var photo Photo
	if err := np.bridge.Invoke(ctx, MethodGetPhoto, params, &photo); err != nil {
		logFailure(nativeRuntime, "captureEmergencyPhoto", err)
		return nil
	}
	if photo.Base64 == "" {
		return nil
	}

	return &photo
}

// TriggerEmergencyHaptics fires three heavy impacts spaced by the pulse interval
func (np *NativeProvider) TriggerEmergencyHaptics(ctx context.Context) {
	params := map[string]interface{}{"style": "HEAVY"}

	for i := 0; i < 3; i++ {
		if i > 0 && np.opts.HapticPulseInterval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(np.opts.HapticPulseInterval):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, np.opts.CallTimeout)
		err := np.bridge.Invoke(callCtx, MethodHapticsImpact, params, nil)
		cancel()
		if err != nil {
			logFailure(nativeRuntime, "triggerEmergencyHaptics", err)
			return
		}
	}
}

// ScheduleNotification schedules a local notification on the device and
// falls back to a remote push when the device cannot take it.
func (np *NativeProvider) ScheduleNotification(ctx context.Context, title, body string) {
	callCtx, cancel := context.WithTimeout(ctx, np.opts.CallTimeout)
	defer cancel()

	params := map[string]interface{}{
		"notifications": []map[string]interface{}{
			{
				"id":           notificationID(time.Now()),
				"title":        title,
				"body":         body,
				"sound":        "default",
				"actionTypeId": "",
			},
		},
	}

	err := np.bridge.Invoke(callCtx, MethodScheduleLocalNotification, params, nil)
	if err == nil {
		return
	}
	logFailure(nativeRuntime, "scheduleNotification", err)

	if np.opts.Pusher == nil || np.opts.PushToken == "" {
		return
	}

	if err := np.opts.Pusher.SendPush(ctx, np.opts.PushToken, title, body); err != nil {
		logrus.WithError(err).Warn("Push fallback for emergency notification failed")
		return
	}
	logrus.Info("Emergency notification delivered through push fallback")
}

func (np *NativeProvider) GetDeviceInfo(ctx context.Context) *models.DeviceInfo {
	ctx, cancel := context.WithTimeout(ctx, np.opts.CallTimeout)
	defer cancel()

	var info models.DeviceInfo
	if err := np.bridge.Invoke(ctx, MethodDeviceInfo, nil, &info); err != nil {
		logFailure(nativeRuntime, "getDeviceInfo", err)
		return nil
	}

	return &info
}

// RequestPermissions succeeds only when both location and notification
// permissions are granted.
func (np *NativeProvider) RequestPermissions(ctx context.Context) bool {
	var locationPerm struct {
		Location string `json:"location"`
	}
	var notificationPerm struct {
		Display string `json:"display"`
	}

	locCtx, cancel := context.WithTimeout(ctx, np.opts.LocationTimeout)
	err := np.bridge.Invoke(locCtx, MethodGeolocationPermissions, nil, &locationPerm)
	cancel()
	if err != nil {
		logFailure(nativeRuntime, "requestPermissions", err)
		return false
	}

	notifCtx, cancel := context.WithTimeout(ctx, np.opts.LocationTimeout)
	err = np.bridge.Invoke(notifCtx, MethodLocalNotificationPerms, nil, &notificationPerm)
	cancel()
	if err != nil {
		logFailure(nativeRuntime, "requestPermissions", err)
		return false
	}

	return locationPerm.Location == "granted" && notificationPerm.Display == "granted"
}

// notificationID derives a positive 32-bit id from the clock, which is what
// the local notification plugin accepts.
func notificationID(now time.Time) int64 {
	id := now.UnixMilli() % math.MaxInt32
	if id == 0 {
		id = 1
	}
	return id
}

func watchPosition(
	ctx context.Context,
	bridge Bridge,
	runtime string,
	params map[string]interface{},
	callTimeout time.Duration,
	onUpdate func(models.Location),
) *Subscription {
	watchID, err := bridge.Watch(ctx, MethodWatchPosition, params, func(payload json.RawMessage, err error) {
		if err != nil {
			logFailure(runtime, "watchLocation", err)
			return
		}

		var pos position
		if err := json.Unmarshal(payload, &pos); err != nil {
			logrus.WithError(err).Warn("Malformed location watch payload")
			return
		}
		onUpdate(pos.location())
	})
	if err != nil {
		logFailure(runtime, "watchLocation", err)
		return nil
	}

	return NewSubscription(watchID, func() {
		bridge.Unwatch(watchID)

		clearCtx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := bridge.Invoke(clearCtx, MethodClearWatch, map[string]string{"id": watchID}, nil); err != nil {
			logFailure(runtime, "clearWatch", err)
		}
	})
}
