// Package providers drives the device capabilities (location, camera,
// haptics, notifications, device info, permissions) of one connected
// session. Every operation is best effort: failures are classified, logged
// and reported as nil/false, never returned to the caller.
package providers

import (
	"context"
	"safewalk/models"
	"sync"
	"time"
)

// Provider is the capability surface the safety coordinator depends on
type Provider interface {
	IsNativeRuntime() bool
	GetCurrentLocation(ctx context.Context) *models.Location
	WatchLocation(ctx context.Context, onUpdate func(models.Location)) *Subscription
	CaptureEmergencyPhoto(ctx context.Context) *Photo
	TriggerEmergencyHaptics(ctx context.Context)
	ScheduleNotification(ctx context.Context, title, body string)
	GetDeviceInfo(ctx context.Context) *models.DeviceInfo
	RequestPermissions(ctx context.Context) bool
}

// Pusher delivers a remote push notification to a registered device token
type Pusher interface {
	SendPush(ctx context.Context, deviceToken, title, body string) error
}

// Photo is a captured image as returned by the device
type Photo struct {
	Base64 string `json:"base64String"`
	Format string `json:"format,omitempty"`
}

// Subscription is the handle of one continuous location watch
type Subscription struct {
	ID string

	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so it runs at most once
func NewSubscription(id string, cancel func()) *Subscription {
	return &Subscription{ID: id, cancel: cancel}
}

// Cancel stops the watch. It is safe to call more than once and on nil.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Options tunes provider construction and timing
type Options struct {
	Pusher    Pusher
	PushToken string
	UserAgent string

	ProbeTimeout        time.Duration
	LocationTimeout     time.Duration
	WatchTimeout        time.Duration
	PhotoTimeout        time.Duration
	CallTimeout         time.Duration
	HapticPulseInterval time.Duration
}

// DefaultOptions returns the timings used in production
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:        3 * time.Second,
		LocationTimeout:     10 * time.Second,
		WatchTimeout:        30 * time.Second,
		PhotoTimeout:        60 * time.Second,
		CallTimeout:         5 * time.Second,
		HapticPulseInterval: 200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.LocationTimeout <= 0 {
		o.LocationTimeout = d.LocationTimeout
	}
	if o.WatchTimeout <= 0 {
		o.WatchTimeout = d.WatchTimeout
	}
	if o.PhotoTimeout <= 0 {
		o.PhotoTimeout = d.PhotoTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.HapticPulseInterval < 0 {
		o.HapticPulseInterval = 0
	}
	return o
}

// position mirrors the geolocation payload sent by both runtimes
type position struct {
	Coords struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coords"`
}

func (p position) location() models.Location {
	return models.Location{
		Latitude:  p.Coords.Latitude,
		Longitude: p.Coords.Longitude,
	}
}
