// models/safety.go
package models

import (
	"time"
)

// Status is the tri-state safety indicator shown to the user
type Status string

const (
	StatusSafe       Status = "safe"
	StatusMonitoring Status = "monitoring"
	StatusEmergency  Status = "emergency"
)

// SettingKey names one of the four monitoring flags
type SettingKey string

const (
	SettingMotionDetection  SettingKey = "motionDetection"
	SettingAudioMonitoring  SettingKey = "audioMonitoring"
	SettingLocationTracking SettingKey = "locationTracking"
	SettingCameraReady      SettingKey = "cameraReady"
)

// SettingKeys lists every valid setting key in display order
var SettingKeys = []SettingKey{
	SettingMotionDetection,
	SettingAudioMonitoring,
	SettingLocationTracking,
	SettingCameraReady,
}

// IsValid reports whether k names a known setting
func (k SettingKey) IsValid() bool {
	for _, key := range SettingKeys {
		if key == k {
			return true
		}
	}
	return false
}

type SafetySettings struct {
	MotionDetection  bool `json:"motionDetection"`
	AudioMonitoring  bool `json:"audioMonitoring"`
	LocationTracking bool `json:"locationTracking"`
	CameraReady      bool `json:"cameraReady"`
}

// Get returns the value of the flag named by key. Unknown keys read as false.
func (s SafetySettings) Get(key SettingKey) bool {
	switch key {
	case SettingMotionDetection:
		return s.MotionDetection
	case SettingAudioMonitoring:
		return s.AudioMonitoring
	case SettingLocationTracking:
		return s.LocationTracking
	case SettingCameraReady:
		return s.CameraReady
	}
	return false
}

// With returns a copy of s with the flag named by key set to value.
// The second return is false when key is unknown.
func (s SafetySettings) With(key SettingKey, value bool) (SafetySettings, bool) {
	switch key {
	case SettingMotionDetection:
		s.MotionDetection = value
	case SettingAudioMonitoring:
		s.AudioMonitoring = value
	case SettingLocationTracking:
		s.LocationTracking = value
	case SettingCameraReady:
		s.CameraReady = value
	default:
		return s, false
	}
	return s, true
}

// AnyEnabled reports whether at least one monitoring flag is on
func (s SafetySettings) AnyEnabled() bool {
	return s.MotionDetection || s.AudioMonitoring || s.LocationTracking || s.CameraReady
}

// DeriveStatus computes the status from the settings and the emergency flag.
// An active emergency always wins over settings-derived monitoring.
func DeriveStatus(settings SafetySettings, emergencyActive bool) Status {
	if emergencyActive {
		return StatusEmergency
	}
	if settings.AnyEnabled() {
		return StatusMonitoring
	}
	return StatusSafe
}

type Contact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
}

// ContactInput is a contact before an id has been assigned
type ContactInput struct {
	Name         string `json:"name" validate:"required,max=100"`
	Phone        string `json:"phone" validate:"required,phone"`
	Relationship string `json:"relationship,omitempty" validate:"max=50"`
}

type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude" validate:"coordinate"`
	Longitude float64 `json:"longitude" bson:"longitude" validate:"coordinate"`
}

type DeviceInfo struct {
	Model        string `json:"model" bson:"model"`
	Platform     string `json:"platform" bson:"platform"`
	OSVersion    string `json:"osVersion" bson:"osVersion"`
	Manufacturer string `json:"manufacturer" bson:"manufacturer"`
}

// SafetySnapshot is everything the presentation layer renders from
type SafetySnapshot struct {
	SessionID       string         `json:"sessionId"`
	Status          Status         `json:"status"`
	EmergencyActive bool           `json:"emergencyActive"`
	Settings        SafetySettings `json:"settings"`
	Contacts        []Contact      `json:"contacts"`
	Location        *Location      `json:"location"`
	IsNative        bool           `json:"isNativeApp"`
	DeviceInfo      *DeviceInfo    `json:"deviceInfo"`
	TriggeredAt     *time.Time     `json:"emergencyTriggeredAt,omitempty"`
	ResetsAt        *time.Time     `json:"emergencyResetsAt,omitempty"`
}

// UpdateSettingRequest is the body of a per-key settings update
type UpdateSettingRequest struct {
	Value *bool `json:"value" binding:"required"`
}
