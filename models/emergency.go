package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Emergency notification text
const (
	EmergencyNotificationTitle = "🚨 SafeWalk Emergency Alert"
	UnknownLocationText        = "unknown location"
)

// EmergencyRecord is the audit trail entry written for every trigger
type EmergencyRecord struct {
	ID               primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	SessionID        string              `json:"sessionId" bson:"sessionId"`
	Status           string              `json:"status" bson:"status"` // active, reset
	Device           *DeviceInfo         `json:"device,omitempty" bson:"device,omitempty"`
	IsNative         bool                `json:"isNative" bson:"isNative"`
	Location         *Location           `json:"location,omitempty" bson:"location,omitempty"`
	ContactNames     []string            `json:"contactNames" bson:"contactNames"`
	PhotoFileID      *primitive.ObjectID `json:"photoFileId,omitempty" bson:"photoFileId,omitempty"`
	NotificationBody string              `json:"notificationBody" bson:"notificationBody"`
	TriggeredAt      time.Time           `json:"triggeredAt" bson:"triggeredAt"`
	ResetAt          *time.Time          `json:"resetAt,omitempty" bson:"resetAt,omitempty"`
	CreatedAt        time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt" bson:"updatedAt"`
}

const (
	EmergencyRecordActive = "active"
	EmergencyRecordReset  = "reset"
)

// EmergencyAlert is what a trigger hands to the downstream collaborators
type EmergencyAlert struct {
	SessionID   string
	Title       string
	Body        string
	Location    *Location
	Contacts    []Contact
	Device      *DeviceInfo
	IsNative    bool
	TriggeredAt time.Time
}
