package interfaces

import (
	"context"
	"safewalk/models"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collaborators the safety coordinator hands emergencies to

type ContactNotifier interface {
	NotifyContacts(ctx context.Context, alert models.EmergencyAlert)
}

type EmergencyRecorder interface {
	Create(ctx context.Context, record *models.EmergencyRecord) error
	MarkReset(ctx context.Context, id primitive.ObjectID, resetAt time.Time) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.EmergencyRecord, error)
}

type EvidenceStore interface {
	StoreEmergencyPhoto(ctx context.Context, sessionID string, photoBase64 string) (primitive.ObjectID, error)
}

// PhotoStore persists encoded image bytes. Download returns the bytes and
// the session the photo was stored for.
type PhotoStore interface {
	Upload(ctx context.Context, filename string, data []byte, metadata map[string]interface{}) (primitive.ObjectID, error)
	Download(ctx context.Context, id primitive.ObjectID) ([]byte, string, error)
}

// SMSSender sends one text message
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}
