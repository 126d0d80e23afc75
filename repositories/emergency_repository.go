package repositories

import (
	"context"
	"errors"
	"safewalk/models"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultHistoryLimit = 50

type EmergencyRepository struct {
	collection *mongo.Collection
}

func NewEmergencyRepository(database *mongo.Database) *EmergencyRepository {
	return &EmergencyRepository{
		collection: database.Collection("emergency_events"),
	}
}

func (er *EmergencyRepository) Create(ctx context.Context, record *models.EmergencyRecord) error {
	record.ID = primitive.NewObjectID()
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()

	if record.Status == "" {
		record.Status = models.EmergencyRecordActive
	}
	if record.ContactNames == nil {
		record.ContactNames = []string{}
	}

	_, err := er.collection.InsertOne(ctx, record)
	if err != nil {
		logrus.Errorf("Failed to create emergency record: %v", err)
		return err
	}

	return nil
}

func (er *EmergencyRepository) MarkReset(ctx context.Context, id primitive.ObjectID, resetAt time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"status":    models.EmergencyRecordReset,
			"resetAt":   resetAt,
			"updatedAt": time.Now(),
		},
	}

	result, err := er.collection.UpdateByID(ctx, id, update)
	if err != nil {
		logrus.Errorf("Failed to mark emergency record reset: %v", err)
		return err
	}
	if result.MatchedCount == 0 {
		return errors.New("emergency record not found")
	}

	return nil
}

// ListBySession returns the newest records of a session first
func (er *EmergencyRepository) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.EmergencyRecord, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "triggeredAt", Value: -1}}).
		SetLimit(limit)

	cursor, err := er.collection.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		logrus.Errorf("Failed to list emergency records: %v", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []models.EmergencyRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// CloseStale resets records that stayed active past the cutoff. Resets are
// scheduled in memory, so a restart during an emergency leaves them open.
func (er *EmergencyRepository) CloseStale(ctx context.Context, before time.Time) (int64, error) {
	now := time.Now()
	filter := bson.M{
		"status":      models.EmergencyRecordActive,
		"triggeredAt": bson.M{"$lt": before},
	}
	update := bson.M{
		"$set": bson.M{
			"status":    models.EmergencyRecordReset,
			"resetAt":   now,
			"updatedAt": now,
		},
	}

	result, err := er.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		logrus.Errorf("Failed to close stale emergency records: %v", err)
		return 0, err
	}

	return result.ModifiedCount, nil
}
