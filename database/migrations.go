package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          func(*mongo.Database) error
}

// migrationRecord tracks applied migrations
type migrationRecord struct {
	Version   int       `bson:"version"`
	AppliedAt time.Time `bson:"appliedAt"`
}

// migrations contains all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create emergency events collection with indexes",
		Up:          createEmergencyEventsCollection,
	},
	{
		Version:     2,
		Description: "Create emergency photo bucket indexes",
		Up:          createEmergencyPhotoIndexes,
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Ensure migrations collection exists
	migrationsCol := db.Collection("migrations")

	// Get current migration version
	currentVersion := getCurrentMigrationVersion(ctx, migrationsCol)
	logrus.Infof("Current migration version: %d", currentVersion)

	// Run pending migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.Infof("Running migration %d: %s", migration.Version, migration.Description)

		if err := migration.Up(db); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		// Record successful migration
		_, err := migrationsCol.InsertOne(ctx, migrationRecord{
			Version:   migration.Version,
			AppliedAt: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		logrus.Infof("Migration %d completed", migration.Version)
	}

	return nil
}

// getCurrentMigrationVersion returns the current migration version
func getCurrentMigrationVersion(ctx context.Context, col *mongo.Collection) int {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var record migrationRecord
	err := col.FindOne(ctx, bson.D{}, opts).Decode(&record)
	if err != nil {
		return 0 // No migrations applied yet
	}
	return record.Version
}

// Individual migration functions

func createEmergencyEventsCollection(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	col := db.Collection("emergency_events")

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "triggeredAt", Value: -1}},
		},
		{
			// Stale active records are looked up by age
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "triggeredAt", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // Keep 90 days of history
		},
	}

	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}

func createEmergencyPhotoIndexes(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// GridFS files collection of the emergency_photos bucket
	col := db.Collection("emergency_photos.files")

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "metadata.sessionId", Value: 1}, {Key: "uploadDate", Value: -1}},
		},
	}

	_, err := col.Indexes().CreateMany(ctx, indexes)
	return err
}
