package repositories

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const photoBucketName = "emergency_photos"

// PhotoRepository keeps emergency photos in a GridFS bucket
type PhotoRepository struct {
	bucket *gridfs.Bucket
}

func NewPhotoRepository(database *mongo.Database) (*PhotoRepository, error) {
	bucket, err := gridfs.NewBucket(database, options.GridFSBucket().SetName(photoBucketName))
	if err != nil {
		return nil, err
	}
	return &PhotoRepository{bucket: bucket}, nil
}

func (pr *PhotoRepository) Upload(ctx context.Context, filename string, data []byte, metadata map[string]interface{}) (primitive.ObjectID, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := pr.bucket.SetWriteDeadline(deadline); err != nil {
			return primitive.NilObjectID, err
		}
	}

	opts := options.GridFSUpload().SetMetadata(bson.M(metadata))
	id, err := pr.bucket.UploadFromStream(filename, bytes.NewReader(data), opts)
	if err != nil {
		logrus.Errorf("Failed to upload emergency photo: %v", err)
		return primitive.NilObjectID, err
	}

	return id, nil
}

// Download returns the photo bytes and the session they belong to
func (pr *PhotoRepository) Download(ctx context.Context, id primitive.ObjectID) ([]byte, string, error) {
	cursor, err := pr.bucket.FindContext(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, "", err
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", gridfs.ErrFileNotFound
	}

	var file struct {
		Metadata struct {
			SessionID string `bson:"sessionId"`
		} `bson:"metadata"`
	}
	if err := cursor.Decode(&file); err != nil {
		return nil, "", err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := pr.bucket.SetReadDeadline(deadline); err != nil {
			return nil, "", err
		}
	}

	var buf bytes.Buffer
	if _, err := pr.bucket.DownloadToStream(id, &buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), file.Metadata.SessionID, nil
}
