package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"safewalk/interfaces"
	"safewalk/utils"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"golang.org/x/image/draw"
)

var (
	ErrEmptyPhoto    = errors.New("empty photo data")
	ErrPhotoNotFound = utils.NewNotFoundError("Photo")
)

// MediaService normalizes emergency photos and hands them to storage
type MediaService struct {
	store        interfaces.PhotoStore
	maxDimension int
	quality      int
	maxFileSize  int
}

func NewMediaService(store interfaces.PhotoStore) *MediaService {
	return &MediaService{
		store:        store,
		maxDimension: 1280,
		quality:      80,
		maxFileSize:  15 * 1024 * 1024, // 15MB decoded
	}
}

// StoreEmergencyPhoto decodes a base64 photo, downscales it to fit the
// maximum dimension, re-encodes it as JPEG and stores it
func (ms *MediaService) StoreEmergencyPhoto(ctx context.Context, sessionID string, photoBase64 string) (primitive.ObjectID, error) {
	data, err := decodePhoto(photoBase64)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if len(data) > ms.maxFileSize {
		return primitive.NilObjectID, fmt.Errorf("photo too large: %d bytes", len(data))
	}

	encoded, width, height, err := ms.CompressImage(data)
	if err != nil {
		return primitive.NilObjectID, err
	}

	filename := fmt.Sprintf("emergency_%s_%d.jpg", sessionID, time.Now().UnixMilli())
	metadata := map[string]interface{}{
		"sessionId":   sessionID,
		"contentType": "image/jpeg",
		"width":       width,
		"height":      height,
		"capturedAt":  time.Now(),
	}

	id, err := ms.store.Upload(ctx, filename, encoded, metadata)
	if err != nil {
		return primitive.NilObjectID, err
	}

	logrus.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"fileId":    id.Hex(),
		"size":      len(encoded),
	}).Info("Emergency photo stored")

	return id, nil
}

// EmergencyPhoto loads a stored photo. Photos of other sessions read as
// not found.
func (ms *MediaService) EmergencyPhoto(ctx context.Context, sessionID, photoID string) ([]byte, error) {
	id, err := primitive.ObjectIDFromHex(photoID)
	if err != nil || ms.store == nil {
		return nil, ErrPhotoNotFound
	}

	data, owner, err := ms.store.Download(ctx, id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrPhotoNotFound
		}
		return nil, utils.NewDatabaseError("download photo", err)
	}
	if owner != sessionID {
		return nil, ErrPhotoNotFound
	}

	return data, nil
}

// CompressImage downscales img data to fit maxDimension and re-encodes it
// as JPEG, returning the new bytes and dimensions
func (ms *MediaService) CompressImage(data []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode photo: %w", err)
	}

	bounds := img.Bounds()
	newWidth, newHeight := ms.calculateSize(bounds.Dx(), bounds.Dy())

	if newWidth != bounds.Dx() || newHeight != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ms.quality}); err != nil {
		return nil, 0, 0, err
	}

	return buf.Bytes(), newWidth, newHeight, nil
}

func (ms *MediaService) calculateSize(origWidth, origHeight int) (int, int) {
	if origWidth > origHeight {
		// Landscape
		if origWidth > ms.maxDimension {
			ratio := float64(ms.maxDimension) / float64(origWidth)
			return ms.maxDimension, max(1, int(float64(origHeight)*ratio))
		}
	} else {
		// Portrait or square
		if origHeight > ms.maxDimension {
			ratio := float64(ms.maxDimension) / float64(origHeight)
			return max(1, int(float64(origWidth)*ratio)), ms.maxDimension
		}
	}

	return origWidth, origHeight
}

// decodePhoto accepts raw base64 or a data URL
func decodePhoto(photoBase64 string) ([]byte, error) {
	payload := strings.TrimSpace(photoBase64)
	if i := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, ErrEmptyPhoto
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid photo encoding: %w", err)
	}
	return data, nil
}
