package storage

import (
	"context"
	"fmt"
	"time"

	"TextTune/config"
	"TextTune/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive mirrors rendered audio into object storage after a job commits.
// Uploads are best effort: local disk remains the source of truth for
// streaming, the archive copy exists for backup and offloading.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to MinIO. Returns nil when no endpoint is configured,
// which disables archiving entirely.
func NewArchive(cfg *config.Config) (*Archive, error) {
	if cfg.MinioEndpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	a := &Archive{client: client, bucket: cfg.MinioBucket}
	if err := a.ensureBucket(cfg.MinioRegion); err != nil {
		return nil, err
	}

	logger.Info("audio archive enabled",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return a, nil
}

func (a *Archive) ensureBucket(region string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ObjectKey is the canonical archive location for a rendered track.
func ObjectKey(userID, trackID, format string) string {
	return fmt.Sprintf("audio/%s/%s.%s", userID, trackID, format)
}

// UploadTrack copies a rendered file into the archive. Errors are logged and
// swallowed so archival never fails a committed generation.
func (a *Archive) UploadTrack(ctx context.Context, userID, trackID, format, filePath, contentType string) {
	if a == nil {
		return
	}
	key := ObjectKey(userID, trackID, format)
	_, err := a.client.FPutObject(ctx, a.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		logger.Warn("failed to archive track audio",
			logger.String("trackId", trackID),
			logger.String("objectKey", key),
			logger.ErrorField(err))
		return
	}
	logger.Debug("track audio archived", logger.String("objectKey", key))
}

// RemoveTrack deletes the archive copy when a track is removed from the
// library.
func (a *Archive) RemoveTrack(ctx context.Context, userID, trackID, format string) {
	if a == nil {
		return
	}
	key := ObjectKey(userID, trackID, format)
	if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		logger.Warn("failed to remove archived track audio",
			logger.String("objectKey", key),
			logger.ErrorField(err))
	}
}
