package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/upshift01/upshift-sub003/config"
)

// DeliverableStorage stores milestone deliverable files in MinIO. Objects are
// keyed by contract and milestone so a milestone's deliverable is always
// addressable from its record.
type DeliverableStorage struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewDeliverableStorage(cfg *config.MinioConfig) (*DeliverableStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &DeliverableStorage{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *DeliverableStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectName builds the storage key for a milestone deliverable.
func (s *DeliverableStorage) ObjectName(contractID, milestoneID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", contractID, milestoneID, filename)
}

// Upload stores a deliverable file.
func (s *DeliverableStorage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload deliverable: %w", err)
	}

	return nil
}

// PresignedURL generates a time-limited download URL for a deliverable.
func (s *DeliverableStorage) PresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireHours) * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// Delete removes a deliverable object.
func (s *DeliverableStorage) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete deliverable: %w", err)
	}

	return nil
}
