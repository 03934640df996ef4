// Package archive mirrors generated artifacts (PDF reports, validation
// snapshots) to object storage. Archival is best effort: the primary copy
// lives in the content store and a failed upload never fails the request.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads artifacts by key.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Ping(ctx context.Context) error
}

// Noop is used when no object storage is configured.
type Noop struct{}

func (Noop) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}

func (Noop) Ping(ctx context.Context) error { return nil }

// MinioStore archives to an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("archive upload %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
