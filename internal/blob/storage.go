// Package blob wraps MinIO/S3 interactions: presigned upload grants,
// read-back of uploaded objects, and bucket change notifications.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/config"
)

// Store wraps the MinIO client for the raw invoice bucket.
type Store struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Store{client: client, bucket: cfg.RawBucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the raw bucket exists before use.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// PresignUpload returns a time-limited PUT URL: the write capability a
// client receives with its upload grant. The record already exists in
// UPLOADED by the time this URL is handed out.
func (s *Store) PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), nil
}

// PresignDownload returns a signed GET URL for an uploaded object.
func (s *Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

// Download fetches the raw object bytes from storage.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return buf, nil
}

// Notification is one object-created event from the bucket.
type Notification struct {
	Bucket    string
	ObjectKey string
	Err       error
}

// Listen streams object-created events under the uploads prefix until ctx
// ends. The channel closes when the underlying subscription does.
func (s *Store) Listen(ctx context.Context) <-chan Notification {
	out := make(chan Notification)
	events := s.client.ListenBucketNotification(ctx, s.bucket, uploadPrefix+"/", "", []string{
		"s3:ObjectCreated:*",
	})
	go func() {
		defer close(out)
		for info := range events {
			if info.Err != nil {
				out <- Notification{Err: info.Err}
				continue
			}
			for _, rec := range info.Records {
				out <- Notification{
					Bucket:    rec.S3.Bucket.Name,
					ObjectKey: rec.S3.Object.Key,
				}
			}
		}
	}()
	return out
}
