// Package backup uploads per-school database backups to S3-compatible
// object storage and generates pre-signed download URLs for them. Backups
// share the archive bucket; each school's backup lives under a stable key
// that successive uploads overwrite. When archive storage is not configured
// (empty bucket), the NoopUploader is used and backups stay local-only.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/darasahq/darasa-sync/internal/config"
)

// ErrNotConfigured is returned when backup storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// Uploader uploads school backups and generates pre-signed download URLs.
type Uploader interface {
	// Upload uploads a backup file for the given school to S3.
	Upload(ctx context.Context, schoolID string, filePath string) error

	// PresignedURL returns a pre-signed URL for downloading the backup.
	// Returns ErrNotConfigured when S3 is not configured.
	PresignedURL(ctx context.Context, schoolID string) (url string, expiry time.Time, err error)
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error)
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	putOpts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, putOpts)
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error) {
	presigned, err := w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}

// S3Uploader uploads school backups to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	urlExpiry time.Duration
}

// Upload uploads the backup file at filePath for the given school.
func (u *S3Uploader) Upload(ctx context.Context, schoolID string, filePath string) error {
	key := objectKey(schoolID)
	if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
		return fmt.Errorf("upload backup to S3: %w", err)
	}
	return nil
}

// PresignedURL returns a pre-signed GET URL for the school's backup.
func (u *S3Uploader) PresignedURL(ctx context.Context, schoolID string) (string, time.Time, error) {
	key := objectKey(schoolID)
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	expiry := time.Now().Add(u.urlExpiry)
	return presigned, expiry, nil
}

// NoopUploader is used when backup storage is not configured.
// Upload is a no-op and PresignedURL returns ErrNotConfigured.
type NoopUploader struct{}

// Upload is a no-op when backup storage is not configured.
func (u *NoopUploader) Upload(ctx context.Context, schoolID string, filePath string) error {
	return nil
}

// PresignedURL returns ErrNotConfigured when backup storage is not configured.
func (u *NoopUploader) PresignedURL(ctx context.Context, schoolID string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Backups reuse the archive bucket and credentials; an empty bucket
// returns the NoopUploader.
func NewUploader(cfg config.ArchiveConfig, urlExpiry time.Duration) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: urlExpiry,
	}, nil
}

// stripScheme removes an http:// or https:// prefix from an endpoint, since
// the S3 client wants a bare host. A scheme in the endpoint also decides SSL.
func stripScheme(endpoint string, useSSL *bool) string {
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		*useSSL = true
		return rest
	}
	if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
		*useSSL = false
		return rest
	}
	return endpoint
}

// objectKey returns the S3 object key for a school's backup.
// Convention: {school_id}/backup/current.db
func objectKey(schoolID string) string {
	return schoolID + "/backup/current.db"
}
