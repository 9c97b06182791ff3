// Package history provides queue history purging with optional archival to
// S3-compatible object storage. When archival is not configured (empty
// bucket), the NoopArchiver is used and purges delete without archiving.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/darasahq/darasa-sync/internal/config"
	"github.com/darasahq/darasa-sync/internal/types"
)

const (
	// archiveRetryBase is the initial backoff between upload attempts.
	archiveRetryBase = 500 * time.Millisecond
	// archiveMaxRetries bounds upload attempts beyond the first.
	archiveMaxRetries = 3
)

// Archiver writes batches of purged queue items to archive storage.
type Archiver interface {
	// Archive uploads the given queue items and returns the object key they
	// were written under. A disabled archiver returns an empty key and no
	// error.
	Archive(ctx context.Context, schoolID string, items []types.QueueItem) (string, error)
}

// s3Client defines the minimal minio.Client operations used by S3Archiver.
// This interface enables testing with mock implementations.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64) error {
	putOpts := minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	}
	_, err := w.client.PutObject(ctx, bucket, objectName, reader, size, putOpts)
	return err
}

// S3Archiver uploads purged history batches to S3-compatible storage.
type S3Archiver struct {
	client    s3Client
	bucket    string
	retryBase time.Duration
}

// Archive encodes the items as JSON Lines and uploads them, retrying
// transient upload failures with exponential backoff.
func (a *S3Archiver) Archive(ctx context.Context, schoolID string, items []types.QueueItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return "", fmt.Errorf("encode queue item: %w", err)
		}
	}

	key := objectKey(schoolID, time.Now().UTC())

	backoff := retry.WithMaxRetries(archiveMaxRetries, retry.NewExponential(a.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		reader := bytes.NewReader(buf.Bytes())
		if err := a.client.PutObject(ctx, a.bucket, key, reader, int64(buf.Len())); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload archive to S3: %w", err)
	}

	return key, nil
}

// NoopArchiver is used when archive storage is not configured.
type NoopArchiver struct{}

// Archive is a no-op when archive storage is not configured.
func (a *NoopArchiver) Archive(ctx context.Context, schoolID string, items []types.QueueItem) (string, error) {
	return "", nil
}

// NewArchiver creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func NewArchiver(cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return &NoopArchiver{}, nil
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

	return &S3Archiver{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		retryBase: archiveRetryBase,
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

// objectKey returns the S3 object key for one archived batch.
// Convention: {school_id}/history/{timestamp}-{ulid}.jsonl
func objectKey(schoolID string, now time.Time) string {
	return fmt.Sprintf("%s/history/%s-%s.jsonl",
		schoolID, now.Format("20060102T150405Z"), ulid.Make().String())
}
