package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioAPI is the subset of *minio.Client the backend uses.
type MinioAPI interface {
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// MinioBackend implements ObjectStore against MinIO or any S3-compatible
// provider reachable through minio-go.
type MinioBackend struct {
	Bucket string
	client MinioAPI
}

// NewMinioBackend creates a MinIO client and makes sure the bucket exists.
func NewMinioBackend(ctx context.Context, endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*MinioBackend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		slog.Info("storage: created bucket", "bucket", bucket)
	}

	slog.Info("MinIO storage backend initialized", "endpoint", endpoint, "bucket", bucket)
	return NewMinioBackendWithClient(bucket, client), nil
}

// NewMinioBackendWithClient wraps an existing client. Used by tests.
func NewMinioBackendWithClient(bucket string, client MinioAPI) *MinioBackend {
	return &MinioBackend{Bucket: bucket, client: client}
}

func (b *MinioBackend) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := b.client.PresignedPutObject(ctx, b.Bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return u.String(), nil
}

func (b *MinioBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.Bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: b.Bucket, Object: srcKey},
	)
	if err != nil {
		if isMinioNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
		}
		return fmt.Errorf("copy object %q: %w", srcKey, err)
	}
	return nil
}

// DeleteObject removes the object at key. S3 semantics make this idempotent.
func (b *MinioBackend) DeleteObject(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}

// ListObjects drains the minio listing channel, which pages internally.
func (b *MinioBackend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range b.client.ListObjects(ctx, b.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (b *MinioBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	return true, nil
}

func (b *MinioBackend) HealthCheck(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", b.Bucket)
	}
	return nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
}

var _ ObjectStore = (*MinioBackend)(nil)
