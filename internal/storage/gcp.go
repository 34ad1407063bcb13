// Package storage provides the GCP Cloud Storage backend for assetstage.
//
// Upload URLs are V4 signed URLs for a PUT. Signing needs a service account
// identity: either a JSON key file or, on GCE/GKE, the IAM signBlob API via
// the attached service account.
//
// Credentials are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// SignedURL returns a V4 signed URL allowing a PUT of object.
	SignedURL(bucket, object string, expires time.Time) (string, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Exists reports whether the given GCS object exists.
	Exists(ctx context.Context, bucket, object string) (bool, error)
	// Copy copies a GCS object from src to dst within the same bucket.
	Copy(ctx context.Context, bucket, srcObject, dstObject string) error
	// ListObjects lists every object name with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
	// BucketExists verifies the bucket is reachable.
	BucketExists(ctx context.Context, bucket string) error
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) SignedURL(bucket, object string, expires time.Time) (string, error) {
	return c.client.Bucket(bucket).SignedURL(object, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "PUT",
		Expires: expires,
	})
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *realGCSClient) Copy(ctx context.Context, bucket, srcObject, dstObject string) error {
	src := c.client.Bucket(bucket).Object(srcObject)
	dst := c.client.Bucket(bucket).Object(dstObject)
	_, err := dst.CopierFrom(src).Run(ctx)
	return err
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (c *realGCSClient) BucketExists(ctx context.Context, bucket string) error {
	_, err := c.client.Bucket(bucket).Attrs(ctx)
	return err
}

// GCPBackend implements ObjectStore on a single GCS bucket.
type GCPBackend struct {
	// Bucket is the GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string

	client GCSAPI
	now    func() time.Time
}

// NewGCPBackend creates a GCPBackend for the given bucket. If
// credentialsFile is non-empty it is used for both API calls and URL
// signing; otherwise Application Default Credentials apply.
func NewGCPBackend(ctx context.Context, bucket, project, credentialsFile string) (*GCPBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := NewGCPBackendWithClient(bucket, project, &realGCSClient{client: client})
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCP storage backend initialized", "bucket", bucket, "project", project)
	return b, nil
}

// NewGCPBackendWithClient creates a GCPBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCPBackendWithClient(bucket, project string, client GCSAPI) *GCPBackend {
	return &GCPBackend{
		Bucket:  bucket,
		Project: project,
		client:  client,
		now:     time.Now,
	}
}

// PresignPut returns a V4 signed PUT URL for key that expires after ttl.
func (b *GCPBackend) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := b.client.SignedURL(b.Bucket, key, b.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("signing GCS URL: %w", err)
	}
	return u, nil
}

// CopyObject copies srcKey to dstKey using GCS server-side copy.
func (b *GCPBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	if err := b.client.Copy(ctx, b.Bucket, srcKey, dstKey); err != nil {
		if isGCSNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
		}
		return fmt.Errorf("copying object in GCS: %w", err)
	}
	return nil
}

// DeleteObject removes an object from the bucket.
// Idempotent: catches 404 silently (GCS errors on delete of non-existent
// objects unlike S3).
func (b *GCPBackend) DeleteObject(ctx context.Context, key string) error {
	if err := b.client.Delete(ctx, b.Bucket, key); err != nil {
		if isGCSNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

// ListObjects returns every object name under prefix. The GCS iterator
// fetches further pages transparently.
func (b *GCPBackend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	names, err := b.client.ListObjects(ctx, b.Bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing GCS objects under %q: %w", prefix, err)
	}
	return names, nil
}

// ObjectExists checks whether an object exists in the bucket.
func (b *GCPBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.Bucket, key)
	if err != nil {
		return false, fmt.Errorf("checking object existence in GCS: %w", err)
	}
	return exists, nil
}

// HealthCheck verifies that the bucket is accessible.
func (b *GCPBackend) HealthCheck(ctx context.Context) error {
	return b.client.BucketExists(ctx, b.Bucket)
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

// Ensure GCPBackend implements ObjectStore at compile time.
var _ ObjectStore = (*GCPBackend)(nil)
