// Package storage provides the AWS S3 backend for assetstage.
//
// Upload URLs are SigV4 presigned PUT requests. Promotion uses S3 server-side
// CopyObject, so object bytes never pass through this service. Listing walks
// ListObjectsV2 pages through the SDK paginator.
//
// Credentials are resolved via the standard AWS credential chain
// (env vars, ~/.aws/credentials, IAM role, etc.) unless static keys are set.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the backend
// uses. This allows mocking in tests.
type S3API interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Presigner is the subset of *s3.PresignClient used to sign upload URLs.
type S3Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// AWSBackend implements ObjectStore on a single S3 bucket.
type AWSBackend struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Region is the AWS region of the bucket.
	Region string

	client    S3API
	presigner S3Presigner
}

// NewAWSBackend creates an AWSBackend for the given bucket. It initializes
// the AWS SDK client using the default credential chain, with optional
// overrides for a custom endpoint, path-style addressing and static
// credentials, then verifies the bucket is reachable.
func NewAWSBackend(ctx context.Context, bucket, region, endpointURL string, usePathStyle bool, accessKeyID, secretAccessKey string) (*AWSBackend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	if usePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)
	b := NewAWSBackendWithClient(bucket, region, client, s3.NewPresignClient(client))

	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access S3 bucket %q: %w", bucket, err)
	}

	slog.Info("AWS storage backend initialized", "bucket", bucket, "region", region)
	return b, nil
}

// NewAWSBackendWithClient creates an AWSBackend with pre-configured clients.
// This is primarily used for testing with mock clients.
func NewAWSBackendWithClient(bucket, region string, client S3API, presigner S3Presigner) *AWSBackend {
	return &AWSBackend{
		Bucket:    bucket,
		Region:    region,
		client:    client,
		presigner: presigner,
	}
}

// PresignPut signs a PUT request for key that expires after ttl.
func (b *AWSBackend) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning S3 put: %w", err)
	}
	return req.URL, nil
}

// CopyObject copies srcKey to dstKey using S3 server-side copy.
func (b *AWSBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.Bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(b.Bucket, srcKey)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
		}
		return fmt.Errorf("copying object in S3: %w", err)
	}
	return nil
}

// DeleteObject removes an object from the bucket.
// Idempotent: S3 DeleteObject does not error on missing keys.
func (b *AWSBackend) DeleteObject(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting object from S3: %w", err)
	}
	return nil
}

// ListObjects returns every key under prefix across all ListObjectsV2 pages.
func (b *AWSBackend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing S3 objects under %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// ObjectExists checks whether an object exists in the bucket.
func (b *AWSBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking object existence in S3: %w", err)
	}
	return true, nil
}

// HealthCheck verifies that the bucket is accessible.
func (b *AWSBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	return err
}

// copySource builds the URL-encoded "bucket/key" value CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// Ensure AWSBackend implements ObjectStore at compile time.
var _ ObjectStore = (*AWSBackend)(nil)
