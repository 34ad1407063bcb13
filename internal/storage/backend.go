// Package storage defines the object store interface the staging pipeline
// runs against, and its cloud and in-memory implementations.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned (wrapped) when a copy source does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the capability set the pipeline needs from a bucket. All
// keys are full object keys within the configured bucket, including the
// staging or permanent prefix. All methods must be safe for concurrent use.
type ObjectStore interface {
	// PresignPut returns a URL that lets a client PUT exactly one object at
	// key without further credentials, valid for ttl.
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)

	// CopyObject performs a server-side copy of srcKey to dstKey, overwriting
	// dstKey if it exists. The source must exist.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// DeleteObject removes the object at key. Deleting a missing key is not
	// an error.
	DeleteObject(ctx context.Context, key string) error

	// ListObjects returns every key under prefix, following continuation
	// tokens until the listing is exhausted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// ObjectExists reports whether an object is stored at key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// HealthCheck verifies that the bucket is reachable.
	HealthCheck(ctx context.Context) error
}
