// Package registry defines the TTL claim store that marks staging keys as
// uploaded-but-not-yet-committed, and its implementations.
//
// A claim carries no payload. Its existence before expiry is the only thing
// the pipeline reads: a live claim protects a staging object from the
// reclamation sweep.
package registry

import (
	"context"
	"time"
)

// Registry records claims on staging keys with a time-to-live. All methods
// must be safe for concurrent use.
type Registry interface {
	// Claim records key as claimed until now+ttl. Claiming an already
	// claimed key resets its expiry. A non-positive ttl records a claim that
	// is already expired.
	Claim(ctx context.Context, key string, ttl time.Duration) error

	// Release removes the claim on key. Releasing an absent or expired claim
	// is not an error.
	Release(ctx context.Context, key string) error

	// Exists reports whether key holds a claim that has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the registry.
	Close() error
}

// Purger is implemented by registries whose backing store does not evict
// expired claims on its own.
type Purger interface {
	// PurgeExpired deletes expired claims and returns how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}

// expiryFor returns the absolute expiry of a claim made at now with ttl.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return now
	}
	return now.Add(ttl)
}
