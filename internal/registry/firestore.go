package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/assetstage/assetstage/internal/config"
)

// FirestoreRegistry implements Registry as one document per claim. A TTL
// policy on expires_at lets Firestore delete expired documents; Exists
// checks the timestamp because that deletion is not immediate.
type FirestoreRegistry struct {
	docs claimDocuments
	now  func() time.Time
}

type firestoreClaim struct {
	Key       string    `firestore:"key"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// claimDocuments is the document access FirestoreRegistry needs. Get
// returns the SDK's NotFound status error for a missing document.
type claimDocuments interface {
	Set(ctx context.Context, id string, c firestoreClaim) error
	Get(ctx context.Context, id string) (firestoreClaim, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// firestoreCollection implements claimDocuments on one collection.
type firestoreCollection struct {
	client *firestore.Client
	name   string
}

func (c *firestoreCollection) Set(ctx context.Context, id string, claim firestoreClaim) error {
	_, err := c.client.Collection(c.name).Doc(id).Set(ctx, claim)
	return err
}

func (c *firestoreCollection) Get(ctx context.Context, id string) (firestoreClaim, error) {
	var claim firestoreClaim
	snap, err := c.client.Collection(c.name).Doc(id).Get(ctx)
	if err != nil {
		return claim, err
	}
	if err := snap.DataTo(&claim); err != nil {
		return claim, fmt.Errorf("decoding claim: %w", err)
	}
	return claim, nil
}

func (c *firestoreCollection) Delete(ctx context.Context, id string) error {
	// Deleting a missing document succeeds without a precondition.
	_, err := c.client.Collection(c.name).Doc(id).Delete(ctx)
	return err
}

func (c *firestoreCollection) Ping(ctx context.Context) error {
	_, err := c.client.Collection(c.name).Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

func (c *firestoreCollection) Close() error {
	return c.client.Close()
}

// NewFirestoreRegistry creates a Firestore client for the configured project.
func NewFirestoreRegistry(ctx context.Context, cfg *config.FirestoreConfig) (*FirestoreRegistry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("firestore config is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "asset_claims"
	}

	return &FirestoreRegistry{
		docs: &firestoreCollection{client: client, name: collection},
		now:  time.Now,
	}, nil
}

// docIDClaim encodes key so that any byte sequence is a valid document ID.
func docIDClaim(key string) string {
	return "claim_" + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (r *FirestoreRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	err := r.docs.Set(ctx, docIDClaim(key), firestoreClaim{
		Key:       key,
		ExpiresAt: expiryFor(r.now(), ttl).UTC(),
	})
	if err != nil {
		return fmt.Errorf("setting claim: %w", err)
	}
	return nil
}

func (r *FirestoreRegistry) Release(ctx context.Context, key string) error {
	if err := r.docs.Delete(ctx, docIDClaim(key)); err != nil {
		return fmt.Errorf("deleting claim: %w", err)
	}
	return nil
}

func (r *FirestoreRegistry) Exists(ctx context.Context, key string) (bool, error) {
	c, err := r.docs.Get(ctx, docIDClaim(key))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("getting claim: %w", err)
	}
	return r.now().Before(c.ExpiresAt), nil
}

func (r *FirestoreRegistry) Ping(ctx context.Context) error {
	return r.docs.Ping(ctx)
}

func (r *FirestoreRegistry) Close() error {
	if r.docs != nil {
		return r.docs.Close()
	}
	return nil
}

var _ Registry = (*FirestoreRegistry)(nil)
