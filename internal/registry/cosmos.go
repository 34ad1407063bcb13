package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/assetstage/assetstage/internal/config"
)

// cosmosPartition is the single logical partition all claims live in.
const cosmosPartition = "claim"

// CosmosContainerAPI is the subset of *azcosmos.ContainerClient used by
// CosmosRegistry, so tests can substitute a mock.
type CosmosContainerAPI interface {
	UpsertItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReadItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemId string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	DeleteItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemId string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	Read(ctx context.Context, o *azcosmos.ReadContainerOptions) (azcosmos.ContainerResponse, error)
}

// CosmosRegistry implements Registry on a Cosmos DB container with per-item
// TTL enabled (container default TTL of -1).
type CosmosRegistry struct {
	client CosmosContainerAPI
	pk     azcosmos.PartitionKey
	now    func() time.Time
}

// cosmosClaim is the stored item. TTL is in seconds and drives Cosmos
// eviction; ExpiresAt is checked on read.
type cosmosClaim struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Key       string `json:"key"`
	TTL       int    `json:"ttl"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewCosmosRegistry creates a container client from the configured
// endpoint and master key.
func NewCosmosRegistry(cfg *config.CosmosConfig) (*CosmosRegistry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cosmos config is required")
	}
	if cfg.Endpoint == "" || cfg.MasterKey == "" {
		return nil, fmt.Errorf("cosmos endpoint and master key are required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("cosmos database name is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("cosmos container name is required")
	}

	cred, err := azcosmos.NewKeyCredential(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cosmos key credential: %w", err)
	}

	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}

	containerClient, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}

	return NewCosmosRegistryWithClient(containerClient), nil
}

// NewCosmosRegistryWithClient creates a CosmosRegistry over an existing
// container client.
func NewCosmosRegistryWithClient(client CosmosContainerAPI) *CosmosRegistry {
	return &CosmosRegistry{
		client: client,
		pk:     azcosmos.NewPartitionKeyString(cosmosPartition),
		now:    time.Now,
	}
}

// docIDClaimCosmos encodes key because Cosmos ids may not contain '/', '\',
// '?' or '#'.
func docIDClaimCosmos(key string) string {
	return "claim_" + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// newCosmosClaim builds the item for a claim made at now.
func newCosmosClaim(key string, now time.Time, ttl time.Duration) cosmosClaim {
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		// Cosmos requires a positive per-item ttl; the read-side expiry check
		// already treats this claim as expired.
		seconds = 1
	}
	return cosmosClaim{
		ID:        docIDClaimCosmos(key),
		Type:      cosmosPartition,
		Key:       key,
		TTL:       seconds,
		ExpiresAt: expiryFor(now, ttl).Unix(),
	}
}

func (r *CosmosRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	data, err := json.Marshal(newCosmosClaim(key, r.now(), ttl))
	if err != nil {
		return fmt.Errorf("marshaling claim: %w", err)
	}
	if _, err := r.client.UpsertItem(ctx, r.pk, data, nil); err != nil {
		return fmt.Errorf("upserting claim: %w", err)
	}
	return nil
}

func (r *CosmosRegistry) Release(ctx context.Context, key string) error {
	_, err := r.client.DeleteItem(ctx, r.pk, docIDClaimCosmos(key), nil)
	if err != nil && !isCosmosNotFound(err) {
		return fmt.Errorf("deleting claim: %w", err)
	}
	return nil
}

func (r *CosmosRegistry) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := r.client.ReadItem(ctx, r.pk, docIDClaimCosmos(key), nil)
	if err != nil {
		if isCosmosNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading claim: %w", err)
	}

	var c cosmosClaim
	if err := json.Unmarshal(resp.Value, &c); err != nil {
		return false, fmt.Errorf("decoding claim: %w", err)
	}
	return r.now().Unix() < c.ExpiresAt, nil
}

func (r *CosmosRegistry) Ping(ctx context.Context) error {
	_, err := r.client.Read(ctx, nil)
	return err
}

func (r *CosmosRegistry) Close() error {
	return nil
}

func isCosmosNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

var _ Registry = (*CosmosRegistry)(nil)
