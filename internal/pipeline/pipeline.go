// Package pipeline implements the temporary asset staging pipeline: issuing
// direct-upload URLs, claiming confirmed uploads, promoting claimed uploads
// to permanent storage, and reclaiming staging objects nobody claimed.
//
// Two stores take part and neither is transactional with the other. The
// object store holds bytes under a staging and a permanent prefix; the
// registry holds TTL claims keyed by staging key. Correctness comes from
// ordering: an object is copied before its staging copy is deleted, and a
// claim is released only after both succeed. A staging object without a
// live claim is therefore always safe to reclaim.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/assetstage/assetstage/internal/config"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

// Config holds the prefixes and time windows shared by all pipeline stages.
type Config struct {
	StagingPrefix   string
	PermanentPrefix string
	// PresignTTL is the lifetime of an issued upload URL.
	PresignTTL time.Duration
	// ClaimTTL is how long a confirmed upload is protected from reclamation.
	ClaimTTL time.Duration
	// CallTimeout bounds each individual store or registry call.
	CallTimeout time.Duration
	// PromoteConcurrency bounds parallel promotions in PromoteAll.
	PromoteConcurrency int
	// VerifyUploads rejects confirmations for keys with no staged object.
	VerifyUploads bool
}

// ConfigFrom converts the file configuration into a pipeline Config.
func ConfigFrom(c config.PipelineConfig) Config {
	return Config{
		StagingPrefix:      c.StagingPrefix,
		PermanentPrefix:    c.PermanentPrefix,
		PresignTTL:         c.PresignTTL(),
		ClaimTTL:           c.ClaimTTL,
		CallTimeout:        c.CallTimeout,
		PromoteConcurrency: c.PromoteConcurrency,
		VerifyUploads:      c.VerifyUploads,
	}
}

func (c Config) stagingPath(key string) string {
	return c.StagingPrefix + key
}

func (c Config) permanentPath(key string) string {
	return c.PermanentPrefix + key
}

// callContext derives the context for a single store or registry round trip.
func (c Config) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.CallTimeout)
}

// AssetReference is an asset attached to a parent entity: the name shown to
// users and the staging key the upload was stored under.
type AssetReference struct {
	DisplayName string `json:"fileName"`
	StorageKey  string `json:"fileKey"`
}

// CommitRequest lists the assets a newly saved product refers to.
type CommitRequest struct {
	Thumbnail     *AssetReference  `json:"thumbnailImage,omitempty"`
	ContentImages []AssetReference `json:"contentImages,omitempty"`
}

// References returns the thumbnail followed by the content images, in order.
func (r CommitRequest) References() []AssetReference {
	refs := make([]AssetReference, 0, len(r.ContentImages)+1)
	if r.Thumbnail != nil {
		refs = append(refs, *r.Thumbnail)
	}
	return append(refs, r.ContentImages...)
}

// Pipeline bundles the three stages over one store and registry.
type Pipeline struct {
	Coordinator *Coordinator
	Promoter    *Promoter
	Sweeper     *Sweeper
}

// New wires all pipeline stages to store and reg.
func New(store storage.ObjectStore, reg registry.Registry, cfg Config) *Pipeline {
	return &Pipeline{
		Coordinator: NewCoordinator(store, reg, cfg),
		Promoter:    NewPromoter(store, reg, cfg),
		Sweeper:     NewSweeper(store, reg, cfg),
	}
}

// validKey reports whether key can name a staging object: non-blank and a
// single path segment, so it cannot address anything outside the prefix.
func validKey(key string) bool {
	return strings.TrimSpace(key) != "" && !strings.ContainsAny(key, `/\`) && key != "." && key != ".."
}

// keyFromPath returns the portion of an object path after the last "/".
func keyFromPath(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
