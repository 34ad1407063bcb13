package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/assetstage/assetstage/internal/errors"
	"github.com/assetstage/assetstage/internal/logging"
	"github.com/assetstage/assetstage/internal/metrics"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

// Promoter moves claimed uploads from the staging prefix to the permanent
// prefix.
type Promoter struct {
	store    storage.ObjectStore
	registry registry.Registry
	cfg      Config
	logger   *slog.Logger
}

// NewPromoter creates a Promoter over store and reg.
func NewPromoter(store storage.ObjectStore, reg registry.Registry, cfg Config) *Promoter {
	return &Promoter{
		store:    store,
		registry: reg,
		cfg:      cfg,
		logger:   logging.Component("promoter"),
	}
}

// PromotionResult is the outcome of promoting one AssetReference.
type PromotionResult struct {
	Ref AssetReference
	Err error
}

// Promote copies stagingKey to the permanent prefix, deletes the staging
// copy, then releases the claim. The steps run strictly in that order.
//
// A copy failure returns ObjectCopyError and leaves the staging object and
// claim untouched. A staging delete failure returns ObjectDeleteError with
// the permanent copy already in place; the claim is kept so the staging
// copy survives until a retry or until the claim expires and the sweeper
// takes it. A failure to release the claim is only logged.
//
// Callers must not promote the same key concurrently.
func (p *Promoter) Promote(ctx context.Context, stagingKey string) error {
	if !validKey(stagingKey) {
		metrics.PromotionsTotal.WithLabelValues("illegal_key").Inc()
		return apperrors.New(apperrors.ErrIllegalKey, "promote", stagingKey, nil)
	}

	src := p.cfg.stagingPath(stagingKey)
	dst := p.cfg.permanentPath(stagingKey)

	if err := p.call(ctx, func(ctx context.Context) error {
		return p.store.CopyObject(ctx, src, dst)
	}); err != nil {
		metrics.PromotionsTotal.WithLabelValues("copy_error").Inc()
		p.logger.Error("Promotion copy failed", "key", stagingKey, "error", err)
		return apperrors.New(apperrors.ErrObjectCopy, "promote", stagingKey, err)
	}

	if err := p.call(ctx, func(ctx context.Context) error {
		return p.store.DeleteObject(ctx, src)
	}); err != nil {
		metrics.PromotionsTotal.WithLabelValues("delete_error").Inc()
		p.logger.Error("Promotion staging delete failed", "key", stagingKey, "error", err)
		return apperrors.New(apperrors.ErrObjectDelete, "promote", stagingKey, err)
	}

	if err := p.call(ctx, func(ctx context.Context) error {
		return p.registry.Release(ctx, stagingKey)
	}); err != nil {
		// Object is already in place; a stale claim only delays reclamation.
		p.logger.Warn("Failed to release claim after promotion", "key", stagingKey, "error", err)
	}

	metrics.PromotionsTotal.WithLabelValues("success").Inc()
	p.logger.Info("Promoted asset", "key", stagingKey, "to", dst)
	return nil
}

// PromoteAll promotes every reference concurrently, at most
// PromoteConcurrency at a time, and returns one result per reference in
// input order. A failure for one reference never stops the others.
//
// Each distinct staging key is promoted once; a reference that repeats an
// earlier key shares that promotion's result.
func (p *Promoter) PromoteAll(ctx context.Context, refs []AssetReference) []PromotionResult {
	results := make([]PromotionResult, len(refs))
	first := make(map[string]int, len(refs))

	var g errgroup.Group
	if p.cfg.PromoteConcurrency > 0 {
		g.SetLimit(p.cfg.PromoteConcurrency)
	}
	for i, ref := range refs {
		results[i].Ref = ref
		if _, seen := first[ref.StorageKey]; seen {
			continue
		}
		first[ref.StorageKey] = i
		g.Go(func() error {
			results[i].Err = p.Promote(ctx, ref.StorageKey)
			return nil
		})
	}
	g.Wait()

	for i, ref := range refs {
		if j := first[ref.StorageKey]; j != i {
			results[i].Err = results[j].Err
		}
	}
	return results
}

func (p *Promoter) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := p.cfg.callContext(ctx)
	defer cancel()
	return fn(callCtx)
}
