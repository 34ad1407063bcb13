package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/assetstage/assetstage/internal/errors"
	"github.com/assetstage/assetstage/internal/logging"
	"github.com/assetstage/assetstage/internal/metrics"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

// Sweeper deletes staging objects whose key holds no live claim.
type Sweeper struct {
	store    storage.ObjectStore
	registry registry.Registry
	cfg      Config
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper over store and reg.
func NewSweeper(store storage.ObjectStore, reg registry.Registry, cfg Config) *Sweeper {
	return &Sweeper{
		store:    store,
		registry: reg,
		cfg:      cfg,
		logger:   logging.Component("sweeper"),
	}
}

// SweepOptions controls a single sweep.
type SweepOptions struct {
	// DryRun reports orphans without deleting them or purging claims.
	DryRun bool
}

// SweepReport summarizes a sweep.
type SweepReport struct {
	// Scanned is the number of staging objects listed.
	Scanned int
	// Claimed is the number of objects skipped because of a live claim.
	Claimed int
	// Reclaimed lists the staging keys deleted (or, in a dry run, that
	// would have been deleted).
	Reclaimed []string
	// Failed counts objects whose lookup or delete failed; they are left for
	// the next run.
	Failed int
	// Purged is the number of expired claims removed from the registry.
	Purged   int64
	Duration time.Duration
}

// SweepOrphans runs a full sweep and returns the reclaimed keys.
func (s *Sweeper) SweepOrphans(ctx context.Context) ([]string, error) {
	report, err := s.Sweep(ctx, SweepOptions{})
	if err != nil {
		return nil, err
	}
	return report.Reclaimed, nil
}

// Sweep lists every object under the staging prefix and deletes each one
// whose key has no live claim. The claim is checked immediately before
// each delete. A failed lookup or delete is logged and skipped; only a
// failed listing aborts the sweep. Overlapping sweeps are harmless.
func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{Reclaimed: []string{}}
	defer func() {
		report.Duration = time.Since(start)
		metrics.SweepDuration.Observe(report.Duration.Seconds())
	}()

	listCtx, cancel := s.cfg.callContext(ctx)
	paths, err := s.store.ListObjects(listCtx, s.cfg.StagingPrefix)
	cancel()
	if err != nil {
		metrics.SweepErrorsTotal.WithLabelValues("list").Inc()
		return report, fmt.Errorf("listing staging objects: %w", err)
	}
	report.Scanned = len(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		key := keyFromPath(path)
		if key == "" {
			// Folder placeholder objects ("temp/") carry no key.
			continue
		}

		claimed, err := s.exists(ctx, key)
		if err != nil {
			report.Failed++
			metrics.SweepErrorsTotal.WithLabelValues("lookup").Inc()
			err = apperrors.New(apperrors.ErrRegistryRead, "sweep", key, err)
			s.logger.Warn("Claim lookup failed, skipping object", "key", key, "error", err)
			continue
		}
		if claimed {
			report.Claimed++
			continue
		}

		if opts.DryRun {
			report.Reclaimed = append(report.Reclaimed, key)
			continue
		}

		if err := s.delete(ctx, path); err != nil {
			report.Failed++
			metrics.SweepErrorsTotal.WithLabelValues("delete").Inc()
			err = apperrors.New(apperrors.ErrObjectDelete, "sweep", key, err)
			s.logger.Warn("Failed to delete orphaned object", "key", key, "error", err)
			continue
		}
		metrics.ReclaimedObjectsTotal.Inc()
		report.Reclaimed = append(report.Reclaimed, key)
	}

	if !opts.DryRun {
		if p, ok := s.registry.(registry.Purger); ok {
			purgeCtx, cancel := s.cfg.callContext(ctx)
			n, err := p.PurgeExpired(purgeCtx)
			cancel()
			if err != nil {
				s.logger.Warn("Failed to purge expired claims", "error", err)
			}
			report.Purged = n
		}
	}

	s.logger.Info("Sweep finished",
		"scanned", report.Scanned,
		"claimed", report.Claimed,
		"reclaimed", len(report.Reclaimed),
		"failed", report.Failed,
		"dry_run", opts.DryRun,
		"keys", report.Reclaimed,
	)
	return report, nil
}

func (s *Sweeper) exists(ctx context.Context, key string) (bool, error) {
	callCtx, cancel := s.cfg.callContext(ctx)
	defer cancel()
	return s.registry.Exists(callCtx, key)
}

func (s *Sweeper) delete(ctx context.Context, path string) error {
	callCtx, cancel := s.cfg.callContext(ctx)
	defer cancel()
	return s.store.DeleteObject(callCtx, path)
}
