package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/assetstage/assetstage/internal/errors"
	"github.com/assetstage/assetstage/internal/logging"
	"github.com/assetstage/assetstage/internal/metrics"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
	"github.com/assetstage/assetstage/internal/uid"
)

// maxFilenameLen caps the client-supplied part of a staging key.
const maxFilenameLen = 200

// UploadTicket is what a client needs to upload one asset directly to the
// object store.
type UploadTicket struct {
	StagingKey string
	URL        string
	ExpiresAt  time.Time
}

// Coordinator issues upload URLs and records confirmed uploads as claims.
type Coordinator struct {
	store    storage.ObjectStore
	registry registry.Registry
	cfg      Config
	logger   *slog.Logger

	newToken func() string
	now      func() time.Time
}

// NewCoordinator creates a Coordinator over store and reg.
func NewCoordinator(store storage.ObjectStore, reg registry.Registry, cfg Config) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: reg,
		cfg:      cfg,
		logger:   logging.Component("coordinator"),
		newToken: uid.New,
		now:      time.Now,
	}
}

// IssueUploadURL builds a fresh staging key for filename and a signed URL
// that lets the client PUT the object at stagingPrefix+key. Nothing is
// written to the registry; the key is not claimed until ConfirmUpload.
func (c *Coordinator) IssueUploadURL(ctx context.Context, filename string) (*UploadTicket, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		metrics.UploadURLsTotal.WithLabelValues("illegal_key").Inc()
		return nil, apperrors.New(apperrors.ErrIllegalKey, "issue", filename, nil)
	}
	key := c.newToken() + "_" + name

	callCtx, cancel := c.cfg.callContext(ctx)
	defer cancel()

	url, err := c.store.PresignPut(callCtx, c.cfg.stagingPath(key), c.cfg.PresignTTL)
	if err != nil {
		metrics.UploadURLsTotal.WithLabelValues("error").Inc()
		c.logger.Error("Failed to sign upload URL", "key", key, "error", err)
		return nil, apperrors.New(apperrors.ErrSigning, "issue", key, err)
	}

	metrics.UploadURLsTotal.WithLabelValues("success").Inc()
	c.logger.Debug("Issued upload URL", "key", key)
	return &UploadTicket{
		StagingKey: key,
		URL:        url,
		ExpiresAt:  c.now().Add(c.cfg.PresignTTL),
	}, nil
}

// ConfirmUpload claims stagingKey in the registry for the claim TTL. It is
// safe to call again after a failure; a repeat claim only resets the TTL.
// With VerifyUploads set, a key with no staged object is rejected with
// UploadNotFoundError and nothing is claimed.
func (c *Coordinator) ConfirmUpload(ctx context.Context, stagingKey string) error {
	if !validKey(stagingKey) {
		metrics.ConfirmationsTotal.WithLabelValues("illegal_key").Inc()
		return apperrors.New(apperrors.ErrIllegalKey, "confirm", stagingKey, nil)
	}

	if c.cfg.VerifyUploads {
		if err := c.verifyUpload(ctx, stagingKey); err != nil {
			return err
		}
	}

	callCtx, cancel := c.cfg.callContext(ctx)
	defer cancel()

	if err := c.registry.Claim(callCtx, stagingKey, c.cfg.ClaimTTL); err != nil {
		metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
		c.logger.Error("Failed to claim upload", "key", stagingKey, "error", err)
		return apperrors.New(apperrors.ErrRegistryWrite, "confirm", stagingKey, err)
	}

	metrics.ConfirmationsTotal.WithLabelValues("success").Inc()
	c.logger.Debug("Claimed upload", "key", stagingKey, "ttl", c.cfg.ClaimTTL)
	return nil
}

func (c *Coordinator) verifyUpload(ctx context.Context, stagingKey string) error {
	callCtx, cancel := c.cfg.callContext(ctx)
	defer cancel()

	ok, err := c.store.ObjectExists(callCtx, c.cfg.stagingPath(stagingKey))
	if err != nil {
		metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
		c.logger.Error("Failed to look up staged upload", "key", stagingKey, "error", err)
		return apperrors.New(apperrors.ErrObjectLookup, "confirm", stagingKey, err)
	}
	if !ok {
		metrics.ConfirmationsTotal.WithLabelValues("not_found").Inc()
		return apperrors.New(apperrors.ErrUploadNotFound, "confirm", stagingKey, nil)
	}
	return nil
}

// SanitizeFilename makes a client filename safe to embed in a staging key.
// Path separators become underscores so the key stays one path segment,
// control characters are dropped and the result is length-capped.
func SanitizeFilename(filename string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(filename) {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "." || name == ".." {
		return ""
	}
	if runes := []rune(name); len(runes) > maxFilenameLen {
		name = string(runes[len(runes)-maxFilenameLen:])
	}
	return name
}
