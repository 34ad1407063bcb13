package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/assetstage/assetstage/internal/config"
)

// NewFromConfig builds the ObjectStore selected by cfg.Backend.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required")
	}

	var (
		store ObjectStore
		err   error
	)
	switch cfg.Backend {
	case "aws":
		store, err = NewAWSBackend(ctx, cfg.Bucket, cfg.AWS.Region, cfg.AWS.EndpointURL, cfg.AWS.UsePathStyle,
			cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey)
	case "gcp":
		store, err = NewGCPBackend(ctx, cfg.Bucket, cfg.GCP.Project, cfg.GCP.CredentialsFile)
	case "azure":
		if cfg.Azure.Account == "" && cfg.Azure.AccountURL == "" && cfg.Azure.ConnectionString == "" {
			return nil, fmt.Errorf("storage.azure.account, account_url or connection_string is required when backend is 'azure'")
		}
		store, err = NewAzureBackend(ctx, cfg.Bucket, cfg.Azure.Account, cfg.Azure.AccountURL,
			cfg.Azure.AccountKey, cfg.Azure.ConnectionString)
	case "minio":
		if cfg.Minio.Endpoint == "" {
			return nil, fmt.Errorf("storage.minio.endpoint is required when backend is 'minio'")
		}
		store, err = NewMinioBackend(ctx, cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey,
			cfg.Bucket, cfg.Minio.Region, cfg.Minio.UseSSL)
	case "memory":
		store = NewMemoryBackend(cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s storage backend: %w", cfg.Backend, err)
	}

	slog.Info("Storage backend initialized", "backend", cfg.Backend, "bucket", cfg.Bucket)
	return store, nil
}
