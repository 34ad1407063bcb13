package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/assetstage/assetstage/internal/config"
)

// NewFromConfig opens the Registry selected by cfg.Engine.
func NewFromConfig(ctx context.Context, cfg config.RegistryConfig) (Registry, error) {
	var (
		reg Registry
		err error
	)
	switch cfg.Engine {
	case "memory":
		reg = NewMemoryRegistry()
	case "sqlite":
		reg, err = NewSQLiteRegistry(cfg.SQLite.Path)
	case "redis":
		reg, err = NewRedisRegistry(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	case "dynamodb":
		reg, err = NewDynamoDBRegistry(ctx, &cfg.DynamoDB)
	case "firestore":
		reg, err = NewFirestoreRegistry(ctx, &cfg.Firestore)
	case "cosmos":
		reg, err = NewCosmosRegistry(&cfg.Cosmos)
	default:
		return nil, fmt.Errorf("unknown registry engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s registry: %w", cfg.Engine, err)
	}

	slog.Info("Registry initialized", "engine", cfg.Engine)
	return reg, nil
}
