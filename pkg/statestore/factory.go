package statestore

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/chatops/pkg/config"
	"github.com/Mindburn-Labs/chatops/pkg/database"
	"github.com/Mindburn-Labs/chatops/pkg/dynamo"
)

// SelectAdapter picks the backend for cfg. An explicit adapter wins;
// otherwise the first configured backend in the order dynamodb, redis,
// postgres, sqlite is used, falling back to memory.
func SelectAdapter(cfg config.PersistenceConfig) string {
	if cfg.Adapter != config.AdapterAuto {
		return cfg.Adapter
	}
	switch {
	case cfg.StateTable != "":
		return config.AdapterDynamoDB
	case cfg.RedisAddr != "":
		return config.AdapterRedis
	case cfg.DatabaseURL != "":
		return config.AdapterPostgres
	case cfg.SQLitePath != "":
		return config.AdapterSQLite
	default:
		return config.AdapterMemory
	}
}

// Open builds the configured store. The returned store owns any connection
// it opened; Close releases it.
func Open(ctx context.Context, cfg config.PersistenceConfig, env string, opts ...Option) (Store, error) {
	o := buildOptions(opts)
	adapter := SelectAdapter(cfg)

	switch adapter {
	case config.AdapterMemory:
		if env != config.EnvDevelopment {
			o.logger.Warn("in-memory state store is not durable and breaks multi-step flows across instances",
				"environment", env)
		}
		return NewMemoryStore(opts...), nil

	case config.AdapterSQLite, config.AdapterPostgres:
		var (
			db  *database.DB
			err error
		)
		if adapter == config.AdapterSQLite {
			db, err = database.OpenSQLite(ctx, cfg.SQLitePath)
		} else {
			db, err = database.OpenPostgres(ctx, cfg.DatabaseURL)
		}
		if err != nil {
			return nil, unavailable(adapter, "open", err)
		}
		s, err := NewSQLStore(ctx, db, opts...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.ownsDB = true
		return s, nil

	case config.AdapterDynamoDB:
		if cfg.StateTable == "" {
			return nil, fmt.Errorf("statestore: DYNAMODB_STATE_TABLE is required for the dynamodb adapter")
		}
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, unavailable(adapter, "open", err)
		}
		return NewDynamoStore(client, cfg.StateTable, opts...), nil

	case config.AdapterRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("statestore: REDIS_ADDR is required for the redis adapter")
		}
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)

	default:
		return nil, fmt.Errorf("statestore: unknown adapter %q", adapter)
	}
}
