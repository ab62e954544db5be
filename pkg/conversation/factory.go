package conversation

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/chatops/pkg/config"
	"github.com/Mindburn-Labs/chatops/pkg/database"
	"github.com/Mindburn-Labs/chatops/pkg/dynamo"
)

// SelectAdapter mirrors the state store's selection. Redis holds no
// conversations, so a redis choice falls through to the next configured backend.
func SelectAdapter(cfg config.PersistenceConfig) string {
	if cfg.Adapter != config.AdapterAuto && cfg.Adapter != config.AdapterRedis {
		return cfg.Adapter
	}
	switch {
	case cfg.ConversationTable != "":
		return config.AdapterDynamoDB
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
	opts = append([]Option{WithRetention(cfg.ConversationTTL)}, opts...)
	o := buildOptions(opts)
	adapter := SelectAdapter(cfg)

	switch adapter {
	case config.AdapterMemory:
		if env != config.EnvDevelopment {
			o.logger.Warn("in-memory conversation store is not durable", "environment", env)
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
		if cfg.ConversationTable == "" {
			return nil, fmt.Errorf("conversation: DYNAMODB_CONVERSATION_TABLE is required for the dynamodb adapter")
		}
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, unavailable(adapter, "open", err)
		}
		return NewDynamoStore(client, cfg.ConversationTable, opts...), nil

	default:
		return nil, fmt.Errorf("conversation: unknown adapter %q", adapter)
	}
}
