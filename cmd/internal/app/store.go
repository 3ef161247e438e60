package app

import (
	"context"
	"fmt"

	"backstage/cmd/internal/invite"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// backend bundles the selected invite store with the resources the app owns for it.
type backend struct {
	kind  string
	store invite.Store

	pool *pgxpool.Pool
	rdb  *redis.Client
}

// newBackend opens the store named by cfg.Store.
//
// Ownership model: the app owns the pool and client lifecycles; the stores only borrow them.
func newBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	switch cfg.Store {
	case StoreMemory:
		log.Info("store.memory", "note", "tokens are lost on restart")
		return &backend{kind: StoreMemory, store: invite.NewMemoryStore()}, nil

	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("store %q requires BACKSTAGE_DATABASE_URL", cfg.Store)
		}
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := invite.NewPostgresStore(pool, invite.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.DBAutoMigrate {
			if err := st.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
			log.Info("store.postgres.schema_ready", "schema", cfg.DBSchema)
		}
		log.Info("store.postgres", "schema", cfg.DBSchema)
		return &backend{kind: StorePostgres, store: st, pool: pool}, nil

	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("store %q requires BACKSTAGE_REDIS_URL", cfg.Store)
		}
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := invite.NewRedisStore(rdb, invite.WithKeyPrefix(cfg.RedisKeyPrefix))
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		log.Info("store.redis", "prefix", cfg.RedisKeyPrefix)
		return &backend{kind: StoreRedis, store: st, rdb: rdb}, nil

	default:
		return nil, fmt.Errorf("unknown store %q (want memory, postgres or redis)", cfg.Store)
	}
}

// Persistent reports whether tokens survive a restart.
func (b *backend) Persistent() bool {
	return b.kind != StoreMemory
}

// Ping checks the store's connectivity. The memory store is always ready.
func (b *backend) Ping(ctx context.Context) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, readyTimeout)
	case b.rdb != nil:
		return PingRedis(ctx, b.rdb, readyTimeout)
	default:
		return nil
	}
}

func (b *backend) Close(_ context.Context) error {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.rdb != nil {
		return b.rdb.Close()
	}
	return nil
}
