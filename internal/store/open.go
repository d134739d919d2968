package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/huddle-client/internal/config"
	"github.com/rickgao/huddle-client/internal/database"
)

// Open creates the backend selected by cfg.Backend. Connections opened here
// are released by the returned Store's Close.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil

	case "file":
		return OpenFile(cfg.File.Path, logger)

	case "postgres":
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg, err := NewPostgres(ctx, pool, cfg.Postgres.Table, cfg.Postgres.Channel, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &ownedPostgres{Postgres: pg, pool: pool}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rs, err := NewRedis(ctx, client, cfg.Redis.KeyPrefix, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &ownedRedis{Redis: rs, client: client}, nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

type ownedPostgres struct {
	*Postgres
	pool *pgxpool.Pool
}

func (o *ownedPostgres) Close() error {
	err := o.Postgres.Close()
	o.pool.Close()
	return err
}

type ownedRedis struct {
	*Redis
	client *redis.Client
}

func (o *ownedRedis) Close() error {
	err := o.Redis.Close()
	if cerr := o.client.Close(); err == nil {
		err = cerr
	}
	return err
}
