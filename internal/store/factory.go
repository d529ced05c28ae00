// Package store selects a doc.Store backend from configuration.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/idbroker/internal/config"
	"github.com/dropDatabas3/idbroker/internal/store/adapter"
	"github.com/dropDatabas3/idbroker/internal/store/doc"
	"github.com/dropDatabas3/idbroker/internal/store/doc/memory"
	"github.com/dropDatabas3/idbroker/internal/store/doc/pg"
	"github.com/dropDatabas3/idbroker/internal/store/doc/redis"
)

// New builds the configured backend. Drivers: memory | redis | postgres.
func New(ctx context.Context, cfg *config.Config) (doc.Store, error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return memory.New(), nil
	case "redis":
		return redis.New(redis.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
			Indexes:  adapter.Indexes(),
		}), nil
	case "postgres":
		var lifetime time.Duration
		if s := cfg.Storage.Postgres.ConnMaxLifetime; s != "" {
			lifetime, _ = time.ParseDuration(s) // validated in config.Load
		}
		return pg.New(ctx, pg.Config{
			DSN:             cfg.Storage.Postgres.DSN,
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			ConnMaxLifetime: lifetime,
		})
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Storage.Driver)
	}
}
