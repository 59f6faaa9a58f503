package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/db/postgres"
	"github.com/taskboard/kanban/internal/feed"
)

// openStore opens the database named by dsn: postgres:// URLs use pgx,
// everything else the embedded SQLite or a hosted libSQL database. The schema
// is created when missing.
func openStore(ctx context.Context, dsn string) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch {
	case postgres.IsPostgresDSN(dsn):
		store, err = postgres.Open(ctx, dsn)
	default:
		store, err = db.Open(dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// openBroker returns the Redis broker when redis.url is set, else an
// in-process hub. closeFn releases the broker and its Redis client.
func openBroker(ctx context.Context) (broker feed.Broker, closeFn func() error, err error) {
	if cfg.Redis.URL == "" {
		hub := feed.NewHub(feed.HubConfig{Logger: logger.Named("feed")})
		return hub, hub.Close, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	rb, err := feed.NewRedisBroker(ctx, rdb, feed.RedisConfig{
		Namespace: cfg.Redis.Namespace,
		Logger:    logger.Named("feed"),
	})
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	logger.Info("using redis change feed", zap.String("namespace", cfg.Redis.Namespace))
	return rb, func() error {
		_ = rb.Close()
		return rdb.Close()
	}, nil
}
