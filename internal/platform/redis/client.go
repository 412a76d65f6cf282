// Package redis opens the connection backing the Redis sync registers. The
// sync state works against the raw go-redis client; this package only owns
// URL parsing, pool tuning, and the startup reachability check.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chaindir/internal/platform/config"
)

// Connect opens and pings a client for the configured instance. An empty
// URL means Redis is not configured; the caller gets a nil client and falls
// back to in-memory sync state.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
