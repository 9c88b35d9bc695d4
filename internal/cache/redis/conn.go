// Package redis holds the optional Redis-backed parts of a run: the oracle
// quote cache, the oracle rate limiter shared between processes, and the run
// lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options mirrors the [redis] config section.
type Options struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLS        bool
}

// Open connects and pings. The quote cache, rate limiter and run lock share
// the returned client; the caller closes it.
func Open(ctx context.Context, o Options) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       o.Addr,
		Password:   o.Password,
		DB:         o.DB,
		PoolSize:   o.PoolSize,
		MaxRetries: o.MaxRetries,
	}
	if o.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", o.Addr, err)
	}
	return rdb, nil
}
