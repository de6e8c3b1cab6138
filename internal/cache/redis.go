package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a [Client] backed by a Redis server. All failures are logged and
// swallowed so that a Redis outage degrades the system to uncached operation
// rather than breaking the hot path.
type Redis struct {
	rdb *redis.Client
}

// Compile-time interface check.
var _ Client = (*Redis)(nil)

// NewRedis creates a Redis cache client from the given options. The
// connection is established lazily; use [Redis.IsReady] to probe it.
func NewRedis(opts *redis.Options) *Redis {
	return &Redis{rdb: redis.NewClient(opts)}
}

// Get implements [Client].
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache: redis get failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

// Set implements [Client].
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := r.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		slog.Warn("cache: redis set failed", "key", key, "error", err)
	}
}

// Del implements [Client].
func (r *Redis) Del(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache: redis del failed", "key", key, "error", err)
	}
}

// IsReady implements [Client]. It pings with a short deadline so that a down
// Redis cannot stall the hot path.
func (r *Redis) IsReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	return r.rdb.Ping(ctx).Err() == nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
