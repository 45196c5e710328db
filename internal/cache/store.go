// Package cache defines the ephemeral key-value store contract used by the
// lookup fleet and query router. It backs the work-set, response hashes,
// cached-date indices, lock sets, and the META/running/shutdown control
// keys.
//
// Two implementations satisfy Store: RedisStore (github.com/redis/go-redis/v9,
// for production) and MemStore (an in-process map, for tests).
package cache

import (
	"context"
	"time"
)

// Store is the set of cache operations the fleet and router need. All
// multi-key mutations are expressed through Pipeline so callers can batch
// them into a single round trip instead of one call per key.
type Store interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRandMember(ctx context.Context, key string, count int) ([]string, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	Pipeline() Pipeline
}

// Pipeline batches commutative operations (SADD, HSET, EXPIRE, SREM) for a
// single round trip. Operations queue until Exec; order between distinct
// keys is not guaranteed or required.
type Pipeline interface {
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	HSet(key string, fields map[string]string)
	Expire(key string, ttl time.Duration)
	Del(key ...string)
	Exec(ctx context.Context) error
}

// ResponseTTL is the fixed TTL (43200s / 12h) applied to every
// response hash whenever it is read or written.
const ResponseTTL = 12 * time.Hour
