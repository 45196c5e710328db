package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backend. It is a thin adapter over
// github.com/redis/go-redis/v9 — the set/hash/TTL primitives map directly
// onto Redis's own SADD/SREM/SMEMBERS/SRANDMEMBER/HSET/HGETALL/EXPIRE, so
// there's no translation layer to get wrong.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr (host:port) and returns a Store backed by it.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.client.SAdd(ctx, key, toAny(members)...).Err()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.client.SRem(ctx, key, toAny(members)...).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) SRandMember(ctx context.Context, key string, count int) ([]string, error) {
	return r.client.SRandMemberN(ctx, key, int64(count)).Result()
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *RedisStore) Del(ctx context.Context, key ...string) error {
	if len(key) == 0 {
		return nil
	}
	return r.client.Del(ctx, key...).Err()
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{pipe: r.client.Pipeline()}
}

type redisPipeline struct {
	pipe redis.Pipeliner
}

func (p *redisPipeline) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	p.pipe.SAdd(context.Background(), key, toAny(members)...)
}

func (p *redisPipeline) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	p.pipe.SRem(context.Background(), key, toAny(members)...)
}

func (p *redisPipeline) HSet(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	p.pipe.HSet(context.Background(), key, args...)
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.pipe.Expire(context.Background(), key, ttl)
}

func (p *redisPipeline) Del(key ...string) {
	if len(key) == 0 {
		return
	}
	p.pipe.Del(context.Background(), key...)
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	_, err := p.pipe.Exec(ctx)
	return err
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
