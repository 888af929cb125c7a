package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ResultStore caches serialized stage results. Misses and backend errors
// are indistinguishable to callers: both mean "compute it again".
type ResultStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// MemoryStore is a ResultStore backed by an in-process TTL cache.
type MemoryStore struct {
	ttl *TTL[[]byte]
}

var _ ResultStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore whose entries live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: NewTTL[[]byte](ttl)}
}

// Cache exposes the underlying TTL cache (for the cleanup janitor).
func (m *MemoryStore) Cache() *TTL[[]byte] {
	return m.ttl
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	return m.ttl.Get(key)
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) {
	m.ttl.Set(key, value)
}

// RedisStore is a ResultStore backed by Redis, shared across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ResultStore = (*RedisStore)(nil)

// NewRedisStore wraps client. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient creates a client for addr and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Redis get failed, treating as miss")
		}
		return nil, false
	}
	return val, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis set failed")
	}
}
