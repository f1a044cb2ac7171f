package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "esminify:cache:"

type RedisOptions struct {
	Prefix string
	// TTL of zero keeps entries until evicted.
	TTL time.Duration
}

// RedisStore shares one cache between machines building the same project.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: opts.TTL}
}

// NewRedisStoreURL connects to the server named by a redis:// URL.
func NewRedisStoreURL(url string, opts RedisOptions) (*RedisStore, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(ro), opts), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+digest(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	return unseal(key, raw)
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	raw, err := seal(key, data)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+digest(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
