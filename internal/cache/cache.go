// Package cache stores minification results under a key derived from the
// task's key material. Every failure reads as a miss to callers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"esminify/internal/task"
)

var (
	// ErrMiss reports that no usable entry exists for a key.
	ErrMiss = errors.New("cache: miss")
	// ErrNotCacheable is returned for tasks without key material and for
	// results carrying an error.
	ErrNotCacheable = errors.New("cache: not cacheable")
)

// Store persists opaque values by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Cache maps tasks to stored results. A nil *Cache is disabled.
type Cache struct {
	store Store
}

func New(store Store) *Cache { return &Cache{store: store} }

func (c *Cache) Enabled() bool { return c != nil && c.store != nil }

// Key serializes material deterministically: struct fields in declaration
// order, map keys sorted.
func Key(m *task.KeyMaterial) (string, error) {
	b, err := sonic.ConfigStd.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("cache: encode key: %w", err)
	}
	return string(b), nil
}

func (c *Cache) key(t *task.Task) (string, error) {
	if t.KeyMaterial == nil {
		return "", ErrNotCacheable
	}
	if t.CacheKey == "" {
		k, err := Key(t.KeyMaterial)
		if err != nil {
			return "", err
		}
		t.CacheKey = k
	}
	return t.CacheKey, nil
}

// Get returns the stored result for t. Any error means the caller has to
// compute the result itself.
func (c *Cache) Get(ctx context.Context, t *task.Task) (task.Result, error) {
	if !c.Enabled() {
		return task.Result{}, ErrMiss
	}
	key, err := c.key(t)
	if err != nil {
		return task.Result{}, err
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return task.Result{}, err
	}
	var res task.Result
	if err := sonic.Unmarshal(data, &res); err != nil {
		return task.Result{}, fmt.Errorf("%w: decode %s: %v", ErrMiss, t.File, err)
	}
	if res.Error != nil {
		return task.Result{}, fmt.Errorf("%w: stored entry for %s carries an error", ErrMiss, t.File)
	}
	return res, nil
}

// Store writes res under t's key. Results with an error are never stored.
func (c *Cache) Store(ctx context.Context, t *task.Task, res task.Result) error {
	if !c.Enabled() || res.Error != nil {
		return ErrNotCacheable
	}
	key, err := c.key(t)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", t.File, err)
	}
	return c.store.Put(ctx, key, data)
}

// DefaultDir is the cache location used when caching is just switched on.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "esminify")
	}
	return filepath.Join(os.TempDir(), "esminify")
}

// Open picks a store for location: "" disables caching, a redis:// or
// rediss:// URL selects redis, anything else is a directory.
func Open(location string, opts RedisOptions) (Store, error) {
	switch {
	case location == "":
		return nil, nil
	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		rs, err := NewRedisStoreURL(location, opts)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return NewDirStore(location), nil
	}
}
