package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/ridou/marketsync/internal/config"
)

// MemoryBackend keeps entries in process.
type MemoryBackend struct {
	cache *cache.Cache
}

// NewMemoryBackend creates a memory backend whose janitor drops entries once
// the retention horizon has passed.
func NewMemoryBackend(retention time.Duration) *MemoryBackend {
	return &MemoryBackend{
		cache: cache.New(retention, retention/2+time.Minute),
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	val, found := m.cache.Get(key)
	if !found {
		return Entry{}, false, nil
	}
	return val.(Entry), true, nil
}

func (m *MemoryBackend) Store(ctx context.Context, entry Entry, retention time.Duration) error {
	m.cache.Set(entry.Key, entry, retention)
	return nil
}

func (m *MemoryBackend) Remove(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryBackend) Flush(ctx context.Context) error {
	m.cache.Flush()
	return nil
}

// RedisBackend shares entries between processes.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg *config.RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Load(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode entry %s: %w", key, err)
	}
	return entry, true, nil
}

func (r *RedisBackend) Store(ctx context.Context, entry Entry, retention time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+entry.Key, data, retention).Err()
}

func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Flush deletes the keys under the configured prefix only.
func (r *RedisBackend) Flush(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
