package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Service defines cache operations
type Service interface {
	// Get decodes the entry for key into dst while it is fresh.
	Get(ctx context.Context, key string, dst interface{}) bool
	// Stale decodes the entry for key into dst regardless of its TTL, as long
	// as the backend still holds it.
	Stale(ctx context.Context, key string, dst interface{}) bool
	Set(ctx context.Context, key string, payload interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Entry is one stored payload.
type Entry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Fresh reports whether the entry may still be served as a normal hit.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Backend stores entries for at most the retention horizon.
type Backend interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, entry Entry, retention time.Duration) error
	Remove(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	Name() string
}

// Cache implements caching service
type Cache struct {
	backend    Backend
	defaultTTL time.Duration
	retention  time.Duration
	now        func() time.Time
	logger     *logrus.Logger
	metrics    *middleware.Metrics
}

// NewCache creates the cache service with the backend selected in cfg.
func NewCache(cfg *config.Config, logger *logrus.Logger, metrics *middleware.Metrics) (*Cache, error) {
	var backend Backend
	switch cfg.Cache.Backend {
	case "redis":
		b, err := NewRedisBackend(&cfg.Cache.Redis)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = NewMemoryBackend(cfg.Cache.Retention)
	}

	logger.WithFields(logrus.Fields{
		"backend":   backend.Name(),
		"ttl":       cfg.Cache.TTL,
		"retention": cfg.Cache.Retention,
	}).Info("Cache initialized")

	return New(backend, cfg.Cache.TTL, cfg.Cache.Retention, logger, metrics), nil
}

// New wraps backend. A zero ttl defaults to five minutes and a retention
// shorter than ttl is raised to it.
func New(backend Backend, ttl, retention time.Duration, logger *logrus.Logger, metrics *middleware.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if retention < ttl {
		retention = ttl
	}
	return &Cache{
		backend:    backend,
		defaultTTL: ttl,
		retention:  retention,
		now:        time.Now,
		logger:     logger,
		metrics:    metrics,
	}
}

// WithClock replaces the time source used for freshness checks.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// DefaultTTL returns the TTL applied when Set is called with zero.
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Get retrieves a fresh cached payload
func (c *Cache) Get(ctx context.Context, key string, dst interface{}) bool {
	entry, ok := c.load(ctx, key)
	if !ok || !entry.Fresh(c.now()) {
		c.recordMiss(key)
		return false
	}

	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to decode cached payload")
		c.recordMiss(key)
		return false
	}

	c.logger.WithFields(logrus.Fields{
		"key": key,
		"age": c.now().Sub(entry.StoredAt),
	}).Debug("Cache hit")
	if c.metrics != nil {
		c.metrics.RecordCacheHit(dataset(key))
	}
	return true
}

// Stale retrieves a cached payload even after its TTL has passed
func (c *Cache) Stale(ctx context.Context, key string, dst interface{}) bool {
	entry, ok := c.load(ctx, key)
	if !ok || c.now().Sub(entry.StoredAt) >= c.retention {
		return false
	}

	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to decode stale payload")
		return false
	}
	return true
}

// Set stores a payload in cache
func (c *Cache) Set(ctx context.Context, key string, payload interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", key, err)
	}

	entry := Entry{
		Key:      key,
		Payload:  data,
		StoredAt: c.now(),
		TTL:      ttl,
	}
	if err := c.backend.Store(ctx, entry, c.retention); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	c.logger.WithFields(logrus.Fields{
		"key": key,
		"ttl": ttl,
	}).Debug("Payload cached")
	return nil
}

// Delete drops key, including its stale copy.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Flush(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	c.logger.Info("Cache cleared")
	return nil
}

// Close releases the backend connection, if it holds one.
func (c *Cache) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key string) (Entry, bool) {
	entry, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"key":     key,
			"backend": c.backend.Name(),
		}).Warn("Cache backend read failed")
		return Entry{}, false
	}
	return entry, ok
}

func (c *Cache) recordMiss(key string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(dataset(key))
	}
}

// dataset is the metric label for key: "stock:600519" counts as "stock".
func dataset(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
