package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultAnalyticsKeyPrefix  = "ledger:"
	defaultInvalidationChannel = "ledger:analytics:invalidate"
)

// AnalyticsCacheConfig configures analytics caching
type AnalyticsCacheConfig struct {
	// TTL applies when Set is called without one
	TTL time.Duration
	// L1TTL bounds how long an instance serves its local copy
	L1TTL         time.Duration
	PubSubChannel string
}

// DefaultAnalyticsCacheConfig returns the default analytics cache configuration
func DefaultAnalyticsCacheConfig() AnalyticsCacheConfig {
	return AnalyticsCacheConfig{
		TTL:           5 * time.Minute,
		L1TTL:         30 * time.Second,
		PubSubChannel: defaultInvalidationChannel,
	}
}

// AnalyticsCache caches analytics views per organization
type AnalyticsCache interface {
	Get(ctx context.Context, key string) (*ledger.Analytics, bool, error)
	Set(ctx context.Context, organizationID uuid.UUID, key string, value *ledger.Analytics, ttl time.Duration) error
	InvalidateOrganization(ctx context.Context, organizationID uuid.UUID) error
	Close() error
}

// RedisAnalyticsCache stores analytics views as JSON. Each organization has an
// index set of its keys so invalidation never scans the keyspace.
type RedisAnalyticsCache struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	config     AnalyticsCacheConfig
	logger     *zap.Logger
}

// RedisAnalyticsCacheOption is a functional option for configuring the cache
type RedisAnalyticsCacheOption func(*RedisAnalyticsCache)

// WithAnalyticsConfig sets the cache configuration
func WithAnalyticsConfig(config AnalyticsCacheConfig) RedisAnalyticsCacheOption {
	return func(c *RedisAnalyticsCache) {
		c.config = config
	}
}

// WithAnalyticsLogger sets the logger
func WithAnalyticsLogger(logger *zap.Logger) RedisAnalyticsCacheOption {
	return func(c *RedisAnalyticsCache) {
		c.logger = logger
	}
}

// NewRedisAnalyticsCache connects to Redis and creates the cache
func NewRedisAnalyticsCache(cfg RedisConfig, opts ...RedisAnalyticsCacheOption) (*RedisAnalyticsCache, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	c := NewRedisAnalyticsCacheWithClient(client, opts...)
	c.ownsClient = true
	return c, nil
}

// NewRedisAnalyticsCacheWithClient creates a cache on a shared client.
// The caller keeps ownership of the client.
func NewRedisAnalyticsCacheWithClient(client *redis.Client, opts ...RedisAnalyticsCacheOption) *RedisAnalyticsCache {
	c := &RedisAnalyticsCache{
		client: client,
		prefix: defaultAnalyticsKeyPrefix,
		config: DefaultAnalyticsCacheConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisAnalyticsCache) valueKey(key string) string {
	return c.prefix + key
}

func (c *RedisAnalyticsCache) indexKey(organizationID uuid.UUID) string {
	return fmt.Sprintf("%sanalytics-index:%s", c.prefix, organizationID)
}

// Get returns the cached view; ok is false on a miss
func (c *RedisAnalyticsCache) Get(ctx context.Context, key string) (*ledger.Analytics, bool, error) {
	data, err := c.client.Get(ctx, c.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analytics from cache: %w", err)
	}

	var view ledger.Analytics
	if err := json.Unmarshal(data, &view); err != nil {
		c.logger.Warn("dropping corrupt analytics cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, c.valueKey(key))
		return nil, false, nil
	}
	return &view, true, nil
}

// Set stores the view and records its key in the organization index
func (c *RedisAnalyticsCache) Set(ctx context.Context, organizationID uuid.UUID, key string, value *ledger.Analytics, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics: %w", err)
	}

	index := c.indexKey(organizationID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.valueKey(key), data, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set analytics in cache: %w", err)
	}
	return nil
}

// InvalidateOrganization deletes every cached view of an organization
func (c *RedisAnalyticsCache) InvalidateOrganization(ctx context.Context, organizationID uuid.UUID) error {
	index := c.indexKey(organizationID)
	members, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("failed to read analytics index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, c.valueKey(m))
	}
	keys = append(keys, index)

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to delete analytics keys: %w", err)
	}
	c.logger.Debug("invalidated analytics cache",
		zap.String("organization_id", organizationID.String()),
		zap.Int64("deleted", deleted))
	return nil
}

// Close closes the client if the cache created it
func (c *RedisAnalyticsCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}

var _ AnalyticsCache = (*RedisAnalyticsCache)(nil)
