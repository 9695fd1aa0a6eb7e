package cache

import (
	"fmt"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Factory creates the Redis-backed stores, falling back to in-memory ones when allowed
type Factory struct {
	redisConfig           RedisConfig
	analyticsConfig       AnalyticsCacheConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when
// Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// WithAnalyticsCacheConfig overrides the analytics cache configuration
func WithAnalyticsCacheConfig(cfg AnalyticsCacheConfig) FactoryOption {
	return func(f *Factory) {
		f.analyticsConfig = cfg
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig: RedisConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		analyticsConfig:       DefaultAnalyticsCacheConfig(),
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateIdempotencyStore returns a Redis store, or an in-memory one if Redis is
// unreachable and fallback is allowed
func (f *Factory) CreateIdempotencyStore() (shared.IdempotencyStore, error) {
	store, err := NewRedisIdempotencyStore(f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis idempotency store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for idempotency but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store; "+
		"events may be handled twice across instances",
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(), nil
}

// CreateAnalyticsCache returns a tiered Redis cache with Pub/Sub invalidation,
// or an in-memory cache if Redis is unreachable and fallback is allowed.
// Callers run StartInvalidationSubscription when the result is a *TieredAnalyticsCache.
func (f *Factory) CreateAnalyticsCache() (AnalyticsCache, error) {
	l2, err := NewRedisAnalyticsCache(f.redisConfig,
		WithAnalyticsConfig(f.analyticsConfig),
		WithAnalyticsLogger(f.logger),
	)
	if err == nil {
		invalidator := NewRedisAnalyticsInvalidator(l2.client, f.analyticsConfig.PubSubChannel, "", f.logger)
		l1 := NewInMemoryAnalyticsCache(f.analyticsConfig, f.logger)
		f.logger.Info("using tiered analytics cache", zap.String("addr", f.redisConfig.Addr()))
		return NewTieredAnalyticsCache(l1, l2, invalidator, f.analyticsConfig, f.logger), nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for analytics cache but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, using in-memory analytics cache", zap.Error(err))
	return NewInMemoryAnalyticsCache(f.analyticsConfig, f.logger), nil
}
