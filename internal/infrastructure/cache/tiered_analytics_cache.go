package cache

import (
	"context"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TieredAnalyticsCache reads through a local L1 to the shared Redis L2.
// Invalidations are applied to both tiers and broadcast so peers drop their L1.
type TieredAnalyticsCache struct {
	l1          *InMemoryAnalyticsCache
	l2          *RedisAnalyticsCache
	invalidator *RedisAnalyticsInvalidator
	config      AnalyticsCacheConfig
	logger      *zap.Logger
}

// NewTieredAnalyticsCache creates a tiered cache. invalidator may be nil.
func NewTieredAnalyticsCache(l1 *InMemoryAnalyticsCache, l2 *RedisAnalyticsCache, invalidator *RedisAnalyticsInvalidator, config AnalyticsCacheConfig, logger *zap.Logger) *TieredAnalyticsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredAnalyticsCache{
		l1:          l1,
		l2:          l2,
		invalidator: invalidator,
		config:      config,
		logger:      logger,
	}
}

// StartInvalidationSubscription listens for peer invalidations until ctx ends
func (c *TieredAnalyticsCache) StartInvalidationSubscription(ctx context.Context) error {
	if c.invalidator == nil {
		return nil
	}
	return c.invalidator.Subscribe(ctx, c.handleInvalidation)
}

func (c *TieredAnalyticsCache) handleInvalidation(msg InvalidationMessage) {
	ctx := context.Background()
	switch msg.Action {
	case InvalidateOrganization:
		organizationID, err := uuid.Parse(msg.OrganizationID)
		if err != nil {
			c.logger.Error("invalid organization id in invalidation message",
				zap.String("organization_id", msg.OrganizationID),
				zap.Error(err))
			return
		}
		_ = c.l1.InvalidateOrganization(ctx, organizationID)
	case InvalidateAll:
		_ = c.l1.InvalidateAll(ctx)
	}
}

// Get tries L1, then L2, populating L1 on an L2 hit
func (c *TieredAnalyticsCache) Get(ctx context.Context, key string) (*ledger.Analytics, bool, error) {
	if view, ok, _ := c.l1.Get(ctx, key); ok {
		return view, true, nil
	}
	view, ok, err := c.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	organizationID, parseErr := uuid.Parse(view.OrganizationID)
	if parseErr == nil {
		_ = c.l1.Set(ctx, organizationID, key, view, c.config.L1TTL)
	}
	return view, true, nil
}

// Set writes L2 and then L1
func (c *TieredAnalyticsCache) Set(ctx context.Context, organizationID uuid.UUID, key string, value *ledger.Analytics, ttl time.Duration) error {
	if err := c.l2.Set(ctx, organizationID, key, value, ttl); err != nil {
		return err
	}
	l1TTL := c.config.L1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	return c.l1.Set(ctx, organizationID, key, value, l1TTL)
}

// InvalidateOrganization clears both tiers and notifies peers
func (c *TieredAnalyticsCache) InvalidateOrganization(ctx context.Context, organizationID uuid.UUID) error {
	_ = c.l1.InvalidateOrganization(ctx, organizationID)
	if err := c.l2.InvalidateOrganization(ctx, organizationID); err != nil {
		return err
	}
	if c.invalidator != nil {
		if err := c.invalidator.PublishOrganization(ctx, organizationID); err != nil {
			c.logger.Warn("failed to broadcast analytics invalidation",
				zap.String("organization_id", organizationID.String()),
				zap.Error(err))
		}
	}
	return nil
}

// Close releases both tiers and the invalidator
func (c *TieredAnalyticsCache) Close() error {
	if c.invalidator != nil {
		_ = c.invalidator.Close()
	}
	_ = c.l1.Close()
	return c.l2.Close()
}

var _ AnalyticsCache = (*TieredAnalyticsCache)(nil)
