package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultCleanupInterval = 30 * time.Second

type analyticsEntry struct {
	organizationID uuid.UUID
	value          *ledger.Analytics
	expiresAt      time.Time
}

func (e *analyticsEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// InMemoryAnalyticsCache is a process-local AnalyticsCache. It serves a single
// instance on its own and acts as L1 in front of Redis otherwise.
type InMemoryAnalyticsCache struct {
	entries  sync.Map // key -> *analyticsEntry
	config   AnalyticsCacheConfig
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	hits   atomic.Int64
	misses atomic.Int64
}

// NewInMemoryAnalyticsCache creates the cache and starts its cleanup loop
func NewInMemoryAnalyticsCache(config AnalyticsCacheConfig, logger *zap.Logger) *InMemoryAnalyticsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &InMemoryAnalyticsCache{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns an unexpired view
func (c *InMemoryAnalyticsCache) Get(ctx context.Context, key string) (*ledger.Analytics, bool, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	entry := v.(*analyticsEntry)
	if entry.isExpired() {
		c.entries.Delete(key)
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return entry.value, true, nil
}

// Set stores a view until ttl elapses
func (c *InMemoryAnalyticsCache) Set(ctx context.Context, organizationID uuid.UUID, key string, value *ledger.Analytics, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	c.entries.Store(key, &analyticsEntry{
		organizationID: organizationID,
		value:          value,
		expiresAt:      time.Now().Add(ttl),
	})
	return nil
}

// InvalidateOrganization drops every view of an organization
func (c *InMemoryAnalyticsCache) InvalidateOrganization(ctx context.Context, organizationID uuid.UUID) error {
	c.entries.Range(func(key, value any) bool {
		if value.(*analyticsEntry).organizationID == organizationID {
			c.entries.Delete(key)
		}
		return true
	})
	return nil
}

// InvalidateAll drops everything
func (c *InMemoryAnalyticsCache) InvalidateAll(ctx context.Context) error {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
	return nil
}

// Stats returns hit and miss counters
func (c *InMemoryAnalyticsCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len counts stored entries, expired ones included
func (c *InMemoryAnalyticsCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops the cleanup loop
func (c *InMemoryAnalyticsCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *InMemoryAnalyticsCache) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("panic in analytics cache cleanup", zap.Any("panic", r))
					}
				}()
				c.removeExpired()
			}()
		}
	}
}

func (c *InMemoryAnalyticsCache) removeExpired() int {
	removed := 0
	c.entries.Range(func(key, value any) bool {
		if value.(*analyticsEntry).isExpired() {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

var _ AnalyticsCache = (*InMemoryAnalyticsCache)(nil)
