//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisIdempotencyStore(t *testing.T) {
	client := startRedis(t)
	store := NewRedisIdempotencyStoreWithClient(client, "")
	ctx := context.Background()

	fresh, err := store.MarkProcessed(ctx, paidKey, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.MarkProcessed(ctx, paidKey, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, store.Remove(ctx, paidKey))
	processed, err := store.IsProcessed(ctx, paidKey)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisAnalyticsCache(t *testing.T) {
	client := startRedis(t)
	c := NewRedisAnalyticsCacheWithClient(client)
	ctx := context.Background()
	acme, other := uuid.New(), uuid.New()

	require.NoError(t, c.Set(ctx, acme, "analytics:acme:1", newAnalyticsView(acme), time.Minute))
	require.NoError(t, c.Set(ctx, acme, "analytics:acme:2", newAnalyticsView(acme), time.Minute))
	require.NoError(t, c.Set(ctx, other, "analytics:other:1", newAnalyticsView(other), time.Minute))

	got, ok, err := c.Get(ctx, "analytics:acme:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acme.String(), got.OrganizationID)
	assert.True(t, got.TotalInvoiced.Equal(newAnalyticsView(acme).TotalInvoiced))

	require.NoError(t, c.InvalidateOrganization(ctx, acme))

	_, ok, err = c.Get(ctx, "analytics:acme:2")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get(ctx, "analytics:other:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTieredAnalyticsCache_PeerInvalidation(t *testing.T) {
	client := startRedis(t)
	config := DefaultAnalyticsCacheConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newInstance := func() *TieredAnalyticsCache {
		l2 := NewRedisAnalyticsCacheWithClient(client, WithAnalyticsConfig(config))
		inv := NewRedisAnalyticsInvalidator(client, config.PubSubChannel, "", nil)
		return NewTieredAnalyticsCache(NewInMemoryAnalyticsCache(config, nil), l2, inv, config, nil)
	}
	a, b := newInstance(), newInstance()
	go func() { _ = b.StartInvalidationSubscription(ctx) }()

	orgID := uuid.New()
	require.NoError(t, b.Set(ctx, orgID, "analytics:peer", newAnalyticsView(orgID), time.Minute))
	require.Equal(t, 1, b.l1.Len())

	// give the subscription time to attach before publishing
	require.Eventually(t, func() bool {
		require.NoError(t, a.InvalidateOrganization(ctx, orgID))
		return b.l1.Len() == 0
	}, 5*time.Second, 100*time.Millisecond)
}
