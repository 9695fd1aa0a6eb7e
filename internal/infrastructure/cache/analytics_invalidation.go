package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 5 * time.Second

// InvalidationAction says what a peer instance should drop from its L1 cache
type InvalidationAction string

const (
	InvalidateOrganization InvalidationAction = "invalidate_organization"
	InvalidateAll          InvalidationAction = "invalidate_all"
)

// InvalidationMessage is broadcast over Redis Pub/Sub
type InvalidationMessage struct {
	Action         InvalidationAction `json:"action"`
	OrganizationID string             `json:"organization_id,omitempty"`
	Origin         string             `json:"origin"`
	Timestamp      int64              `json:"timestamp"`
}

// RedisAnalyticsInvalidator fans analytics invalidations out to every instance
type RedisAnalyticsInvalidator struct {
	client    *redis.Client
	channel   string
	origin    string
	logger    *zap.Logger
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// NewRedisAnalyticsInvalidator creates an invalidator on a shared client.
// origin identifies this instance so it can ignore its own messages.
func NewRedisAnalyticsInvalidator(client *redis.Client, channel, origin string, logger *zap.Logger) *RedisAnalyticsInvalidator {
	if channel == "" {
		channel = defaultInvalidationChannel
	}
	if origin == "" {
		origin = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisAnalyticsInvalidator{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
}

// Origin returns the instance identifier stamped on published messages
func (i *RedisAnalyticsInvalidator) Origin() string {
	return i.origin
}

// Publish broadcasts a message
func (i *RedisAnalyticsInvalidator) Publish(ctx context.Context, msg InvalidationMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	msg.Origin = i.origin

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation message: %w", err)
	}
	return nil
}

// PublishOrganization asks peers to drop an organization's analytics
func (i *RedisAnalyticsInvalidator) PublishOrganization(ctx context.Context, organizationID uuid.UUID) error {
	return i.Publish(ctx, InvalidationMessage{
		Action:         InvalidateOrganization,
		OrganizationID: organizationID.String(),
	})
}

// Subscribe blocks, invoking callback for every message from another instance
func (i *RedisAnalyticsInvalidator) Subscribe(ctx context.Context, callback func(msg InvalidationMessage)) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.markDone()
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("subscribed to analytics invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return subCtx.Err()
		case raw, ok := <-ch:
			if !ok {
				i.logger.Warn("analytics invalidation channel closed")
				return nil
			}
			var msg InvalidationMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				i.logger.Error("failed to unmarshal invalidation message",
					zap.String("payload", raw.Payload),
					zap.Error(err))
				continue
			}
			if msg.Origin == i.origin {
				continue
			}
			i.dispatch(callback, msg)
		}
	}
}

func (i *RedisAnalyticsInvalidator) dispatch(callback func(InvalidationMessage), msg InvalidationMessage) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("panic in invalidation callback", zap.Any("panic", r))
		}
	}()
	callback(msg)
}

func (i *RedisAnalyticsInvalidator) markDone() {
	i.doneOnce.Do(func() {
		close(i.doneCh)
	})
}

// Close stops the subscription. The client belongs to the caller.
func (i *RedisAnalyticsInvalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-i.doneCh:
		case <-time.After(defaultCloseTimeout):
			i.logger.Warn("timeout waiting for invalidation subscription to stop")
		}
	}
	return nil
}
