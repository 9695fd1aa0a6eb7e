package event

import (
	"context"
	"sync"
	"time"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/config"
	"github.com/csr/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OutboxProcessorConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:        100,
		PollInterval:     2 * time.Second,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// OutboxProcessorConfigFrom overlays the non-zero event settings on the defaults.
func OutboxProcessorConfigFrom(cfg config.EventConfig) OutboxProcessorConfig {
	out := DefaultOutboxProcessorConfig()
	out.CleanupEnabled = cfg.CleanupEnabled
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	if cfg.PollInterval > 0 {
		out.PollInterval = cfg.PollInterval
	}
	if cfg.CleanupRetention > 0 {
		out.CleanupRetention = cfg.CleanupRetention
	}
	return out
}

// BatchResult counts what one ProcessBatch call did.
type BatchResult struct {
	Claimed int
	Sent    int
	Failed  int
	Dead    int
}

// OutboxProcessor polls the outbox and publishes claimed entries on the
// in-process bus. Entries that fail are retried with backoff until their
// budget is spent and they become dead letters.
type OutboxProcessor struct {
	repo       shared.OutboxRepository
	publisher  shared.EventPublisher
	serializer *EventSerializer
	config     OutboxProcessorConfig
	logger     *zap.Logger

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

func NewOutboxProcessor(
	repo shared.OutboxRepository,
	publisher shared.EventPublisher,
	serializer *EventSerializer,
	config OutboxProcessorConfig,
	logger *zap.Logger,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOutboxProcessorConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxProcessor{
		repo:       repo,
		publisher:  publisher,
		serializer: serializer,
		config:     config,
		logger:     logger.Named("outbox"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.every(ctx, p.config.PollInterval, func(ctx context.Context) { p.ProcessBatch(ctx) })
	if p.config.CleanupEnabled {
		p.every(ctx, p.config.CleanupInterval, p.cleanup)
	}

	p.logger.Info("outbox processor started",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Bool("cleanup", p.config.CleanupEnabled),
	)
	return nil
}

// Stop waits for the in-flight batch to finish, or for ctx to end.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	finished := make(chan struct{})
	go func() {
		p.loops.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		p.logger.Info("outbox processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OutboxProcessor) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	p.loops.Go(func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				fn(ctx)
			}
		}
	})
}

// ProcessBatch runs one pass over new entries, then one over failed entries
// that are due.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (result BatchResult) {
	ctx, span := telemetry.StartSpan(ctx, "outbox.process_batch")
	defer func() {
		telemetry.SetAttributes(span,
			"claimed", result.Claimed,
			"sent", result.Sent,
			"failed", result.Failed,
			"dead", result.Dead,
		)
		span.End()
	}()

	sources := []struct {
		name  string
		fetch func() ([]*shared.OutboxEntry, error)
	}{
		{"pending", func() ([]*shared.OutboxEntry, error) { return p.repo.FindPending(ctx, p.config.BatchSize) }},
		{"retryable", func() ([]*shared.OutboxEntry, error) {
			return p.repo.FindRetryable(ctx, time.Now(), p.config.BatchSize)
		}},
	}
	for _, src := range sources {
		entries, err := src.fetch()
		if err != nil {
			telemetry.RecordError(span, err)
			p.logger.Error("outbox fetch failed", zap.String("source", src.name), zap.Error(err))
			return result
		}
		p.deliver(ctx, entries, &result)
	}
	return result
}

func (p *OutboxProcessor) deliver(ctx context.Context, entries []*shared.OutboxEntry, result *BatchResult) {
	if len(entries) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}

	// another replica may win some of these
	claimed, err := p.repo.MarkProcessing(ctx, ids)
	if err != nil {
		p.logger.Error("outbox claim failed", zap.Int("entries", len(ids)), zap.Error(err))
		return
	}
	result.Claimed += len(claimed)

	for _, entry := range claimed {
		if err := p.publish(ctx, entry); err != nil {
			p.recordFailure(ctx, entry, err, result)
			continue
		}
		entry.MarkSent()
		if err := p.repo.Update(ctx, entry); err != nil {
			p.entryLogger(entry).Error("outbox entry delivered but not marked sent", zap.Error(err))
			continue
		}
		result.Sent++
	}
}

func (p *OutboxProcessor) publish(ctx context.Context, entry *shared.OutboxEntry) error {
	ev, err := p.serializer.Deserialize(entry.EventType, entry.Payload)
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, ev)
}

func (p *OutboxProcessor) entryLogger(entry *shared.OutboxEntry) *zap.Logger {
	return p.logger.With(
		zap.Stringer("event_id", entry.EventID),
		zap.String("event_type", entry.EventType),
		zap.Stringer("organization_id", entry.OrganizationID),
	)
}

func (p *OutboxProcessor) recordFailure(ctx context.Context, entry *shared.OutboxEntry, cause error, result *BatchResult) {
	entry.MarkFailed(cause.Error())
	log := p.entryLogger(entry).With(
		zap.String("aggregate_type", entry.AggregateType),
		zap.Stringer("aggregate_id", entry.AggregateID),
		zap.Int("retry_count", entry.RetryCount),
		zap.Error(cause),
	)

	if entry.IsDead() {
		result.Dead++
		log.Warn("outbox entry dead-lettered")
	} else {
		result.Failed++
		log.Warn("outbox delivery failed", zap.Timep("next_retry_at", entry.NextRetryAt))
	}
	if err := p.repo.Update(ctx, entry); err != nil {
		log.Error("outbox failure not persisted", zap.NamedError("update_error", err))
	}
}

func (p *OutboxProcessor) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupRetention)
	n, err := p.repo.DeleteOlderThan(ctx, cutoff)
	switch {
	case err != nil:
		p.logger.Error("outbox cleanup failed", zap.Error(err))
	case n > 0:
		p.logger.Info("outbox cleanup", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
}
