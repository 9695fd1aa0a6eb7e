package event

import (
	"context"
	"fmt"

	"github.com/csr/ledger/internal/domain/shared"
	"gorm.io/gorm"
)

// OutboxPublisher turns domain events into outbox rows on the caller's transaction.
type OutboxPublisher struct {
	serializer *EventSerializer
	maxRetries int
}

func NewOutboxPublisher(serializer *EventSerializer) *OutboxPublisher {
	return &OutboxPublisher{serializer: serializer, maxRetries: shared.DefaultMaxRetries}
}

// SetMaxRetries sets the delivery budget of entries written from now on.
// Non-positive values are ignored.
func (p *OutboxPublisher) SetMaxRetries(n int) {
	if n > 0 {
		p.maxRetries = n
	}
}

// PublishWithTx writes one entry per event through tx. Nothing is written
// if any event type is unknown to the serializer.
func (p *OutboxPublisher) PublishWithTx(ctx context.Context, tx *gorm.DB, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	entries := make([]*shared.OutboxEntry, len(events))
	for i, ev := range events {
		if !p.serializer.IsRegistered(ev.EventType()) {
			return fmt.Errorf("outbox: unregistered event type %q", ev.EventType())
		}
		payload, err := p.serializer.Serialize(ev)
		if err != nil {
			return err
		}
		entries[i] = shared.NewOutboxEntry(ev, payload)
		entries[i].MaxRetries = p.maxRetries
	}
	return NewGormOutboxRepository(tx).Save(ctx, entries...)
}

// SaveEvents adapts PublishWithTx to shared.OutboxEventSaver; tx must be a *gorm.DB.
func (p *OutboxPublisher) SaveEvents(ctx context.Context, tx any, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	db, ok := tx.(*gorm.DB)
	if !ok {
		return fmt.Errorf("outbox: expected *gorm.DB transaction, got %T", tx)
	}
	return p.PublishWithTx(ctx, db, events...)
}

var _ shared.OutboxEventSaver = (*OutboxPublisher)(nil)
