package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 10 * time.Minute
)

// OutboxEntry is a serialized domain event written in the same transaction
// as the ledger change that raised it. Delivery happens later, so a crash
// between commit and handler leaves the entry to be re-driven.
//
//	PENDING -> PROCESSING -> SENT
//	              |  ^
//	              v  |
//	            FAILED -> DEAD -> PENDING (operator retry)
type OutboxEntry struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	EventID        uuid.UUID
	EventType      string
	AggregateID    uuid.UUID
	AggregateType  string
	Payload        []byte
	Status         OutboxStatus
	RetryCount     int
	MaxRetries     int
	LastError      string
	NextRetryAt    *time.Time
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewOutboxEntry(event DomainEvent, payload []byte) *OutboxEntry {
	now := time.Now()
	return &OutboxEntry{
		ID:             uuid.New(),
		OrganizationID: event.OrganizationID(),
		EventID:        event.EventID(),
		EventType:      event.EventType(),
		AggregateID:    event.AggregateID(),
		AggregateType:  event.AggregateType(),
		Payload:        payload,
		Status:         OutboxStatusPending,
		MaxRetries:     DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (e *OutboxEntry) move(from []OutboxStatus, to OutboxStatus) error {
	for _, s := range from {
		if e.Status == s {
			e.Status = to
			e.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("outbox entry %s: cannot move from %s to %s", e.ID, e.Status, to)
}

// MarkProcessing claims a pending or failed entry.
func (e *OutboxEntry) MarkProcessing() error {
	return e.move([]OutboxStatus{OutboxStatusPending, OutboxStatusFailed}, OutboxStatusProcessing)
}

func (e *OutboxEntry) MarkSent() {
	now := time.Now()
	e.Status, e.ProcessedAt, e.UpdatedAt = OutboxStatusSent, &now, now
}

// MarkFailed counts an attempt. The entry is parked as DEAD once the count
// reaches MaxRetries; otherwise NextRetryAt is pushed out by Backoff.
func (e *OutboxEntry) MarkFailed(reason string) {
	e.RetryCount++
	e.LastError = reason
	e.UpdatedAt = time.Now()
	e.NextRetryAt = nil

	if e.RetryCount >= e.MaxRetries {
		e.Status = OutboxStatusDead
		return
	}
	e.Status = OutboxStatusFailed
	at := e.UpdatedAt.Add(e.Backoff())
	e.NextRetryAt = &at
}

// Backoff doubles from DefaultBaseBackoff per recorded failure, capped at
// DefaultMaxBackoff.
func (e *OutboxEntry) Backoff() time.Duration {
	d := DefaultBaseBackoff
	for i := 1; i < e.RetryCount; i++ {
		d *= 2
		if d >= DefaultMaxBackoff {
			return DefaultMaxBackoff
		}
	}
	return d
}

func (e *OutboxEntry) CanRetry() bool {
	return e.Status == OutboxStatusFailed && e.RetryCount < e.MaxRetries
}

func (e *OutboxEntry) IsDead() bool { return e.Status == OutboxStatusDead }

// ResetForRetry requeues a dead letter with a fresh attempt budget.
func (e *OutboxEntry) ResetForRetry() error {
	if err := e.move([]OutboxStatus{OutboxStatusDead}, OutboxStatusPending); err != nil {
		return err
	}
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	return nil
}

// OutboxRepository persists outbox entries.
type OutboxRepository interface {
	Save(ctx context.Context, entries ...*OutboxEntry) error
	FindPending(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// FindRetryable returns FAILED entries due before the given time.
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*OutboxEntry, error)
	FindDead(ctx context.Context, page, pageSize int) ([]*OutboxEntry, int64, error)
	FindByID(ctx context.Context, id uuid.UUID) (*OutboxEntry, error)
	// MarkProcessing claims entries atomically and returns only those this caller won.
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*OutboxEntry, error)
	Update(ctx context.Context, entry *OutboxEntry) error
	// DeleteOlderThan removes SENT entries processed before the given time.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}
