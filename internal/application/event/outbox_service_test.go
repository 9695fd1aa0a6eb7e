package event

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memOutbox keeps entries in insertion order. Methods the service never
// calls fall through to the nil embedded interface and panic.
type memOutbox struct {
	shared.OutboxRepository
	rows []*shared.OutboxEntry
}

func (m *memOutbox) seed(status shared.OutboxStatus, eventType string) *shared.OutboxEntry {
	now := time.Now()
	e := &shared.OutboxEntry{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		EventID:        uuid.New(),
		EventType:      eventType,
		AggregateID:    uuid.New(),
		AggregateType:  ledger.AggregateTypeInvoice,
		Status:         status,
		MaxRetries:     shared.DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch status {
	case shared.OutboxStatusDead:
		e.RetryCount, e.LastError = shared.DefaultMaxRetries, "payment locked"
	case shared.OutboxStatusSent:
		e.ProcessedAt = &now
	}
	m.rows = append(m.rows, e)
	return e
}

func (m *memOutbox) withStatus(status shared.OutboxStatus) []*shared.OutboxEntry {
	var out []*shared.OutboxEntry
	for _, e := range m.rows {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (m *memOutbox) FindDead(_ context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	dead := m.withStatus(shared.OutboxStatusDead)
	from := min((page-1)*pageSize, len(dead))
	to := min(from+pageSize, len(dead))
	return dead[from:to], int64(len(dead)), nil
}

func (m *memOutbox) FindByID(_ context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	i := slices.IndexFunc(m.rows, func(e *shared.OutboxEntry) bool { return e.ID == id })
	if i < 0 {
		return nil, nil
	}
	return m.rows[i], nil
}

// Update is a no-op: rows are shared pointers.
func (m *memOutbox) Update(context.Context, *shared.OutboxEntry) error { return nil }

func (m *memOutbox) CountByStatus(context.Context) (map[shared.OutboxStatus]int64, error) {
	counts := map[shared.OutboxStatus]int64{}
	for _, e := range m.rows {
		counts[e.Status]++
	}
	return counts, nil
}

func (m *memOutbox) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	n := len(m.rows)
	m.rows = slices.DeleteFunc(m.rows, func(e *shared.OutboxEntry) bool {
		return e.Status == shared.OutboxStatusSent && e.ProcessedAt != nil && e.ProcessedAt.Before(before)
	})
	return int64(n - len(m.rows)), nil
}

func TestOutboxService_DeadLetters(t *testing.T) {
	repo := &memOutbox{}
	service := NewOutboxService(repo, zap.NewNop())
	for range 5 {
		repo.seed(shared.OutboxStatusDead, ledger.EventTypeInvoicePaid)
	}
	repo.seed(shared.OutboxStatusPending, ledger.EventTypeInvoiceSent)

	page, err := service.DeadLetters(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, 3, page.TotalPages)
	for _, entry := range page.Entries {
		assert.Equal(t, "DEAD", entry.Status)
		assert.NotEqual(t, uuid.Nil, entry.OrganizationID)
	}

	page, err = service.DeadLetters(context.Background(), 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxDeadLetterPageSize, page.PageSize)
}

func TestOutboxService_Redrive(t *testing.T) {
	repo := &memOutbox{}
	service := NewOutboxService(repo, zap.NewNop())
	dead := repo.seed(shared.OutboxStatusDead, ledger.EventTypeInvoicePaid)

	result, err := service.Redrive(context.Background(), dead.ID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", result.Status)
	assert.Zero(t, result.RetryCount)
	assert.Empty(t, result.LastError)
}

func TestOutboxService_Redrive_Errors(t *testing.T) {
	repo := &memOutbox{}
	service := NewOutboxService(repo, zap.NewNop())
	pending := repo.seed(shared.OutboxStatusPending, ledger.EventTypeInvoicePaid)

	_, err := service.Redrive(context.Background(), uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = service.Redrive(context.Background(), pending.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestOutboxService_RedriveAll(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		want      int64
	}{
		{name: "all event types", want: 4},
		{name: "only paid invoices", eventType: ledger.EventTypeInvoicePaid, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memOutbox{}
			service := NewOutboxService(repo, zap.NewNop())
			for range 3 {
				repo.seed(shared.OutboxStatusDead, ledger.EventTypeInvoicePaid)
			}
			repo.seed(shared.OutboxStatusDead, ledger.EventTypeInvoiceSent)
			repo.seed(shared.OutboxStatusPending, ledger.EventTypeInvoiceSent)

			count, err := service.RedriveAll(context.Background(), tt.eventType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestOutboxService_Stats(t *testing.T) {
	repo := &memOutbox{}
	service := NewOutboxService(repo, zap.NewNop())
	for _, status := range []shared.OutboxStatus{
		shared.OutboxStatusPending,
		shared.OutboxStatusPending,
		shared.OutboxStatusProcessing,
		shared.OutboxStatusSent,
		shared.OutboxStatusSent,
		shared.OutboxStatusSent,
		shared.OutboxStatusFailed,
		shared.OutboxStatusDead,
	} {
		repo.seed(status, ledger.EventTypeInvoiceGenerated)
	}

	stats, err := service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(3), stats.Sent)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Dead)
	assert.Equal(t, int64(3), stats.Backlog)
	assert.Equal(t, int64(8), stats.Total)
}

func TestOutboxService_Purge(t *testing.T) {
	repo := &memOutbox{}
	service := NewOutboxService(repo, zap.NewNop())
	old := repo.seed(shared.OutboxStatusSent, ledger.EventTypeInvoicePaid)
	stale := time.Now().Add(-48 * time.Hour)
	old.ProcessedAt = &stale
	repo.seed(shared.OutboxStatusSent, ledger.EventTypeInvoicePaid)
	repo.seed(shared.OutboxStatusPending, ledger.EventTypeInvoicePaid)

	deleted, err := service.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, repo.rows, 2)
}
