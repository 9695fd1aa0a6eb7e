package event

import (
	"context"
	"sync"
	"testing"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newInvoicePaidEvent(organizationID uuid.UUID) *ledger.InvoicePaidEvent {
	invoiceID := uuid.New()
	return &ledger.InvoicePaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(ledger.EventTypeInvoicePaid, ledger.AggregateTypeInvoice, invoiceID, organizationID, uuid.New()),
		InvoiceID:       invoiceID,
		InvoiceNumber:   "INV-202601-0001",
		PaymentID:       uuid.New(),
		TotalAmount:     decimal.NewFromInt(100000),
	}
}

func newInvoiceSentEvent(organizationID uuid.UUID) *ledger.InvoiceSentEvent {
	invoiceID := uuid.New()
	return &ledger.InvoiceSentEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(ledger.EventTypeInvoiceSent, ledger.AggregateTypeInvoice, invoiceID, organizationID, uuid.New()),
		InvoiceID:       invoiceID,
		InvoiceNumber:   "INV-202601-0002",
		Method:          ledger.DeliveryMethodEmail,
		Attempt:         1,
	}
}

// recordingHandler implements shared.EventHandler for tests
type recordingHandler struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	panicWith  interface{}
}

func newRecordingHandler(eventTypes ...string) *recordingHandler {
	return &recordingHandler{eventTypes: eventTypes}
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicWith != nil {
		panic(h.panicWith)
	}
	h.handled = append(h.handled, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *recordingHandler) setError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&OutboxModel{}))
	return db
}
