package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/csr/ledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupLedgerDB opens an in-memory sqlite database with the ledger schema
func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.LedgerModels()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// recordingSaver captures events handed to the outbox
type recordingSaver struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	err    error
}

func (s *recordingSaver) SaveEvents(_ context.Context, txProvider interface{}, events ...shared.DomainEvent) error {
	if _, ok := txProvider.(*gorm.DB); !ok {
		return errors.New("expected *gorm.DB transaction")
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSaver) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType()
	}
	return out
}

func newPayment(t *testing.T, orgID uuid.UUID, number string, amount int64) *ledger.Payment {
	t.Helper()
	p, err := ledger.NewPayment(ledger.NewPaymentParams{
		OrganizationID: orgID,
		PaymentNumber:  number,
		Amount:         decimal.NewFromInt(amount),
		Currency:       valueobject.INR,
		PaymentType:    ledger.PaymentTypePerCampaign,
		BudgetCategory: "education",
		CampaignName:   "School Kits",
		CreatedBy:      uuid.New(),
	})
	require.NoError(t, err)
	return p
}

// saveApprovedPayment persists a payment and approves it
func saveApprovedPayment(t *testing.T, repo *GormPaymentRepository, orgID uuid.UUID, number string, amount int64) *ledger.Payment {
	t.Helper()
	ctx := context.Background()
	p := newPayment(t, orgID, number, amount)
	require.NoError(t, repo.Save(ctx, p))
	require.NoError(t, p.Approve(uuid.New(), "ok"))
	require.NoError(t, repo.SaveWithLock(ctx, p))
	return p
}

func newInvoiceFor(t *testing.T, p *ledger.Payment, number string) *ledger.Invoice {
	t.Helper()
	inv, err := ledger.NewInvoice(ledger.NewInvoiceParams{
		InvoiceNumber: number,
		Payment:       p,
		Organization:  ledger.OrganizationSnapshot{OrganizationID: p.OrganizationID, Name: "Acme Foundation", CapturedAt: time.Now()},
		LineItems:     ledger.DefaultLineItems(p),
		GeneratedBy:   uuid.New(),
	})
	require.NoError(t, err)
	return inv
}

// issueInvoice creates an invoice linked to p and returns it. mutate, when
// set, adjusts the invoice before it is inserted.
func issueInvoice(t *testing.T, repo *GormInvoiceRepository, p *ledger.Payment, number string, mutate ...func(*ledger.Invoice)) *ledger.Invoice {
	t.Helper()
	inv := newInvoiceFor(t, p, number)
	for _, fn := range mutate {
		fn(inv)
	}
	p.LinkInvoice(inv.ID, inv.InvoiceNumber, uuid.New())
	require.NoError(t, repo.CreateWithPaymentLink(context.Background(), inv, p))
	return inv
}
