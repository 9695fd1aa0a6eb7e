package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPaymentRepository is a mock implementation of ledger.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) FindByIDForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*ledger.Payment, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*ledger.Payment, error) {
	args := m.Called(ctx, organizationID, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindAllForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.PaymentFilter) ([]ledger.Payment, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).([]ledger.Payment), args.Error(1)
}

func (m *MockPaymentRepository) CountForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.PaymentFilter) (int64, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) Save(ctx context.Context, payment *ledger.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) SaveWithLock(ctx context.Context, payment *ledger.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

// MockInvoiceRepository is a mock implementation of ledger.InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByIDForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindActiveByPaymentID(ctx context.Context, organizationID, paymentID uuid.UUID) (*ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindAllForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).([]ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) CountForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.InvoiceFilter) (int64, error) {
	args := m.Called(ctx, organizationID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceRepository) FindOverdueCandidates(ctx context.Context, organizationID uuid.UUID, now time.Time, limit int) ([]ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, now, limit)
	return args.Get(0).([]ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindPaidWithUnsettledPayment(ctx context.Context, organizationID uuid.UUID, limit int) ([]ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, limit)
	return args.Get(0).([]ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) FindUnlinked(ctx context.Context, organizationID uuid.UUID, limit int) ([]ledger.Invoice, error) {
	args := m.Called(ctx, organizationID, limit)
	return args.Get(0).([]ledger.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) GenerateInvoiceNumber(ctx context.Context, issueDate time.Time) (string, error) {
	args := m.Called(ctx, issueDate)
	return args.String(0), args.Error(1)
}

func (m *MockInvoiceRepository) CreateWithPaymentLink(ctx context.Context, invoice *ledger.Invoice, payment *ledger.Payment) error {
	args := m.Called(ctx, invoice, payment)
	return args.Error(0)
}

func (m *MockInvoiceRepository) SaveWithLock(ctx context.Context, invoice *ledger.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) StatusBreakdown(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]ledger.StatusBucket, error) {
	args := m.Called(ctx, organizationID, from, to)
	return args.Get(0).([]ledger.StatusBucket), args.Error(1)
}

func (m *MockInvoiceRepository) CountOverdue(ctx context.Context, organizationID uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, organizationID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceRepository) FindSettlementSamples(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]ledger.SettlementSample, error) {
	args := m.Called(ctx, organizationID, from, to)
	return args.Get(0).([]ledger.SettlementSample), args.Error(1)
}

// MockOrganizationRepository is a mock implementation of ledger.OrganizationRepository
type MockOrganizationRepository struct {
	mock.Mock
}

func (m *MockOrganizationRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) FindAll(ctx context.Context, filter shared.Filter) ([]ledger.Organization, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]ledger.Organization), args.Error(1)
}

func (m *MockOrganizationRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrganizationRepository) FindAllActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockOrganizationRepository) Save(ctx context.Context, org *ledger.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *MockOrganizationRepository) SaveWithLock(ctx context.Context, org *ledger.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

// MockAnalyticsCache is a mock implementation of AnalyticsCache
type MockAnalyticsCache struct {
	mock.Mock
}

func (m *MockAnalyticsCache) Get(ctx context.Context, key string) (*ledger.Analytics, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*ledger.Analytics), args.Bool(1), args.Error(2)
}

func (m *MockAnalyticsCache) Set(ctx context.Context, organizationID uuid.UUID, key string, value *ledger.Analytics, ttl time.Duration) error {
	args := m.Called(ctx, organizationID, key, value, ttl)
	return args.Error(0)
}

func (m *MockAnalyticsCache) InvalidateOrganization(ctx context.Context, organizationID uuid.UUID) error {
	args := m.Called(ctx, organizationID)
	return args.Error(0)
}

type sequenceNumbers struct {
	next int
}

func (s *sequenceNumbers) NextPaymentNumber() string {
	s.next++
	return fmt.Sprintf("PAY-%d", 1000+s.next)
}

// Verify interface compliance
var (
	_ ledger.PaymentRepository      = (*MockPaymentRepository)(nil)
	_ ledger.InvoiceRepository      = (*MockInvoiceRepository)(nil)
	_ ledger.OrganizationRepository = (*MockOrganizationRepository)(nil)
	_ AnalyticsCache                = (*MockAnalyticsCache)(nil)
)

// Test helper functions
func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newTestOrganization(t *testing.T) *ledger.Organization {
	t.Helper()
	org, err := ledger.NewOrganization("Acme Foundation", "Acme Foundation Trust",
		ledger.Address{Line1: "12 MG Road", City: "Bengaluru", Country: "IN"},
		ledger.Contact{Email: "finance@acme.org"},
		ledger.TaxIdentifiers{PAN: "AAATA1234A"},
	)
	require.NoError(t, err)
	return org
}

func newApprovedPayment(t *testing.T, organizationID uuid.UUID, amount int64) *ledger.Payment {
	t.Helper()
	p, err := ledger.NewPayment(ledger.NewPaymentParams{
		OrganizationID: organizationID,
		PaymentNumber:  "PAY-1001",
		Amount:         decimal.NewFromInt(amount),
		Currency:       valueobject.INR,
		PaymentType:    ledger.PaymentTypePerCampaign,
		BudgetCategory: "education",
		CampaignName:   "rural schools",
		CreatedBy:      uuid.New(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Approve(uuid.New(), "ok"))
	p.ClearDomainEvents()
	return p
}

func newIssuedInvoice(t *testing.T, payment *ledger.Payment) *ledger.Invoice {
	t.Helper()
	inv, err := ledger.NewInvoice(ledger.NewInvoiceParams{
		InvoiceNumber: "INV-202601-0001",
		Payment:       payment,
		Organization:  ledger.OrganizationSnapshot{OrganizationID: payment.OrganizationID, Name: "Acme Foundation"},
		LineItems:     ledger.DefaultLineItems(payment),
		GeneratedBy:   uuid.New(),
	})
	require.NoError(t, err)
	payment.LinkInvoice(inv.ID, inv.InvoiceNumber, uuid.New())
	payment.ClearDomainEvents()
	inv.ClearDomainEvents()
	return inv
}
