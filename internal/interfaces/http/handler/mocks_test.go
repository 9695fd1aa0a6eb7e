package handler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/csr/ledger/internal/application/event"
	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/infrastructure/persistence"
	"github.com/csr/ledger/internal/infrastructure/scheduler"
)

type mockPayments struct{ mock.Mock }

func (m *mockPayments) payment(args mock.Arguments) (*appledger.PaymentResponse, error) {
	p, _ := args.Get(0).(*appledger.PaymentResponse)
	return p, args.Error(1)
}

func (m *mockPayments) Create(ctx context.Context, orgID, userID uuid.UUID, req appledger.CreatePaymentRequest) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, userID, req))
}

func (m *mockPayments) GetByID(ctx context.Context, orgID, id uuid.UUID) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id))
}

func (m *mockPayments) List(ctx context.Context, orgID uuid.UUID, filter appledger.PaymentListFilter) ([]appledger.PaymentResponse, int64, error) {
	args := m.Called(ctx, orgID, filter)
	list, _ := args.Get(0).([]appledger.PaymentResponse)
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *mockPayments) GetAuditTrail(ctx context.Context, orgID, id uuid.UUID) ([]appledger.AuditEntryResponse, error) {
	args := m.Called(ctx, orgID, id)
	trail, _ := args.Get(0).([]appledger.AuditEntryResponse)
	return trail, args.Error(1)
}

func (m *mockPayments) Approve(ctx context.Context, orgID, id, userID uuid.UUID, notes string) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID, notes))
}

func (m *mockPayments) Reject(ctx context.Context, orgID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID, reason))
}

func (m *mockPayments) Escalate(ctx context.Context, orgID, id, userID uuid.UUID, note string) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID, note))
}

func (m *mockPayments) MarkProcessing(ctx context.Context, orgID, id, userID uuid.UUID) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID))
}

func (m *mockPayments) MarkCompleted(ctx context.Context, orgID, id, userID uuid.UUID) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID))
}

func (m *mockPayments) MarkFailed(ctx context.Context, orgID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID, reason))
}

func (m *mockPayments) Refund(ctx context.Context, orgID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID, reason))
}

func (m *mockPayments) Cancel(ctx context.Context, orgID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error) {
	return m.payment(m.Called(ctx, orgID, id, userID, reason))
}

type mockInvoices struct{ mock.Mock }

func (m *mockInvoices) invoice(args mock.Arguments) (*appledger.InvoiceResponse, error) {
	inv, _ := args.Get(0).(*appledger.InvoiceResponse)
	return inv, args.Error(1)
}

func (m *mockInvoices) Generate(ctx context.Context, orgID, userID uuid.UUID, req appledger.GenerateInvoiceRequest) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, userID, req))
}

func (m *mockInvoices) Send(ctx context.Context, orgID, id, userID uuid.UUID, req appledger.SendInvoiceRequest) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id, userID, req))
}

func (m *mockInvoices) MarkViewed(ctx context.Context, orgID, id, userID uuid.UUID) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id, userID))
}

func (m *mockInvoices) RecordPayment(ctx context.Context, orgID, id, userID uuid.UUID, req appledger.RecordPaymentRequest) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id, userID, req))
}

func (m *mockInvoices) Cancel(ctx context.Context, orgID, id, userID uuid.UUID, reason string) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id, userID, reason))
}

func (m *mockInvoices) Dispute(ctx context.Context, orgID, id, userID uuid.UUID, reason string) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id, userID, reason))
}

func (m *mockInvoices) ResolveDispute(ctx context.Context, orgID, id, userID uuid.UUID, note string) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id, userID, note))
}

func (m *mockInvoices) GetByID(ctx context.Context, orgID, id uuid.UUID) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, id))
}

func (m *mockInvoices) GetByNumber(ctx context.Context, orgID uuid.UUID, number string) (*appledger.InvoiceResponse, error) {
	return m.invoice(m.Called(ctx, orgID, number))
}

func (m *mockInvoices) GetOutstanding(ctx context.Context, orgID, id uuid.UUID) (*appledger.OutstandingResponse, error) {
	args := m.Called(ctx, orgID, id)
	out, _ := args.Get(0).(*appledger.OutstandingResponse)
	return out, args.Error(1)
}

func (m *mockInvoices) GetAuditTrail(ctx context.Context, orgID, id uuid.UUID) ([]appledger.AuditEntryResponse, error) {
	args := m.Called(ctx, orgID, id)
	trail, _ := args.Get(0).([]appledger.AuditEntryResponse)
	return trail, args.Error(1)
}

func (m *mockInvoices) List(ctx context.Context, orgID uuid.UUID, filter appledger.InvoiceListFilter) ([]appledger.InvoiceResponse, int64, error) {
	args := m.Called(ctx, orgID, filter)
	list, _ := args.Get(0).([]appledger.InvoiceResponse)
	return list, args.Get(1).(int64), args.Error(2)
}

type mockAnalytics struct{ mock.Mock }

func (m *mockAnalytics) Window(from, to *time.Time) (time.Time, time.Time, error) {
	args := m.Called(from, to)
	return args.Get(0).(time.Time), args.Get(1).(time.Time), args.Error(2)
}

func (m *mockAnalytics) StatusBreakdown(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]ledger.StatusBucket, error) {
	args := m.Called(ctx, orgID, from, to)
	b, _ := args.Get(0).([]ledger.StatusBucket)
	return b, args.Error(1)
}

func (m *mockAnalytics) OverdueCount(ctx context.Context, orgID uuid.UUID) (int64, error) {
	args := m.Called(ctx, orgID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAnalytics) AveragePaymentDays(ctx context.Context, orgID uuid.UUID, from, to time.Time) (float64, error) {
	args := m.Called(ctx, orgID, from, to)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockAnalytics) GetAnalytics(ctx context.Context, orgID uuid.UUID, from, to time.Time) (*ledger.Analytics, error) {
	args := m.Called(ctx, orgID, from, to)
	a, _ := args.Get(0).(*ledger.Analytics)
	return a, args.Error(1)
}

type mockOutbox struct{ mock.Mock }

func (m *mockOutbox) DeadLetters(ctx context.Context, page, pageSize int) (*event.DeadLetterPage, error) {
	args := m.Called(ctx, page, pageSize)
	p, _ := args.Get(0).(*event.DeadLetterPage)
	return p, args.Error(1)
}

func (m *mockOutbox) Entry(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*event.OutboxEntryDTO)
	return e, args.Error(1)
}

func (m *mockOutbox) Redrive(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*event.OutboxEntryDTO)
	return e, args.Error(1)
}

func (m *mockOutbox) RedriveAll(ctx context.Context, eventType string) (int64, error) {
	args := m.Called(ctx, eventType)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutbox) Stats(ctx context.Context) (*event.OutboxStatsDTO, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*event.OutboxStatsDTO)
	return s, args.Error(1)
}

type stubDB struct {
	err error
}

func (s stubDB) Ping() error { return s.err }

func (s stubDB) Stats() (persistence.ConnectionStats, error) {
	return persistence.ConnectionStats{MaxOpenConnections: 10, OpenConnections: 2}, nil
}

type mockTrigger struct{ mock.Mock }

func (m *mockTrigger) Status() scheduler.TriggerStatus {
	return scheduler.TriggerStatus{Running: true, Schedule: "0 2 * * *"}
}

func (m *mockTrigger) TriggerManual(ctx context.Context, orgID *uuid.UUID, jobType *scheduler.JobType) error {
	return m.Called(ctx, orgID, jobType).Error(0)
}
