package ledger

import (
	"errors"
	"testing"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T, amount int64) *Payment {
	t.Helper()
	p, err := NewPayment(NewPaymentParams{
		OrganizationID: uuid.New(),
		PaymentNumber:  "PAY-1001",
		Amount:         decimal.NewFromInt(amount),
		Currency:       valueobject.INR,
		PaymentType:    PaymentTypePerCampaign,
		BudgetCategory: "education",
		CreatedBy:      uuid.New(),
	})
	require.NoError(t, err)
	p.ClearDomainEvents()
	return p
}

func countActions(trail AuditTrail, action AuditAction) int {
	n := 0
	for _, e := range trail {
		if e.Action == action {
			n++
		}
	}
	return n
}

// ============================================
// Status Tests
// ============================================

func TestPaymentStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     PaymentStatus
		isTerminal bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusProcessing, false},
		{PaymentStatusCompleted, true},
		{PaymentStatusFailed, true},
		{PaymentStatusRefunded, true},
		{PaymentStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.IsValid())
			assert.Equal(t, tt.isTerminal, tt.status.IsTerminal())
		})
	}
}

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		to   PaymentStatus
		ok   bool
	}{
		{PaymentStatusPending, PaymentStatusProcessing, true},
		{PaymentStatusPending, PaymentStatusCompleted, true},
		{PaymentStatusProcessing, PaymentStatusCompleted, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusProcessing, PaymentStatusPending, false},
		{PaymentStatusFailed, PaymentStatusCompleted, false},
		{PaymentStatusCompleted, PaymentStatusRefunded, false},
		{PaymentStatusCancelled, PaymentStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestApprovalStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, ApprovalStatusPending.CanTransitionTo(ApprovalStatusEscalated))
	assert.True(t, ApprovalStatusEscalated.CanTransitionTo(ApprovalStatusApproved))
	assert.True(t, ApprovalStatusEscalated.CanTransitionTo(ApprovalStatusRejected))
	assert.False(t, ApprovalStatusEscalated.CanTransitionTo(ApprovalStatusEscalated))
	assert.False(t, ApprovalStatusApproved.CanTransitionTo(ApprovalStatusRejected))
	assert.False(t, ApprovalStatusRejected.CanTransitionTo(ApprovalStatusApproved))
}

// ============================================
// NewPayment Tests
// ============================================

func TestNewPayment(t *testing.T) {
	t.Run("valid payment starts pending", func(t *testing.T) {
		p := newTestPayment(t, 100000)
		assert.Equal(t, PaymentStatusPending, p.Status)
		assert.Equal(t, ApprovalStatusPending, p.ApprovalStatus)
		assert.Len(t, p.AuditTrail, 1)
		assert.False(t, p.FinanceTeam.InvoiceGenerated)
	})

	t.Run("defaults currency", func(t *testing.T) {
		p, err := NewPayment(NewPaymentParams{
			OrganizationID: uuid.New(),
			PaymentNumber:  "PAY-1",
			Amount:         decimal.NewFromInt(10),
			PaymentType:    PaymentTypePool,
		})
		require.NoError(t, err)
		assert.Equal(t, valueobject.INR, p.Currency)
		assert.Len(t, p.GetDomainEvents(), 1)
	})

	t.Run("negative amount", func(t *testing.T) {
		_, err := NewPayment(NewPaymentParams{
			OrganizationID: uuid.New(),
			PaymentNumber:  "PAY-1",
			Amount:         decimal.NewFromInt(-1),
			PaymentType:    PaymentTypePool,
		})
		assert.True(t, errors.Is(err, shared.ErrInvalidAmount))
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewPayment(NewPaymentParams{
			OrganizationID: uuid.New(),
			PaymentNumber:  "PAY-1",
			Amount:         decimal.NewFromInt(1),
			PaymentType:    PaymentType("barter"),
		})
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})
}

// ============================================
// Approval Workflow Tests
// ============================================

func TestPayment_Approve(t *testing.T) {
	t.Run("approve once", func(t *testing.T) {
		p := newTestPayment(t, 1000)
		actor := uuid.New()
		require.NoError(t, p.Approve(actor, "ok"))

		assert.Equal(t, ApprovalStatusApproved, p.ApprovalStatus)
		assert.Equal(t, &actor, p.ApprovedBy)
		assert.NotNil(t, p.ApprovedAt)
		assert.Equal(t, 2, p.Version)
		last, ok := p.AuditTrail.Last()
		require.True(t, ok)
		assert.Equal(t, AuditActionApproved, last.Action)
		assert.Equal(t, "pending_approval", last.OldValue)
		assert.Equal(t, "approved", last.NewValue)
		assert.Len(t, p.GetDomainEvents(), 1)
	})

	t.Run("approve twice is rejected without a second audit entry", func(t *testing.T) {
		p := newTestPayment(t, 1000)
		require.NoError(t, p.Approve(uuid.New(), ""))
		version := p.Version

		err := p.Approve(uuid.New(), "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidState))
		assert.Contains(t, err.Error(), "approved")
		assert.Equal(t, 1, countActions(p.AuditTrail, AuditActionApproved))
		assert.Equal(t, version, p.Version)
	})

	t.Run("escalated can be approved", func(t *testing.T) {
		p := newTestPayment(t, 1000)
		require.NoError(t, p.Escalate(uuid.New(), "over limit"))
		assert.Equal(t, ApprovalStatusEscalated, p.ApprovalStatus)
		require.NoError(t, p.Approve(uuid.New(), "board ok"))
		assert.Equal(t, ApprovalStatusApproved, p.ApprovalStatus)
		assert.Len(t, p.AuditTrail, 3)
	})
}

func TestPayment_Reject(t *testing.T) {
	p := newTestPayment(t, 1000)
	require.NoError(t, p.Reject(uuid.New(), "no budget"))
	assert.Equal(t, ApprovalStatusRejected, p.ApprovalStatus)
	assert.Equal(t, "no budget", p.RejectionReason)

	err := p.Escalate(uuid.New(), "")
	assert.True(t, errors.Is(err, shared.ErrInvalidState))
	assert.Equal(t, "cannot escalate payment: status is rejected (requested escalated)", err.Error())
}

// ============================================
// Settlement Workflow Tests
// ============================================

func TestPayment_SettlementTransitions(t *testing.T) {
	t.Run("pending to processing to completed", func(t *testing.T) {
		p := newTestPayment(t, 1000)
		require.NoError(t, p.MarkProcessing(uuid.New()))
		changed, err := p.MarkCompleted(uuid.New())
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, PaymentStatusCompleted, p.Status)
		assert.NotNil(t, p.ProcessedAt)
		assert.NotNil(t, p.CompletedAt)
		assert.Equal(t, 2, countActions(p.AuditTrail, AuditActionStatusChanged))
	})

	t.Run("mark completed is idempotent", func(t *testing.T) {
		p := newTestPayment(t, 1000)
		_, err := p.MarkCompleted(uuid.New())
		require.NoError(t, err)
		trail := len(p.AuditTrail)
		version := p.Version

		changed, err := p.MarkCompleted(uuid.New())
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Len(t, p.AuditTrail, trail)
		assert.Equal(t, version, p.Version)
	})

	t.Run("cannot complete a failed payment", func(t *testing.T) {
		p := newTestPayment(t, 1000)
		require.NoError(t, p.MarkFailed(uuid.New(), "bank rejected"))
		_, err := p.MarkCompleted(uuid.New())
		assert.True(t, errors.Is(err, shared.ErrInvalidState))
		assert.Equal(t, "cannot mark completed payment: status is failed (requested completed)", err.Error())
		assert.Equal(t, "bank rejected", p.FailureReason)
	})

	t.Run("terminal statuses reject further transitions", func(t *testing.T) {
		for _, apply := range []func(p *Payment) error{
			func(p *Payment) error { return p.Refund(uuid.New(), "returned") },
			func(p *Payment) error { return p.Cancel(uuid.New(), "withdrawn") },
		} {
			p := newTestPayment(t, 1000)
			require.NoError(t, apply(p))
			assert.Error(t, p.MarkProcessing(uuid.New()))
			assert.Error(t, p.MarkFailed(uuid.New(), ""))
		}
	})
}

// ============================================
// Invoice Linkage Tests
// ============================================

func TestPayment_CanGenerateInvoice(t *testing.T) {
	p := newTestPayment(t, 1000)
	assert.True(t, errors.Is(p.CanGenerateInvoice(), shared.ErrInvalidState))

	require.NoError(t, p.Approve(uuid.New(), ""))
	assert.NoError(t, p.CanGenerateInvoice())

	zero := newTestPayment(t, 0)
	require.NoError(t, zero.Approve(uuid.New(), ""))
	assert.True(t, errors.Is(zero.CanGenerateInvoice(), shared.ErrInvalidAmount))
}

func TestPayment_LinkInvoice(t *testing.T) {
	p := newTestPayment(t, 1000)
	invoiceID := uuid.New()
	p.LinkInvoice(invoiceID, "INV-202601-0001", uuid.New())

	assert.True(t, p.FinanceTeam.InvoiceGenerated)
	assert.True(t, p.IsLinkedTo(invoiceID))
	assert.False(t, p.IsLinkedTo(uuid.New()))
	assert.Equal(t, "INV-202601-0001", p.FinanceTeam.InvoiceNumber)
	assert.Equal(t, 1, countActions(p.AuditTrail, AuditActionInvoiceLinked))
}
