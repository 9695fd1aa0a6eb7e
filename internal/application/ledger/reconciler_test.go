package ledger

import (
	"context"
	"testing"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSettlementReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newInvoiceServiceFixture()
	orgID := uuid.New()

	// paid invoice whose payment completion was lost
	settled := newApprovedPayment(t, orgID, 1000)
	paidInvoice := newIssuedInvoice(t, settled)
	_, err := paidInvoice.RecordPayment(ledger.PaymentReferenceInput{Amount: paidInvoice.TotalAmount}, uuid.New())
	require.NoError(t, err)

	// active invoice the payment never learned about
	orphaned := newApprovedPayment(t, orgID, 2000)
	unlinked := newIssuedInvoice(t, orphaned)
	orphaned.FinanceTeam = ledger.FinanceTeam{}

	f.invoiceRepo.On("FindPaidWithUnsettledPayment", ctx, orgID, 50).Return([]ledger.Invoice{*paidInvoice}, nil)
	f.invoiceRepo.On("FindUnlinked", ctx, orgID, 50).Return([]ledger.Invoice{*unlinked}, nil)
	f.paymentRepo.On("FindByIDForOrganization", ctx, orgID, settled.ID).Return(settled, nil)
	f.paymentRepo.On("FindByIDForOrganization", ctx, orgID, orphaned.ID).Return(orphaned, nil)
	f.paymentRepo.On("SaveWithLock", ctx, mock.AnythingOfType("*ledger.Payment")).Return(nil)

	reconciler := NewSettlementReconciler(f.invoiceRepo, f.paymentRepo, f.svc.payments, f.svc, 50, newTestLogger())
	report, err := reconciler.Reconcile(ctx, orgID)

	require.NoError(t, err)
	assert.Equal(t, 1, report.PaymentsCompleted)
	assert.Equal(t, 1, report.InvoicesRelinked)
	assert.Zero(t, report.Failures)
	assert.Equal(t, ledger.PaymentStatusCompleted, settled.Status)
	assert.True(t, orphaned.IsLinkedTo(unlinked.ID))
}

func TestSettlementReconciler_NothingToRepair(t *testing.T) {
	ctx := context.Background()
	f := newInvoiceServiceFixture()
	orgID := uuid.New()

	f.invoiceRepo.On("FindPaidWithUnsettledPayment", ctx, orgID, 200).Return([]ledger.Invoice{}, nil)
	f.invoiceRepo.On("FindUnlinked", ctx, orgID, 200).Return([]ledger.Invoice{}, nil)

	reconciler := NewSettlementReconciler(f.invoiceRepo, f.paymentRepo, f.svc.payments, f.svc, 0, nil)
	report, err := reconciler.Reconcile(ctx, orgID)

	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{OrganizationID: orgID}, *report)
	f.paymentRepo.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything)
}
