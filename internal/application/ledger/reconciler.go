package ledger

import (
	"context"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	OrganizationID    uuid.UUID `json:"organization_id"`
	PaymentsCompleted int       `json:"payments_completed"`
	InvoicesRelinked  int       `json:"invoices_relinked"`
	Failures          int       `json:"failures"`
}

// SettlementReconciler repairs cross-entity state that a crash may have left
// half-applied: paid invoices whose payment is not completed, and active
// invoices their payment does not point back at.
type SettlementReconciler struct {
	invoiceRepo ledger.InvoiceRepository
	paymentRepo ledger.PaymentRepository
	payments    *PaymentService
	invoices    *InvoiceService
	batchSize   int
	logger      *zap.Logger
}

// NewSettlementReconciler creates a new SettlementReconciler
func NewSettlementReconciler(
	invoiceRepo ledger.InvoiceRepository,
	paymentRepo ledger.PaymentRepository,
	payments *PaymentService,
	invoices *InvoiceService,
	batchSize int,
	logger *zap.Logger,
) *SettlementReconciler {
	if batchSize <= 0 {
		batchSize = 200
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementReconciler{
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
		payments:    payments,
		invoices:    invoices,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Reconcile runs one repair pass for an organization
func (r *SettlementReconciler) Reconcile(ctx context.Context, organizationID uuid.UUID) (*ReconcileReport, error) {
	report := &ReconcileReport{OrganizationID: organizationID}

	paid, err := r.invoiceRepo.FindPaidWithUnsettledPayment(ctx, organizationID, r.batchSize)
	if err != nil {
		return nil, err
	}
	for i := range paid {
		inv := &paid[i]
		changed, err := r.payments.CompleteForInvoice(ctx, organizationID, inv.PaymentID, inv.ID, ledger.SystemActor)
		if err != nil {
			report.Failures++
			r.logger.Warn("reconcile: payment completion failed",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("payment_id", inv.PaymentID.String()),
				zap.Error(err),
			)
			continue
		}
		if changed {
			report.PaymentsCompleted++
		}
	}

	unlinked, err := r.invoiceRepo.FindUnlinked(ctx, organizationID, r.batchSize)
	if err != nil {
		return report, err
	}
	for i := range unlinked {
		inv := &unlinked[i]
		if err := r.relink(ctx, inv); err != nil {
			report.Failures++
			r.logger.Warn("reconcile: relink failed",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("payment_id", inv.PaymentID.String()),
				zap.Error(err),
			)
			continue
		}
		report.InvoicesRelinked++
	}

	if report.PaymentsCompleted > 0 || report.InvoicesRelinked > 0 || report.Failures > 0 {
		r.logger.Info("reconciliation pass finished",
			zap.String("organization_id", organizationID.String()),
			zap.Int("payments_completed", report.PaymentsCompleted),
			zap.Int("invoices_relinked", report.InvoicesRelinked),
			zap.Int("failures", report.Failures),
		)
	}
	return report, nil
}

func (r *SettlementReconciler) relink(ctx context.Context, inv *ledger.Invoice) error {
	payment, err := r.paymentRepo.FindByIDForOrganization(ctx, inv.OrganizationID, inv.PaymentID)
	if err != nil {
		return err
	}
	if payment.IsLinkedTo(inv.ID) {
		return nil
	}
	payment.LinkInvoice(inv.ID, inv.InvoiceNumber, ledger.SystemActor)
	return r.paymentRepo.SaveWithLock(ctx, payment)
}

// SweepOverdue moves due invoices of an organization to overdue
func (r *SettlementReconciler) SweepOverdue(ctx context.Context, organizationID uuid.UUID) (int, error) {
	return r.invoices.RefreshOverdue(ctx, organizationID, r.batchSize)
}
