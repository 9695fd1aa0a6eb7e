package ledger

import (
	"context"
	"errors"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/csr/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxLockRetries bounds how often a system-driven mutation reloads after an optimistic lock conflict
const maxLockRetries = 3

// PaymentService runs the approval and settlement workflows of CSR payments
type PaymentService struct {
	paymentRepo ledger.PaymentRepository
	orgRepo     ledger.OrganizationRepository
	numbers     ledger.PaymentNumberGenerator
	metrics     *telemetry.LedgerMetrics
	invoices    InvoiceChecker
	logger      *zap.Logger
}

// InvoiceChecker cross-checks the invoice linked to a payment
type InvoiceChecker interface {
	ReconcileInvoice(ctx context.Context, organizationID, invoiceID uuid.UUID) error
	EnsurePaymentReleasable(ctx context.Context, organizationID, invoiceID uuid.UUID) error
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	paymentRepo ledger.PaymentRepository,
	orgRepo ledger.OrganizationRepository,
	numbers ledger.PaymentNumberGenerator,
	logger *zap.Logger,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		paymentRepo: paymentRepo,
		orgRepo:     orgRepo,
		numbers:     numbers,
		logger:      logger,
	}
}

// SetLedgerMetrics sets the metrics recorder
func (s *PaymentService) SetLedgerMetrics(m *telemetry.LedgerMetrics) {
	s.metrics = m
}

// SetInvoiceChecker enables the linked-invoice checks around settlement
func (s *PaymentService) SetInvoiceChecker(c InvoiceChecker) {
	s.invoices = c
}

// Create registers a new payment awaiting approval
func (s *PaymentService) Create(ctx context.Context, organizationID, userID uuid.UUID, req CreatePaymentRequest) (_ *PaymentResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "create",
		telemetry.WithAttribute(telemetry.SpanAttrAmount, req.Amount.String()),
		telemetry.WithAttribute(telemetry.SpanAttrCurrency, req.Currency),
	)
	defer telemetry.EndSpan(span, &err)

	org, err := s.orgRepo.FindByID(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if !org.Active {
		return nil, shared.NewInvalidStateError("organization", "fund payment", "inactive", "active")
	}

	currency, err := valueobject.ParseCurrency(req.Currency)
	if err != nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, err.Error())
	}

	payment, err := ledger.NewPayment(ledger.NewPaymentParams{
		OrganizationID: organizationID,
		PaymentNumber:  s.numbers.NextPaymentNumber(),
		Amount:         req.Amount,
		Currency:       currency,
		PaymentType:    ledger.PaymentType(req.PaymentType),
		PaymentMethod:  req.PaymentMethod,
		BudgetCategory: req.BudgetCategory,
		CampaignID:     req.CampaignID,
		CampaignName:   req.CampaignName,
		Description:    req.Description,
		CreatedBy:      userID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.paymentRepo.Save(ctx, payment); err != nil {
		return nil, err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, payment.ID.String(),
		telemetry.SpanAttrPaymentNumber, payment.PaymentNumber,
	)
	s.metrics.RecordPaymentCreated(ctx, organizationID, req.PaymentType)
	s.logger.Info("payment created",
		zap.String("organization_id", organizationID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("payment_number", payment.PaymentNumber),
		zap.String("amount", payment.Amount.String()),
	)

	resp := ToPaymentResponse(payment)
	return &resp, nil
}

// GetByID returns a payment
func (s *PaymentService) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.FindByIDForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	resp := ToPaymentResponse(payment)
	return &resp, nil
}

// List lists payments with filtering
func (s *PaymentService) List(ctx context.Context, organizationID uuid.UUID, filter PaymentListFilter) ([]PaymentResponse, int64, error) {
	domainFilter := ledger.PaymentFilter{
		CampaignID: filter.CampaignID,
		FromDate:   filter.FromDate,
		ToDate:     filter.ToDate,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize
	domainFilter.Search = filter.Search
	domainFilter.OrderBy = filter.OrderBy
	domainFilter.OrderDir = filter.OrderDir

	if filter.Status != "" {
		status := ledger.PaymentStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError(shared.CodeInvalidInput, "unknown payment status: "+filter.Status)
		}
		domainFilter.Status = &status
	}
	if filter.ApprovalStatus != "" {
		status := ledger.ApprovalStatus(filter.ApprovalStatus)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError(shared.CodeInvalidInput, "unknown approval status: "+filter.ApprovalStatus)
		}
		domainFilter.ApprovalStatus = &status
	}
	if filter.PaymentType != "" {
		pt := ledger.PaymentType(filter.PaymentType)
		domainFilter.PaymentType = &pt
	}

	payments, err := s.paymentRepo.FindAllForOrganization(ctx, organizationID, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.paymentRepo.CountForOrganization(ctx, organizationID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]PaymentResponse, len(payments))
	for i := range payments {
		responses[i] = ToPaymentResponse(&payments[i])
	}
	return responses, total, nil
}

// GetAuditTrail returns the ordered audit trail of a payment
func (s *PaymentService) GetAuditTrail(ctx context.Context, organizationID, id uuid.UUID) ([]AuditEntryResponse, error) {
	payment, err := s.paymentRepo.FindByIDForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	return toAuditEntries(payment.AuditTrail), nil
}

// Approve approves a pending or escalated payment
func (s *PaymentService) Approve(ctx context.Context, organizationID, id, userID uuid.UUID, notes string) (*PaymentResponse, error) {
	resp, err := s.mutate(ctx, organizationID, id, func(p *ledger.Payment) (bool, error) {
		return true, p.Approve(userID, notes)
	})
	if err == nil {
		s.metrics.RecordApprovalDecision(ctx, organizationID, string(ledger.ApprovalStatusApproved))
	}
	return resp, err
}

// Reject rejects a pending or escalated payment
func (s *PaymentService) Reject(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*PaymentResponse, error) {
	resp, err := s.mutate(ctx, organizationID, id, func(p *ledger.Payment) (bool, error) {
		return true, p.Reject(userID, reason)
	})
	if err == nil {
		s.metrics.RecordApprovalDecision(ctx, organizationID, string(ledger.ApprovalStatusRejected))
	}
	return resp, err
}

// Escalate hands a pending payment to a higher approval authority
func (s *PaymentService) Escalate(ctx context.Context, organizationID, id, userID uuid.UUID, note string) (*PaymentResponse, error) {
	resp, err := s.mutate(ctx, organizationID, id, func(p *ledger.Payment) (bool, error) {
		return true, p.Escalate(userID, note)
	})
	if err == nil {
		s.metrics.RecordApprovalDecision(ctx, organizationID, string(ledger.ApprovalStatusEscalated))
	}
	return resp, err
}

// MarkProcessing moves a pending payment into processing
func (s *PaymentService) MarkProcessing(ctx context.Context, organizationID, id, userID uuid.UUID) (*PaymentResponse, error) {
	return s.settle(ctx, organizationID, id, ledger.PaymentStatusProcessing, func(p *ledger.Payment) (bool, error) {
		return true, p.MarkProcessing(userID)
	})
}

// MarkCompleted settles a payment. Completing an already completed payment succeeds without change.
func (s *PaymentService) MarkCompleted(ctx context.Context, organizationID, id, userID uuid.UUID) (*PaymentResponse, error) {
	resp, err := s.settle(ctx, organizationID, id, ledger.PaymentStatusCompleted, func(p *ledger.Payment) (bool, error) {
		return p.MarkCompleted(userID)
	})
	if err != nil {
		return nil, err
	}
	if s.invoices != nil && resp.FinanceTeam.InvoiceID != nil {
		// the check only logs; completion already stands
		_ = s.invoices.ReconcileInvoice(ctx, organizationID, *resp.FinanceTeam.InvoiceID)
	}
	return resp, nil
}

// MarkFailed records a settlement failure
func (s *PaymentService) MarkFailed(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*PaymentResponse, error) {
	return s.settle(ctx, organizationID, id, ledger.PaymentStatusFailed, func(p *ledger.Payment) (bool, error) {
		if err := s.ensureReleasable(ctx, organizationID, p, ledger.PaymentStatusFailed); err != nil {
			return false, err
		}
		return true, p.MarkFailed(userID, reason)
	})
}

// Refund returns the funds of an unsettled payment
func (s *PaymentService) Refund(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*PaymentResponse, error) {
	return s.settle(ctx, organizationID, id, ledger.PaymentStatusRefunded, func(p *ledger.Payment) (bool, error) {
		if err := s.ensureReleasable(ctx, organizationID, p, ledger.PaymentStatusRefunded); err != nil {
			return false, err
		}
		return true, p.Refund(userID, reason)
	})
}

// Cancel withdraws an unsettled payment
func (s *PaymentService) Cancel(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*PaymentResponse, error) {
	return s.settle(ctx, organizationID, id, ledger.PaymentStatusCancelled, func(p *ledger.Payment) (bool, error) {
		if err := s.ensureReleasable(ctx, organizationID, p, ledger.PaymentStatusCancelled); err != nil {
			return false, err
		}
		return true, p.Cancel(userID, reason)
	})
}

// ensureReleasable blocks moving a payment away from completion while its
// linked invoice can still be paid. Invalid transitions fall through to the
// domain error.
func (s *PaymentService) ensureReleasable(ctx context.Context, organizationID uuid.UUID, p *ledger.Payment, target ledger.PaymentStatus) error {
	if s.invoices == nil || p.FinanceTeam.InvoiceID == nil || !p.Status.CanTransitionTo(target) {
		return nil
	}
	return s.invoices.EnsurePaymentReleasable(ctx, organizationID, *p.FinanceTeam.InvoiceID)
}

// CompleteForInvoice settles the payment linked to a paid invoice. It is safe to
// call repeatedly and retries on optimistic lock conflicts, so the outbox
// handler and the reconciliation job can re-drive it.
func (s *PaymentService) CompleteForInvoice(ctx context.Context, organizationID, paymentID, invoiceID, actor uuid.UUID) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxLockRetries; attempt++ {
		payment, err := s.paymentRepo.FindByIDForOrganization(ctx, organizationID, paymentID)
		if err != nil {
			return false, err
		}
		if payment.FinanceTeam.InvoiceID != nil && !payment.IsLinkedTo(invoiceID) {
			s.logger.Warn("completing payment for an invoice it is not linked to",
				zap.String("payment_id", paymentID.String()),
				zap.String("invoice_id", invoiceID.String()),
				zap.String("linked_invoice_id", payment.FinanceTeam.InvoiceID.String()),
			)
		}

		changed, err := payment.MarkCompleted(actor)
		if err != nil {
			s.metrics.RecordPropagation(ctx, "failed")
			return false, err
		}
		if !changed {
			s.metrics.RecordPropagation(ctx, "already_completed")
			return false, nil
		}

		lastErr = s.paymentRepo.SaveWithLock(ctx, payment)
		if lastErr == nil {
			s.metrics.RecordPropagation(ctx, "completed")
			s.metrics.RecordPaymentStatus(ctx, organizationID, string(ledger.PaymentStatusCompleted))
			s.logger.Info("payment completed for paid invoice",
				zap.String("payment_id", paymentID.String()),
				zap.String("invoice_id", invoiceID.String()),
			)
			return true, nil
		}
		if !errors.Is(lastErr, shared.ErrOptimisticLock) {
			break
		}
	}
	s.metrics.RecordPropagation(ctx, "failed")
	return false, lastErr
}

func (s *PaymentService) settle(ctx context.Context, organizationID, id uuid.UUID, target ledger.PaymentStatus, fn func(*ledger.Payment) (bool, error)) (*PaymentResponse, error) {
	resp, err := s.mutate(ctx, organizationID, id, fn)
	if err == nil {
		s.metrics.RecordPaymentStatus(ctx, organizationID, string(target))
	}
	return resp, err
}

// mutate loads a payment, applies fn and saves it under the version lock.
// Nothing is written when fn fails or reports no change.
func (s *PaymentService) mutate(ctx context.Context, organizationID, id uuid.UUID, fn func(*ledger.Payment) (bool, error)) (_ *PaymentResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "update",
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, id.String()),
	)
	defer telemetry.EndSpan(span, &err)

	payment, err := s.paymentRepo.FindByIDForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	changed, err := fn(payment)
	if err != nil {
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrPaymentStatus, string(payment.Status))
	if changed {
		if err := s.paymentRepo.SaveWithLock(ctx, payment); err != nil {
			return nil, err
		}
		s.logger.Info("payment updated",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
			zap.String("approval_status", string(payment.ApprovalStatus)),
		)
	}

	resp := ToPaymentResponse(payment)
	return &resp, nil
}
