package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxNumberRetries bounds regeneration of an invoice number that lost a race
const maxNumberRetries = 3

// InvoiceService issues invoices for approved payments and tracks them until settlement
type InvoiceService struct {
	invoiceRepo ledger.InvoiceRepository
	paymentRepo ledger.PaymentRepository
	orgLookup   ledger.OrganizationLookup
	payments    *PaymentService
	metrics     *telemetry.LedgerMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo ledger.InvoiceRepository,
	paymentRepo ledger.PaymentRepository,
	orgLookup ledger.OrganizationLookup,
	payments *PaymentService,
	logger *zap.Logger,
) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
		orgLookup:   orgLookup,
		payments:    payments,
		logger:      logger,
		now:         time.Now,
	}
}

// SetLedgerMetrics sets the metrics recorder
func (s *InvoiceService) SetLedgerMetrics(m *telemetry.LedgerMetrics) {
	s.metrics = m
}

// SetClock overrides the time source used for overdue evaluation
func (s *InvoiceService) SetClock(now func() time.Time) {
	s.now = now
}

// Generate issues a draft invoice for an approved payment and links it back to the payment.
// Both writes happen in one transaction.
func (s *InvoiceService) Generate(ctx context.Context, organizationID, userID uuid.UUID, req GenerateInvoiceRequest) (_ *InvoiceResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "generate",
		telemetry.WithAttribute(telemetry.SpanAttrPaymentID, req.PaymentID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrLineItems, len(req.LineItems)),
	)
	defer telemetry.EndSpan(span, &err)

	var lastErr error
	for attempt := 0; attempt < maxNumberRetries; attempt++ {
		invoice, err := s.generateOnce(ctx, organizationID, userID, req)
		if err == nil {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrInvoiceID, invoice.ID.String(),
				telemetry.SpanAttrInvoiceNumber, invoice.InvoiceNumber,
				telemetry.SpanAttrAttempt, attempt+1,
			)
			s.metrics.RecordInvoiceGenerated(ctx, organizationID, string(invoice.Currency), invoice.TotalAmount)
			s.logger.Info("invoice generated",
				zap.String("organization_id", organizationID.String()),
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.String("payment_id", req.PaymentID.String()),
				zap.String("total_amount", invoice.TotalAmount.String()),
			)
			resp := ToInvoiceResponse(invoice, s.now())
			return &resp, nil
		}
		if !errors.Is(err, shared.ErrNumberConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("invoice number conflict, regenerating",
			zap.String("payment_id", req.PaymentID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

func (s *InvoiceService) generateOnce(ctx context.Context, organizationID, userID uuid.UUID, req GenerateInvoiceRequest) (*ledger.Invoice, error) {
	payment, err := s.paymentRepo.FindByIDForOrganization(ctx, organizationID, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := payment.CanGenerateInvoice(); err != nil {
		return nil, err
	}

	existing, err := s.invoiceRepo.FindActiveByPaymentID(ctx, organizationID, payment.ID)
	switch {
	case err == nil && existing != nil:
		return nil, shared.NewDomainError(shared.CodeDuplicateInvoice,
			"payment "+payment.PaymentNumber+" already has invoice "+existing.InvoiceNumber)
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	snapshot, err := s.orgLookup.Snapshot(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	items := ledger.DefaultLineItems(payment)
	if len(req.LineItems) > 0 {
		items = toLineItems(req.LineItems)
	}

	number, err := s.invoiceRepo.GenerateInvoiceNumber(ctx, s.now())
	if err != nil {
		return nil, err
	}

	invoice, err := ledger.NewInvoice(ledger.NewInvoiceParams{
		InvoiceNumber:  number,
		Payment:        payment,
		Organization:   *snapshot,
		LineItems:      items,
		DiscountAmount: req.DiscountAmount,
		DueDate:        req.DueDate,
		PaymentTerms:   req.PaymentTerms,
		Notes:          req.Notes,
		GeneratedBy:    userID,
	})
	if err != nil {
		return nil, err
	}

	payment.LinkInvoice(invoice.ID, invoice.InvoiceNumber, userID)
	if err := s.invoiceRepo.CreateWithPaymentLink(ctx, invoice, payment); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Send records a delivery attempt; delivery itself runs from the InvoiceSent event
func (s *InvoiceService) Send(ctx context.Context, organizationID, id, userID uuid.UUID, req SendInvoiceRequest) (*InvoiceResponse, error) {
	method := ledger.DeliveryMethod(req.Method)
	if method == "" {
		method = ledger.DeliveryMethodEmail
	}
	return s.mutate(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		return true, inv.Send(method, req.Message, userID)
	})
}

// MarkViewed records that the recipient opened the invoice
func (s *InvoiceService) MarkViewed(ctx context.Context, organizationID, id, userID uuid.UUID) (*InvoiceResponse, error) {
	return s.mutate(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		return inv.MarkViewed(userID)
	})
}

// RecordPayment records money received against an invoice. When the invoice
// becomes paid the linked payment is completed; if that step fails the
// InvoicePaid outbox event and the reconciliation job complete it later.
func (s *InvoiceService) RecordPayment(ctx context.Context, organizationID, id, userID uuid.UUID, req RecordPaymentRequest) (_ *InvoiceResponse, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "record_payment",
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, id.String()),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, req.Amount.String()),
	)
	defer telemetry.EndSpan(span, &err)

	if !req.Amount.IsPositive() {
		return nil, shared.NewInvalidAmountError("payment amount must be positive")
	}

	input := ledger.PaymentReferenceInput{
		PaymentID:            req.PaymentID,
		PaymentMethod:        req.PaymentMethod,
		Amount:               req.Amount,
		GatewayTransactionID: req.GatewayTransactionID,
	}
	if req.PaymentDate != nil {
		input.PaymentDate = *req.PaymentDate
	}

	var invoice *ledger.Invoice
	resp, err := s.mutateInvoice(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		invoice = inv
		_, err := inv.RecordPayment(input, userID)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentReceived(ctx, organizationID, string(invoice.Currency), req.PaymentMethod, req.Amount)

	telemetry.SetAttribute(span, telemetry.SpanAttrInvoiceStatus, string(invoice.Status))

	if invoice.Status == ledger.InvoiceStatusPaid {
		if _, err := s.payments.CompleteForInvoice(ctx, organizationID, invoice.PaymentID, invoice.ID, userID); err != nil {
			s.logger.Warn("deferred payment completion for paid invoice",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("payment_id", invoice.PaymentID.String()),
				zap.Error(err),
			)
		}
	}
	return resp, nil
}

// Cancel voids an unpaid invoice, freeing the payment for a new invoice
func (s *InvoiceService) Cancel(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*InvoiceResponse, error) {
	return s.mutate(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		return true, inv.Cancel(reason, userID)
	})
}

// Dispute flags an issued invoice as contested
func (s *InvoiceService) Dispute(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*InvoiceResponse, error) {
	return s.mutate(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		return true, inv.Dispute(reason, userID)
	})
}

// ResolveDispute returns a disputed invoice to its collectable status
func (s *InvoiceService) ResolveDispute(ctx context.Context, organizationID, id, userID uuid.UUID, note string) (*InvoiceResponse, error) {
	return s.mutate(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		return true, inv.ResolveDispute(note, userID)
	})
}

// RecordDeliveryResult stores the outcome of the latest delivery attempt
func (s *InvoiceService) RecordDeliveryResult(ctx context.Context, organizationID, id, actor uuid.UUID, req DeliveryResultRequest) (*InvoiceResponse, error) {
	return s.mutateInvoice(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		return true, inv.RecordDeliveryResult(ledger.DeliveryStatus(req.Status), req.Location, req.Detail, actor)
	})
}

// RefreshOverdue moves every eligible invoice past its due date to overdue.
// Invoices changed concurrently are skipped and picked up by the next sweep.
func (s *InvoiceService) RefreshOverdue(ctx context.Context, organizationID uuid.UUID, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	now := s.now()
	candidates, err := s.invoiceRepo.FindOverdueCandidates(ctx, organizationID, now, batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range candidates {
		inv := &candidates[i]
		if !inv.MarkOverdue(now, ledger.SystemActor) {
			continue
		}
		if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
			if errors.Is(err, shared.ErrOptimisticLock) {
				s.logger.Debug("skipping invoice changed during overdue sweep", zap.String("invoice_id", inv.ID.String()))
				continue
			}
			return swept, err
		}
		swept++
	}

	s.metrics.RecordOverdueSwept(ctx, organizationID, swept)
	if swept > 0 {
		s.logger.Info("overdue sweep completed",
			zap.String("organization_id", organizationID.String()),
			zap.Int("swept", swept),
		)
	}
	return swept, nil
}

// ReconcileInvoice checks a linked invoice after its payment completed.
// Mismatches are logged and returned; nothing is written.
func (s *InvoiceService) ReconcileInvoice(ctx context.Context, organizationID, invoiceID uuid.UUID) error {
	invoice, err := s.load(ctx, organizationID, invoiceID)
	if err != nil {
		s.logger.Warn("linked invoice check failed",
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
		return err
	}
	if invoice.Status != ledger.InvoiceStatusPaid {
		s.logger.Warn("payment completed before its invoice was settled",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.String("invoice_status", string(invoice.Status)),
			zap.String("outstanding", invoice.OutstandingAmount().String()),
		)
	}
	return nil
}

// EnsurePaymentReleasable fails while the invoice linked to a payment can still
// settle it. A payment may only be refunded, cancelled or failed once its
// invoice is cancelled or gone.
func (s *InvoiceService) EnsurePaymentReleasable(ctx context.Context, organizationID, invoiceID uuid.UUID) error {
	invoice, err := s.load(ctx, organizationID, invoiceID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if invoice.Status == ledger.InvoiceStatusCancelled {
		return nil
	}
	return shared.NewDomainError(shared.CodeInvalidState,
		fmt.Sprintf("payment is linked to invoice %s (status %s); cancel the invoice first", invoice.InvoiceNumber, invoice.Status))
}

// GetByID returns an invoice after verifying its derived amounts
func (s *InvoiceService) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*InvoiceResponse, error) {
	invoice, err := s.load(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(invoice, s.now())
	return &resp, nil
}

// GetByNumber returns an invoice by its INV number
func (s *InvoiceService) GetByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*InvoiceResponse, error) {
	invoice, err := s.invoiceRepo.FindByNumber(ctx, organizationID, number)
	if err != nil {
		return nil, err
	}
	if err := s.verify(invoice); err != nil {
		return nil, err
	}
	resp := ToInvoiceResponse(invoice, s.now())
	return &resp, nil
}

// GetOutstanding returns the open balance and days overdue of an invoice
func (s *InvoiceService) GetOutstanding(ctx context.Context, organizationID, id uuid.UUID) (*OutstandingResponse, error) {
	invoice, err := s.load(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	outstanding := invoice.OutstandingAmount()
	return &OutstandingResponse{
		InvoiceID:         invoice.ID,
		InvoiceNumber:     invoice.InvoiceNumber,
		Currency:          string(invoice.Currency),
		TotalAmount:       invoice.TotalAmount,
		PaidAmount:        invoice.PaidAmount,
		OutstandingAmount: outstanding,
		Overpaid:          outstanding.IsNegative(),
		DaysOverdue:       invoice.DaysOverdue(s.now()),
		Status:            string(invoice.Status),
	}, nil
}

// GetAuditTrail returns the ordered audit trail of an invoice
func (s *InvoiceService) GetAuditTrail(ctx context.Context, organizationID, id uuid.UUID) ([]AuditEntryResponse, error) {
	invoice, err := s.invoiceRepo.FindByIDForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	return toAuditEntries(invoice.AuditTrail), nil
}

// List lists invoices with filtering
func (s *InvoiceService) List(ctx context.Context, organizationID uuid.UUID, filter InvoiceListFilter) ([]InvoiceResponse, int64, error) {
	domainFilter := ledger.InvoiceFilter{
		PaymentID: filter.PaymentID,
		FromDate:  filter.FromDate,
		ToDate:    filter.ToDate,
		Overdue:   filter.Overdue,
	}
	domainFilter.Page = filter.Page
	domainFilter.PageSize = filter.PageSize
	domainFilter.Search = filter.Search
	domainFilter.OrderBy = filter.OrderBy
	domainFilter.OrderDir = filter.OrderDir
	if filter.Overdue {
		now := s.now()
		domainFilter.DueBefore = &now
	}
	if filter.Status != "" {
		status := ledger.InvoiceStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError(shared.CodeInvalidInput, "unknown invoice status: "+filter.Status)
		}
		domainFilter.Status = &status
	}

	invoices, err := s.invoiceRepo.FindAllForOrganization(ctx, organizationID, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.invoiceRepo.CountForOrganization(ctx, organizationID, domainFilter)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	responses := make([]InvoiceResponse, len(invoices))
	for i := range invoices {
		responses[i] = ToInvoiceResponse(&invoices[i], now)
	}
	return responses, total, nil
}

func (s *InvoiceService) load(ctx context.Context, organizationID, id uuid.UUID) (*ledger.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByIDForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	if err := s.verify(invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *InvoiceService) verify(invoice *ledger.Invoice) error {
	if err := invoice.VerifyIntegrity(); err != nil {
		s.logger.Error("invoice failed integrity check",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// mutate applies a status-changing fn and records the resulting status in metrics
func (s *InvoiceService) mutate(ctx context.Context, organizationID, id uuid.UUID, fn func(*ledger.Invoice) (bool, error)) (*InvoiceResponse, error) {
	var status ledger.InvoiceStatus
	resp, err := s.mutateInvoice(ctx, organizationID, id, func(inv *ledger.Invoice) (bool, error) {
		before := inv.Status
		changed, err := fn(inv)
		if err == nil && inv.Status != before {
			status = inv.Status
		}
		return changed, err
	})
	if err == nil && status != "" {
		s.metrics.RecordInvoiceStatus(ctx, organizationID, string(status))
	}
	return resp, err
}

// mutateInvoice loads an invoice, applies fn and saves it under the version lock
// together with its outbox events. Nothing is written when fn fails or reports no change.
func (s *InvoiceService) mutateInvoice(ctx context.Context, organizationID, id uuid.UUID, fn func(*ledger.Invoice) (bool, error)) (*InvoiceResponse, error) {
	invoice, err := s.invoiceRepo.FindByIDForOrganization(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	changed, err := fn(invoice)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
			return nil, err
		}
		s.logger.Info("invoice updated",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.String("status", string(invoice.Status)),
		)
	}

	resp := ToInvoiceResponse(invoice, s.now())
	return &resp, nil
}
