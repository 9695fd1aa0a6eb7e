package ledger

import (
	"context"
	"fmt"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"go.uber.org/zap"
)

// InvoicePaidHandler completes the payment linked to a paid invoice.
// RecordPayment already attempts this synchronously; the handler re-drives it
// from the outbox when that attempt failed.
type InvoicePaidHandler struct {
	payments *PaymentService
	logger   *zap.Logger
}

// NewInvoicePaidHandler creates a new handler for InvoicePaid events
func NewInvoicePaidHandler(payments *PaymentService, logger *zap.Logger) *InvoicePaidHandler {
	return &InvoicePaidHandler{payments: payments, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *InvoicePaidHandler) EventTypes() []string {
	return []string{ledger.EventTypeInvoicePaid}
}

// Handle settles the linked payment; completing an already completed payment is a no-op
func (h *InvoicePaidHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	paid, ok := event.(*ledger.InvoicePaidEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", ledger.EventTypeInvoicePaid),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s", ledger.EventTypeInvoicePaid, event.EventType())
	}

	changed, err := h.payments.CompleteForInvoice(ctx, paid.OrganizationID(), paid.PaymentID, paid.InvoiceID, ledger.SystemActor)
	if err != nil {
		h.logger.Error("failed to complete payment for paid invoice",
			zap.String("invoice_id", paid.InvoiceID.String()),
			zap.String("payment_id", paid.PaymentID.String()),
			zap.Error(err),
		)
		return err
	}
	if changed {
		h.logger.Info("payment completed from outbox",
			zap.String("invoice_number", paid.InvoiceNumber),
			zap.String("payment_id", paid.PaymentID.String()),
		)
	}
	return nil
}

// InvoiceDeliveryHandler performs the delivery requested by an InvoiceSent event
// and records the outcome on the invoice.
type InvoiceDeliveryHandler struct {
	invoiceRepo ledger.InvoiceRepository
	invoices    *InvoiceService
	deliverers  map[ledger.DeliveryMethod]ledger.Deliverer
	logger      *zap.Logger
}

// NewInvoiceDeliveryHandler creates a new handler for InvoiceSent events
func NewInvoiceDeliveryHandler(
	invoiceRepo ledger.InvoiceRepository,
	invoices *InvoiceService,
	logger *zap.Logger,
	deliverers ...ledger.Deliverer,
) *InvoiceDeliveryHandler {
	byMethod := make(map[ledger.DeliveryMethod]ledger.Deliverer, len(deliverers))
	for _, d := range deliverers {
		byMethod[d.Method()] = d
	}
	return &InvoiceDeliveryHandler{
		invoiceRepo: invoiceRepo,
		invoices:    invoices,
		deliverers:  byMethod,
		logger:      logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *InvoiceDeliveryHandler) EventTypes() []string {
	return []string{ledger.EventTypeInvoiceSent}
}

// Handle delivers the invoice. Events for superseded attempts are skipped.
func (h *InvoiceDeliveryHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	sent, ok := event.(*ledger.InvoiceSentEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", ledger.EventTypeInvoiceSent),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s", ledger.EventTypeInvoiceSent, event.EventType())
	}

	orgID := sent.OrganizationID()
	invoice, err := h.invoiceRepo.FindByIDForOrganization(ctx, orgID, sent.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to load invoice for delivery: %w", err)
	}
	if invoice.DeliveryAttempts != sent.Attempt || invoice.DeliveryStatus != ledger.DeliveryStatusPending {
		h.logger.Debug("skipping superseded delivery attempt",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int("event_attempt", sent.Attempt),
			zap.Int("current_attempt", invoice.DeliveryAttempts),
		)
		return nil
	}

	result := DeliveryResultRequest{Status: string(ledger.DeliveryStatusDelivered)}
	deliverer, ok := h.deliverers[sent.Method]
	if !ok {
		result.Status = string(ledger.DeliveryStatusFailed)
		result.Detail = "no deliverer configured for " + string(sent.Method)
	} else if receipt, err := deliverer.Deliver(ctx, invoice, sent.Message); err != nil {
		result.Status = string(ledger.DeliveryStatusFailed)
		result.Detail = err.Error()
	} else {
		result.Location = receipt.Location
		result.Detail = receipt.Detail
	}

	if _, err := h.invoices.RecordDeliveryResult(ctx, orgID, invoice.ID, ledger.SystemActor, result); err != nil {
		return fmt.Errorf("failed to record delivery result: %w", err)
	}
	h.logger.Info("invoice delivery processed",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("method", string(sent.Method)),
		zap.String("status", result.Status),
	)
	return nil
}

// AnalyticsInvalidationHandler drops cached analytics when invoices change
type AnalyticsInvalidationHandler struct {
	analytics *AnalyticsService
	logger    *zap.Logger
}

// NewAnalyticsInvalidationHandler creates a new cache invalidation handler
func NewAnalyticsInvalidationHandler(analytics *AnalyticsService, logger *zap.Logger) *AnalyticsInvalidationHandler {
	return &AnalyticsInvalidationHandler{analytics: analytics, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *AnalyticsInvalidationHandler) EventTypes() []string {
	return []string{
		ledger.EventTypeInvoiceGenerated,
		ledger.EventTypeInvoicePaymentRecorded,
		ledger.EventTypeInvoiceStatusChanged,
		ledger.EventTypeInvoicePaid,
	}
}

// Handle invalidates the organization's cached analytics
func (h *AnalyticsInvalidationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if err := h.analytics.Invalidate(ctx, event.OrganizationID()); err != nil {
		h.logger.Warn("failed to invalidate analytics cache",
			zap.String("organization_id", event.OrganizationID().String()),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
		return err
	}
	return nil
}
