package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// LedgerMetrics records settlement ledger activity: payments, approvals,
// invoices, incoming money and the propagation of paid invoices to payments.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	paymentCreatedTotal   *Counter
	approvalDecisionTotal *Counter
	paymentStatusTotal    *Counter
	invoiceGeneratedTotal *Counter
	invoiceStatusTotal    *Counter
	invoicedMinorTotal    *Counter
	receivedMinorTotal    *Counter
	propagationTotal      *Counter
	overdueSweptTotal     *Counter

	outstandingMinor *Gauge
	overdueInvoices  *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	provider LedgerMetricsProvider
}

// LedgerMetricsProvider supplies point-in-time ledger figures for gauge collection
type LedgerMetricsProvider interface {
	// OutstandingAmount sums the open balance of unsettled invoices
	OutstandingAmount(ctx context.Context, organizationID uuid.UUID) (decimal.Decimal, error)

	// OverdueCount counts unsettled invoices past due
	OverdueCount(ctx context.Context, organizationID uuid.UUID, now time.Time) (int64, error)
}

// OrganizationProvider lists the organizations gauges are collected for
type OrganizationProvider interface {
	FindAllActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LedgerMetricsConfig holds configuration for ledger metrics.
type LedgerMetricsConfig struct {
	Meter    metric.Meter
	Logger   *zap.Logger
	Provider LedgerMetricsProvider
}

// NewLedgerMetrics creates a new LedgerMetrics instance.
func NewLedgerMetrics(cfg LedgerMetricsConfig) (*LedgerMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lm := &LedgerMetrics{
		meter:    cfg.Meter,
		logger:   logger,
		stopChan: make(chan struct{}),
		provider: cfg.Provider,
	}

	counters := []struct {
		dst  **Counter
		name string
		desc string
		unit string
	}{
		{&lm.paymentCreatedTotal, "ledger_payment_created_total", "Total number of CSR payments registered", "{payments}"},
		{&lm.approvalDecisionTotal, "ledger_approval_decision_total", "Approval workflow transitions by outcome", "{decisions}"},
		{&lm.paymentStatusTotal, "ledger_payment_status_total", "Payment settlement transitions by target status", "{transitions}"},
		{&lm.invoiceGeneratedTotal, "ledger_invoice_generated_total", "Total number of invoices generated", "{invoices}"},
		{&lm.invoiceStatusTotal, "ledger_invoice_status_total", "Invoice transitions by target status", "{transitions}"},
		{&lm.invoicedMinorTotal, "ledger_invoiced_amount_total", "Invoiced amount in minor currency units", "{minor}"},
		{&lm.receivedMinorTotal, "ledger_received_amount_total", "Received amount in minor currency units", "{minor}"},
		{&lm.propagationTotal, "ledger_settlement_propagation_total", "Paid invoice to completed payment propagations by outcome", "{propagations}"},
		{&lm.overdueSweptTotal, "ledger_overdue_swept_total", "Invoices moved to overdue by the sweep", "{invoices}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	lm.outstandingMinor, err = NewGauge(cfg.Meter, "ledger_outstanding_amount", "Open invoice balance in minor currency units", "{minor}")
	if err != nil {
		return nil, err
	}
	lm.overdueInvoices, err = NewGauge(cfg.Meter, "ledger_overdue_invoices", "Unsettled invoices past their due date", "{invoices}")
	if err != nil {
		return nil, err
	}

	return lm, nil
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// =============================================================================
// Payment Metrics
// =============================================================================

// RecordPaymentCreated records a new payment and its type.
func (lm *LedgerMetrics) RecordPaymentCreated(ctx context.Context, organizationID uuid.UUID, paymentType string) {
	if lm == nil {
		return
	}
	lm.paymentCreatedTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
		AttrPaymentType.String(paymentType),
	)
}

// RecordApprovalDecision records an approve, reject or escalate transition.
func (lm *LedgerMetrics) RecordApprovalDecision(ctx context.Context, organizationID uuid.UUID, decision string) {
	if lm == nil {
		return
	}
	lm.approvalDecisionTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
		AttrApprovalStatus.String(decision),
	)
}

// RecordPaymentStatus records a settlement transition.
func (lm *LedgerMetrics) RecordPaymentStatus(ctx context.Context, organizationID uuid.UUID, status string) {
	if lm == nil {
		return
	}
	lm.paymentStatusTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
		AttrPaymentStatus.String(status),
	)
}

// =============================================================================
// Invoice Metrics
// =============================================================================

// RecordInvoiceGenerated records a new invoice and its total.
func (lm *LedgerMetrics) RecordInvoiceGenerated(ctx context.Context, organizationID uuid.UUID, currency string, total decimal.Decimal) {
	if lm == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrOrganizationID.String(organizationID.String()),
		AttrCurrency.String(currency),
	}
	lm.invoiceGeneratedTotal.Inc(ctx, attrs...)
	lm.invoicedMinorTotal.Add(ctx, toMinor(total), attrs...)
}

// RecordInvoiceStatus records an invoice transition.
func (lm *LedgerMetrics) RecordInvoiceStatus(ctx context.Context, organizationID uuid.UUID, status string) {
	if lm == nil {
		return
	}
	lm.invoiceStatusTotal.Inc(ctx,
		AttrOrganizationID.String(organizationID.String()),
		AttrInvoiceStatus.String(status),
	)
}

// RecordPaymentReceived records money recorded against an invoice.
func (lm *LedgerMetrics) RecordPaymentReceived(ctx context.Context, organizationID uuid.UUID, currency, method string, amount decimal.Decimal) {
	if lm == nil {
		return
	}
	lm.receivedMinorTotal.Add(ctx, toMinor(amount),
		AttrOrganizationID.String(organizationID.String()),
		AttrCurrency.String(currency),
		AttrPaymentMethod.String(method),
	)
}

// RecordPropagation records the outcome of settling a payment for a paid invoice.
// Outcome is one of completed, already_completed or failed.
func (lm *LedgerMetrics) RecordPropagation(ctx context.Context, outcome string) {
	if lm == nil {
		return
	}
	lm.propagationTotal.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordOverdueSwept records invoices moved to overdue in one sweep.
func (lm *LedgerMetrics) RecordOverdueSwept(ctx context.Context, organizationID uuid.UUID, count int) {
	if lm == nil || count == 0 {
		return
	}
	lm.overdueSweptTotal.Add(ctx, int64(count), AttrOrganizationID.String(organizationID.String()))
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of gauge metrics.
// This is non-blocking - use Stop() to stop collection.
func (lm *LedgerMetrics) StartPeriodicCollection(ctx context.Context, orgs OrganizationProvider, interval time.Duration) {
	if lm == nil {
		return
	}
	lm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go lm.runPeriodicCollection(ctx, orgs, interval)
	})
}

func (lm *LedgerMetrics) runPeriodicCollection(ctx context.Context, orgs OrganizationProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lm.collect(ctx, orgs)

	for {
		select {
		case <-lm.stopChan:
			lm.logger.Info("Stopping periodic ledger metrics collection")
			return
		case <-ctx.Done():
			lm.logger.Info("Context cancelled, stopping periodic ledger metrics collection")
			return
		case <-ticker.C:
			lm.collect(ctx, orgs)
		}
	}
}

func (lm *LedgerMetrics) collect(ctx context.Context, orgs OrganizationProvider) {
	if lm.provider == nil {
		lm.logger.Debug("No ledger metrics provider configured, skipping gauge collection")
		return
	}

	ids, err := orgs.FindAllActiveIDs(ctx)
	if err != nil {
		lm.logger.Error("Failed to list organizations for metrics collection", zap.Error(err))
		return
	}

	now := time.Now()
	for _, id := range ids {
		attr := AttrOrganizationID.String(id.String())
		if outstanding, err := lm.provider.OutstandingAmount(ctx, id); err != nil {
			lm.logger.Warn("Failed to collect outstanding amount",
				zap.String("organization_id", id.String()), zap.Error(err))
		} else {
			lm.outstandingMinor.Record(ctx, toMinor(outstanding), attr)
		}
		if overdue, err := lm.provider.OverdueCount(ctx, id, now); err != nil {
			lm.logger.Warn("Failed to collect overdue count",
				zap.String("organization_id", id.String()), zap.Error(err))
		} else {
			lm.overdueInvoices.Record(ctx, overdue, attr)
		}
	}
}

// Stop stops the periodic collection.
func (lm *LedgerMetrics) Stop() {
	if lm == nil {
		return
	}
	lm.stopOnce.Do(func() {
		close(lm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewLedgerMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
