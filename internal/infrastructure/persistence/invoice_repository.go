package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/persistence/models"
	"github.com/csr/ledger/internal/infrastructure/persistence/orgscope"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// overdueEligible are the issued, unsettled statuses that can become overdue
var overdueEligible = []ledger.InvoiceStatus{
	ledger.InvoiceStatusSent,
	ledger.InvoiceStatusViewed,
	ledger.InvoiceStatusPartiallyPaid,
}

// settledStatuses never count as overdue, whatever their due date
var settledStatuses = []ledger.InvoiceStatus{
	ledger.InvoiceStatusPaid,
	ledger.InvoiceStatusCancelled,
}

// receivableStatuses are the issued statuses that still carry an outstanding balance
var receivableStatuses = []ledger.InvoiceStatus{
	ledger.InvoiceStatusSent,
	ledger.InvoiceStatusViewed,
	ledger.InvoiceStatusPartiallyPaid,
	ledger.InvoiceStatusOverdue,
	ledger.InvoiceStatusDisputed,
}

// GormInvoiceRepository implements ledger.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// SetOutboxEventSaver sets the outbox event saver for transactional event publishing
func (r *GormInvoiceRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

// FindByIDForOrganization finds an invoice by ID within an organization
func (r *GormInvoiceRepository) FindByIDForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*ledger.Invoice, error) {
	return r.findOne(ctx, organizationID, "invoice", id.String(), "id = ?", id)
}

// FindByNumber finds an invoice by its invoice number
func (r *GormInvoiceRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*ledger.Invoice, error) {
	return r.findOne(ctx, organizationID, "invoice", number, "invoice_number = ?", number)
}

// FindActiveByPaymentID finds the non-cancelled invoice for a payment
func (r *GormInvoiceRepository) FindActiveByPaymentID(ctx context.Context, organizationID, paymentID uuid.UUID) (*ledger.Invoice, error) {
	return r.findOne(ctx, organizationID, "invoice for payment", paymentID.String(),
		"payment_id = ? AND status <> ?", paymentID, ledger.InvoiceStatusCancelled)
}

func (r *GormInvoiceRepository) findOne(ctx context.Context, organizationID uuid.UUID, resource, key string, where string, args ...any) (*ledger.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Scopes(orgscope.Scope(organizationID)).
		Where(where, args...).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError(resource, key)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAllForOrganization lists invoices with filtering and pagination
func (r *GormInvoiceRepository) FindAllForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.InvoiceFilter) ([]ledger.Invoice, error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Scopes(orgscope.Scope(organizationID))
	query = r.applyFilter(query, filter)
	query = applySort(query, filter.OrderBy, filter.OrderDir, InvoiceSortFields)
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}
	return r.findMany(query)
}

// CountForOrganization counts invoices matching the filter
func (r *GormInvoiceRepository) CountForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.InvoiceFilter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Scopes(orgscope.Scope(organizationID))
	if err := r.applyFilter(query, filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindOverdueCandidates returns issued, unsettled invoices whose due date is before now
func (r *GormInvoiceRepository) FindOverdueCandidates(ctx context.Context, organizationID uuid.UUID, now time.Time, limit int) ([]ledger.Invoice, error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Scopes(orgscope.Scope(organizationID)).
		Where("status IN ? AND due_date < ?", overdueEligible, now).
		Order("due_date ASC")
	return r.findMany(withLimit(query, limit))
}

// FindPaidWithUnsettledPayment returns paid invoices whose payment never reached completed
func (r *GormInvoiceRepository) FindPaidWithUnsettledPayment(ctx context.Context, organizationID uuid.UUID, limit int) ([]ledger.Invoice, error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Joins("JOIN payments ON payments.id = invoices.payment_id").
		Scopes(orgscope.Scope(organizationID)).
		Where("invoices.status = ?", ledger.InvoiceStatusPaid).
		Where("payments.status IN ?", []ledger.PaymentStatus{ledger.PaymentStatusPending, ledger.PaymentStatusProcessing}).
		Order("invoices.paid_at ASC")
	return r.findMany(withLimit(query.Select("invoices.*"), limit))
}

// FindUnlinked returns active invoices whose payment does not point back at them
func (r *GormInvoiceRepository) FindUnlinked(ctx context.Context, organizationID uuid.UUID, limit int) ([]ledger.Invoice, error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Joins("JOIN payments ON payments.id = invoices.payment_id").
		Scopes(orgscope.Scope(organizationID)).
		Where("invoices.status <> ?", ledger.InvoiceStatusCancelled).
		Where("payments.invoice_id IS NULL OR payments.invoice_id <> invoices.id").
		Order("invoices.created_at ASC")
	return r.findMany(withLimit(query.Select("invoices.*"), limit))
}

// GenerateInvoiceNumber returns the next INV-YYYYMM-NNNN number for the issue month.
// The sequence is global per month; two concurrent callers may draw the same
// number, in which case the unique index rejects the second insert with
// shared.ErrNumberConflict and the caller draws again.
func (r *GormInvoiceRepository) GenerateInvoiceNumber(ctx context.Context, issueDate time.Time) (string, error) {
	prefix := ledger.InvoiceNumberPrefix(issueDate)

	var last models.InvoiceModel
	err := r.db.WithContext(ctx).
		Unscoped(). // the sequence spans organizations
		Model(&models.InvoiceModel{}).
		Select("invoice_number").
		Where("invoice_number LIKE ?", prefix+"%").
		Order("LENGTH(invoice_number) DESC, invoice_number DESC").
		First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	next := 1
	if err == nil {
		if seq, ok := ledger.InvoiceSequence(last.InvoiceNumber); ok {
			next = seq + 1
		}
	}
	return ledger.FormatInvoiceNumber(issueDate, next), nil
}

// CreateWithPaymentLink inserts the invoice and writes the payment back-reference
// in one transaction, together with the outbox events of both aggregates.
func (r *GormInvoiceRepository) CreateWithPaymentLink(ctx context.Context, invoice *ledger.Invoice, payment *ledger.Payment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.InvoiceModelFromDomain(invoice)).Error; err != nil {
			return translateInvoiceInsertError(err, payment.PaymentNumber)
		}
		if err := updatePaymentWithLock(tx, payment); err != nil {
			return err
		}
		events := make([]shared.DomainEvent, 0, len(invoice.GetDomainEvents())+len(payment.GetDomainEvents()))
		events = append(events, invoice.GetDomainEvents()...)
		events = append(events, payment.GetDomainEvents()...)
		return r.saveEvents(ctx, tx, events)
	})
	if err != nil {
		return err
	}
	invoice.ClearDomainEvents()
	payment.ClearDomainEvents()
	return nil
}

// SaveWithLock updates an invoice guarded by its version. The domain bumps the
// version once per mutation, so the stored row must hold Version-1.
func (r *GormInvoiceRepository) SaveWithLock(ctx context.Context, invoice *ledger.Invoice) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice.UpdatedAt = time.Now()
		m := models.InvoiceModelFromDomain(invoice)

		result := tx.Model(&models.InvoiceModel{}).
			Scopes(orgscope.Scope(invoice.OrganizationID)).
			Where("id = ? AND version = ?", invoice.ID, invoice.Version-1).
			Updates(map[string]interface{}{
				"line_items":          m.LineItems,
				"subtotal":            m.Subtotal,
				"tax_amount":          m.TaxAmount,
				"discount_amount":     m.DiscountAmount,
				"total_amount":        m.TotalAmount,
				"paid_amount":         m.PaidAmount,
				"payment_references":  m.PaymentReferences,
				"status":              m.Status,
				"payment_terms":       m.PaymentTerms,
				"notes":               m.Notes,
				"due_date":            m.DueDate,
				"sent_at":             m.SentAt,
				"viewed_at":           m.ViewedAt,
				"paid_at":             m.PaidAt,
				"cancelled_at":        m.CancelledAt,
				"cancel_reason":       m.CancelReason,
				"disputed_at":         m.DisputedAt,
				"dispute_reason":      m.DisputeReason,
				"delivery_method":     m.DeliveryMethod,
				"delivery_status":     m.DeliveryStatus,
				"delivery_attempts":   m.DeliveryAttempts,
				"delivery_location":   m.DeliveryLocation,
				"last_delivery_error": m.LastDeliveryError,
				"audit_trail":         m.AuditTrail,
				"version":             m.Version,
				"updated_at":          m.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&models.InvoiceModel{}).
				Scopes(orgscope.Scope(invoice.OrganizationID)).
				Where("id = ?", invoice.ID).
				Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return shared.NewNotFoundError("invoice", invoice.ID.String())
			}
			return shared.ErrOptimisticLock
		}
		return r.saveEvents(ctx, tx, invoice.GetDomainEvents())
	})
	if err != nil {
		return err
	}
	invoice.ClearDomainEvents()
	return nil
}

// statusBucketRow is the scan target of the status breakdown query
type statusBucketRow struct {
	Status      string
	Count       int64
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
}

// StatusBreakdown counts invoices and sums amounts per status issued in [from, to)
func (r *GormInvoiceRepository) StatusBreakdown(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]ledger.StatusBucket, error) {
	var rows []statusBucketRow
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS total_amount, COALESCE(SUM(paid_amount), 0) AS paid_amount").
		Scopes(orgscope.Scope(organizationID)).
		Where("issue_date >= ? AND issue_date < ?", from, to).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("status breakdown: %w", err)
	}

	buckets := make([]ledger.StatusBucket, len(rows))
	for i, row := range rows {
		buckets[i] = ledger.StatusBucket{
			Status:      ledger.InvoiceStatus(row.Status),
			Count:       row.Count,
			TotalAmount: row.TotalAmount,
			PaidAmount:  row.PaidAmount,
		}
	}
	return buckets, nil
}

// CountOverdue counts invoices past due at now that are neither paid nor
// cancelled, whether or not the overdue status has been materialized yet
func (r *GormInvoiceRepository) CountOverdue(ctx context.Context, organizationID uuid.UUID, now time.Time) (int64, error) {
	var count int64
	if err := pastDue(r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Scopes(orgscope.Scope(organizationID)), now).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindSettlementSamples returns paid invoices issued in [from, to)
func (r *GormInvoiceRepository) FindSettlementSamples(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]ledger.SettlementSample, error) {
	var rows []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("status", "issue_date", "paid_at").
		Scopes(orgscope.Scope(organizationID)).
		Where("status = ? AND issue_date >= ? AND issue_date < ?",
			ledger.InvoiceStatusPaid, from, to).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	samples := make([]ledger.SettlementSample, len(rows))
	for i, row := range rows {
		samples[i] = ledger.SettlementSample{
			Status:    row.Status,
			IssueDate: row.IssueDate,
			PaidAt:    row.PaidAt,
		}
	}
	return samples, nil
}

// OutstandingAmount sums the unpaid balance of issued invoices
func (r *GormInvoiceRepository) OutstandingAmount(ctx context.Context, organizationID uuid.UUID) (decimal.Decimal, error) {
	row := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("COALESCE(SUM(total_amount - paid_amount), 0)").
		Scopes(orgscope.Scope(organizationID)).
		Where("status IN ?", receivableStatuses).
		Row()
	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("outstanding amount: %w", err)
	}
	return total, nil
}

// OverdueCount is CountOverdue under the name the metrics collector expects
func (r *GormInvoiceRepository) OverdueCount(ctx context.Context, organizationID uuid.UUID, now time.Time) (int64, error) {
	return r.CountOverdue(ctx, organizationID, now)
}

func (r *GormInvoiceRepository) saveEvents(ctx context.Context, tx *gorm.DB, events []shared.DomainEvent) error {
	if r.outboxSaver == nil || len(events) == 0 {
		return nil
	}
	if err := r.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
		return fmt.Errorf("failed to save events to outbox: %w", err)
	}
	return nil
}

func (r *GormInvoiceRepository) findMany(query *gorm.DB) ([]ledger.Invoice, error) {
	var invoiceModels []models.InvoiceModel
	if err := query.Find(&invoiceModels).Error; err != nil {
		return nil, err
	}
	invoices := make([]ledger.Invoice, len(invoiceModels))
	for i := range invoiceModels {
		invoices[i] = *invoiceModels[i].ToDomain()
	}
	return invoices, nil
}

func (r *GormInvoiceRepository) applyFilter(query *gorm.DB, filter ledger.InvoiceFilter) *gorm.DB {
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("invoice_number LIKE ? OR payment_number LIKE ?", pattern, pattern)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PaymentID != nil {
		query = query.Where("payment_id = ?", *filter.PaymentID)
	}
	if filter.FromDate != nil {
		query = query.Where("issue_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("issue_date < ?", *filter.ToDate)
	}
	if filter.DueBefore != nil {
		query = query.Where("due_date < ?", *filter.DueBefore)
	}
	if filter.Overdue {
		cutoff := time.Now()
		if filter.DueBefore != nil {
			cutoff = *filter.DueBefore
		}
		query = pastDue(query, cutoff)
	}
	return query
}

func pastDue(query *gorm.DB, now time.Time) *gorm.DB {
	return query.Where("due_date < ? AND status NOT IN ?", now, settledStatuses)
}

func withLimit(query *gorm.DB, limit int) *gorm.DB {
	if limit > 0 {
		return query.Limit(limit)
	}
	return query
}

// Ensure GormInvoiceRepository implements InvoiceRepository
var _ ledger.InvoiceRepository = (*GormInvoiceRepository)(nil)
