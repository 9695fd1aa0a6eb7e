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
	"gorm.io/gorm"
)

// GormPaymentRepository implements ledger.PaymentRepository using GORM
type GormPaymentRepository struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// SetOutboxEventSaver sets the outbox event saver for transactional event publishing
func (r *GormPaymentRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

// FindByIDForOrganization finds a payment by ID within an organization
func (r *GormPaymentRepository) FindByIDForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*ledger.Payment, error) {
	var model models.PaymentModel
	if err := r.db.WithContext(ctx).
		Scopes(orgscope.Scope(organizationID)).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("payment", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByNumber finds a payment by its payment number
func (r *GormPaymentRepository) FindByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*ledger.Payment, error) {
	var model models.PaymentModel
	if err := r.db.WithContext(ctx).
		Scopes(orgscope.Scope(organizationID)).
		Where("payment_number = ?", number).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("payment", number)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAllForOrganization lists payments with filtering and pagination
func (r *GormPaymentRepository) FindAllForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.PaymentFilter) ([]ledger.Payment, error) {
	query := r.db.WithContext(ctx).Model(&models.PaymentModel{}).
		Scopes(orgscope.Scope(organizationID))
	query = r.applyFilter(query, filter)
	query = applySort(query, filter.OrderBy, filter.OrderDir, PaymentSortFields)
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var paymentModels []models.PaymentModel
	if err := query.Find(&paymentModels).Error; err != nil {
		return nil, err
	}
	payments := make([]ledger.Payment, len(paymentModels))
	for i := range paymentModels {
		payments[i] = *paymentModels[i].ToDomain()
	}
	return payments, nil
}

// CountForOrganization counts payments matching the filter
func (r *GormPaymentRepository) CountForOrganization(ctx context.Context, organizationID uuid.UUID, filter ledger.PaymentFilter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.PaymentModel{}).
		Scopes(orgscope.Scope(organizationID))
	if err := r.applyFilter(query, filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Save creates a new payment together with its pending events
func (r *GormPaymentRepository) Save(ctx context.Context, payment *ledger.Payment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.PaymentModelFromDomain(payment)).Error; err != nil {
			if index, ok := uniqueViolation(err); ok && index == models.IndexPaymentNumber {
				return shared.ErrNumberConflict
			}
			return err
		}
		return r.saveEvents(ctx, tx, payment.GetDomainEvents())
	})
	if err != nil {
		return err
	}
	payment.ClearDomainEvents()
	return nil
}

// SaveWithLock updates a payment guarded by its version. The domain bumps the
// version once per mutation, so the stored row must hold Version-1.
func (r *GormPaymentRepository) SaveWithLock(ctx context.Context, payment *ledger.Payment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updatePaymentWithLock(tx, payment); err != nil {
			return err
		}
		return r.saveEvents(ctx, tx, payment.GetDomainEvents())
	})
	if err != nil {
		return err
	}
	payment.ClearDomainEvents()
	return nil
}

func (r *GormPaymentRepository) saveEvents(ctx context.Context, tx *gorm.DB, events []shared.DomainEvent) error {
	if r.outboxSaver == nil || len(events) == 0 {
		return nil
	}
	if err := r.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
		return fmt.Errorf("failed to save events to outbox: %w", err)
	}
	return nil
}

// updatePaymentWithLock writes every mutable payment column under the version
// guard. Shared with the invoice repository, which links payments in its own
// transaction.
func updatePaymentWithLock(tx *gorm.DB, payment *ledger.Payment) error {
	payment.UpdatedAt = time.Now()
	m := models.PaymentModelFromDomain(payment)

	result := tx.Model(&models.PaymentModel{}).
		Scopes(orgscope.Scope(payment.OrganizationID)).
		Where("id = ? AND version = ?", payment.ID, payment.Version-1).
		Updates(map[string]interface{}{
			"status":            m.Status,
			"approval_status":   m.ApprovalStatus,
			"approved_by":       m.ApprovedBy,
			"approved_at":       m.ApprovedAt,
			"approval_notes":    m.ApprovalNotes,
			"rejection_reason":  m.RejectionReason,
			"escalated_at":      m.EscalatedAt,
			"escalation_note":   m.EscalationNote,
			"failure_reason":    m.FailureReason,
			"processed_at":      m.ProcessedAt,
			"completed_at":      m.CompletedAt,
			"invoice_generated": m.InvoiceGenerated,
			"invoice_id":        m.InvoiceID,
			"invoice_number":    m.InvoiceNumber,
			"invoice_linked_at": m.InvoiceLinkedAt,
			"audit_trail":       m.AuditTrail,
			"version":           m.Version,
			"updated_at":        m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := tx.Model(&models.PaymentModel{}).
			Scopes(orgscope.Scope(payment.OrganizationID)).
			Where("id = ?", payment.ID).
			Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return shared.NewNotFoundError("payment", payment.ID.String())
		}
		return shared.ErrOptimisticLock
	}
	return nil
}

func (r *GormPaymentRepository) applyFilter(query *gorm.DB, filter ledger.PaymentFilter) *gorm.DB {
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("payment_number LIKE ? OR campaign_name LIKE ? OR description LIKE ?",
			pattern, pattern, pattern)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ApprovalStatus != nil {
		query = query.Where("approval_status = ?", *filter.ApprovalStatus)
	}
	if filter.PaymentType != nil {
		query = query.Where("payment_type = ?", *filter.PaymentType)
	}
	if filter.CampaignID != nil {
		query = query.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at < ?", *filter.ToDate)
	}
	return query
}

// Ensure GormPaymentRepository implements PaymentRepository
var _ ledger.PaymentRepository = (*GormPaymentRepository)(nil)
