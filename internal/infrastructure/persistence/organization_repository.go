package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormOrganizationRepository implements ledger.OrganizationRepository using GORM
type GormOrganizationRepository struct {
	db *gorm.DB
}

// NewGormOrganizationRepository creates a new GormOrganizationRepository
func NewGormOrganizationRepository(db *gorm.DB) *GormOrganizationRepository {
	return &GormOrganizationRepository{db: db}
}

// FindByID finds an organization by its ID
func (r *GormOrganizationRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Organization, error) {
	var model models.OrganizationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewNotFoundError("organization", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists organizations with search and pagination
func (r *GormOrganizationRepository) FindAll(ctx context.Context, filter shared.Filter) ([]ledger.Organization, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.OrganizationModel{}), filter)
	query = applySort(query, filter.OrderBy, filter.OrderDir, OrganizationSortFields)
	if filter.PageSize > 0 {
		query = query.Offset(filter.Offset()).Limit(filter.PageSize)
	}

	var orgModels []models.OrganizationModel
	if err := query.Find(&orgModels).Error; err != nil {
		return nil, err
	}
	orgs := make([]ledger.Organization, len(orgModels))
	for i := range orgModels {
		orgs[i] = *orgModels[i].ToDomain()
	}
	return orgs, nil
}

// Count counts organizations matching the filter
func (r *GormOrganizationRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.OrganizationModel{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindAllActiveIDs returns the ids of every active organization.
// Used by the reconciliation scheduler and the metrics collector.
func (r *GormOrganizationRepository) FindAllActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.OrganizationModel{}).
		Where("active = ?", true).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Save creates a new organization
func (r *GormOrganizationRepository) Save(ctx context.Context, org *ledger.Organization) error {
	return r.db.WithContext(ctx).Create(models.OrganizationModelFromDomain(org)).Error
}

// SaveWithLock updates an organization guarded by its version
func (r *GormOrganizationRepository) SaveWithLock(ctx context.Context, org *ledger.Organization) error {
	org.UpdatedAt = time.Now()
	m := models.OrganizationModelFromDomain(org)

	result := r.db.WithContext(ctx).Model(&models.OrganizationModel{}).
		Where("id = ? AND version = ?", org.ID, org.Version-1).
		Updates(map[string]interface{}{
			"name":       m.Name,
			"legal_name": m.LegalName,
			"address":    m.Address,
			"contact":    m.Contact,
			"tax_ids":    m.TaxIDs,
			"active":     m.Active,
			"version":    m.Version,
			"updated_at": m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, org.ID); err != nil {
			return err
		}
		return shared.ErrOptimisticLock
	}
	return nil
}

func (r *GormOrganizationRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("name LIKE ? OR legal_name LIKE ?", pattern, pattern)
	}
	return query
}

// Ensure GormOrganizationRepository implements OrganizationRepository
var _ ledger.OrganizationRepository = (*GormOrganizationRepository)(nil)
