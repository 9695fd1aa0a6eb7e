package ledger

import (
	"context"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrganizationService manages funding organizations and serves their billing snapshots
type OrganizationService struct {
	repo   ledger.OrganizationRepository
	logger *zap.Logger
}

// NewOrganizationService creates a new OrganizationService
func NewOrganizationService(repo ledger.OrganizationRepository, logger *zap.Logger) *OrganizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrganizationService{repo: repo, logger: logger}
}

// Create registers a funding organization
func (s *OrganizationService) Create(ctx context.Context, req OrganizationRequest) (*OrganizationResponse, error) {
	org, err := ledger.NewOrganization(req.Name, req.LegalName, req.Address, req.Contact, req.TaxIDs)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, org); err != nil {
		return nil, err
	}
	s.logger.Info("organization created", zap.String("organization_id", org.ID.String()), zap.String("name", org.Name))
	resp := ToOrganizationResponse(org)
	return &resp, nil
}

// UpdateBilling replaces the billing details used for future invoices
func (s *OrganizationService) UpdateBilling(ctx context.Context, id uuid.UUID, req OrganizationRequest) (*OrganizationResponse, error) {
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	org.UpdateBilling(req.LegalName, req.Address, req.Contact, req.TaxIDs)
	if err := s.repo.SaveWithLock(ctx, org); err != nil {
		return nil, err
	}
	resp := ToOrganizationResponse(org)
	return &resp, nil
}

// GetByID returns an organization
func (s *OrganizationService) GetByID(ctx context.Context, id uuid.UUID) (*OrganizationResponse, error) {
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToOrganizationResponse(org)
	return &resp, nil
}

// List lists organizations
func (s *OrganizationService) List(ctx context.Context, filter shared.Filter) ([]OrganizationResponse, int64, error) {
	orgs, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]OrganizationResponse, len(orgs))
	for i := range orgs {
		out[i] = ToOrganizationResponse(&orgs[i])
	}
	return out, total, nil
}

// Snapshot implements ledger.OrganizationLookup
func (s *OrganizationService) Snapshot(ctx context.Context, organizationID uuid.UUID) (*ledger.OrganizationSnapshot, error) {
	org, err := s.repo.FindByID(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	snap := org.Snapshot()
	return &snap, nil
}

// FindAllActiveIDs lists active organizations for background jobs and metrics
func (s *OrganizationService) FindAllActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.FindAllActiveIDs(ctx)
}
