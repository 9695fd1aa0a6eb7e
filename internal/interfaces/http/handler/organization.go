package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/interfaces/http/dto"
	"github.com/csr/ledger/internal/interfaces/http/middleware"
)

// OrganizationService is the organization surface the handler drives
type OrganizationService interface {
	Create(ctx context.Context, req appledger.OrganizationRequest) (*appledger.OrganizationResponse, error)
	UpdateBilling(ctx context.Context, id uuid.UUID, req appledger.OrganizationRequest) (*appledger.OrganizationResponse, error)
	GetByID(ctx context.Context, id uuid.UUID) (*appledger.OrganizationResponse, error)
	List(ctx context.Context, filter shared.Filter) ([]appledger.OrganizationResponse, int64, error)
}

// OrganizationHandler handles organization registration
type OrganizationHandler struct {
	BaseHandler
	service OrganizationService
}

// NewOrganizationHandler creates a new organization handler
func NewOrganizationHandler(service OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{service: service}
}

// Create handles POST /organizations
func (h *OrganizationHandler) Create(c *gin.Context) {
	var req CreateOrganizationRequest
	if !h.bindJSON(c, &req) {
		return
	}
	org, err := h.service.Create(c.Request.Context(), req.toApp())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, org)
}

// Update handles PUT /organizations/:id. Issued invoices keep the details
// they were issued with.
func (h *OrganizationHandler) Update(c *gin.Context) {
	id, ok := middleware.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req CreateOrganizationRequest
	if !h.bindJSON(c, &req) {
		return
	}
	org, err := h.service.UpdateBilling(c.Request.Context(), id, req.toApp())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, org)
}

// Get handles GET /organizations/:id
func (h *OrganizationHandler) Get(c *gin.Context) {
	id, ok := middleware.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	org, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, org)
}

// List handles GET /organizations
func (h *OrganizationHandler) List(c *gin.Context) {
	var req dto.ListRequest
	if !h.bindQuery(c, &req) {
		return
	}
	req.Normalize()
	orgs, total, err := h.service.List(c.Request.Context(), shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Search:   req.Search,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, orgs, total, req.Page, req.PageSize)
}
