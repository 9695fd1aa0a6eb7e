package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appledger "github.com/csr/ledger/internal/application/ledger"
)

// PaymentService is the payment lifecycle surface the handler drives
type PaymentService interface {
	Create(ctx context.Context, organizationID, userID uuid.UUID, req appledger.CreatePaymentRequest) (*appledger.PaymentResponse, error)
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*appledger.PaymentResponse, error)
	List(ctx context.Context, organizationID uuid.UUID, filter appledger.PaymentListFilter) ([]appledger.PaymentResponse, int64, error)
	GetAuditTrail(ctx context.Context, organizationID, id uuid.UUID) ([]appledger.AuditEntryResponse, error)
	Approve(ctx context.Context, organizationID, id, userID uuid.UUID, notes string) (*appledger.PaymentResponse, error)
	Reject(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error)
	Escalate(ctx context.Context, organizationID, id, userID uuid.UUID, note string) (*appledger.PaymentResponse, error)
	MarkProcessing(ctx context.Context, organizationID, id, userID uuid.UUID) (*appledger.PaymentResponse, error)
	MarkCompleted(ctx context.Context, organizationID, id, userID uuid.UUID) (*appledger.PaymentResponse, error)
	MarkFailed(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error)
	Refund(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error)
	Cancel(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error)
}

// PaymentHandler handles the payment lifecycle endpoints
type PaymentHandler struct {
	BaseHandler
	service PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(service PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Create handles POST /payments
func (h *PaymentHandler) Create(c *gin.Context) {
	orgID, userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req CreatePaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	payment, err := h.service.Create(c.Request.Context(), orgID, userID, req.toApp())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, payment)
}

// Get handles GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	orgID, _, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	payment, err := h.service.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payment)
}

// List handles GET /payments
func (h *PaymentHandler) List(c *gin.Context) {
	orgID, _, ok := h.caller(c)
	if !ok {
		return
	}
	var req PaymentListRequest
	if !h.bindQuery(c, &req) {
		return
	}
	filter := req.toApp()
	payments, total, err := h.service.List(c.Request.Context(), orgID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, payments, total, filter.Page, filter.PageSize)
}

// AuditTrail handles GET /payments/:id/audit-trail
func (h *PaymentHandler) AuditTrail(c *gin.Context) {
	orgID, _, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	trail, err := h.service.GetAuditTrail(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, trail)
}

// Approve handles POST /payments/:id/approve
func (h *PaymentHandler) Approve(c *gin.Context) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.Approve(c.Request.Context(), orgID, id, userID, req.Notes))
}

// Reject handles POST /payments/:id/reject
func (h *PaymentHandler) Reject(c *gin.Context) {
	h.withReason(c, true, h.service.Reject)
}

// Escalate handles POST /payments/:id/escalate
func (h *PaymentHandler) Escalate(c *gin.Context) {
	h.withReason(c, false, h.service.Escalate)
}

// MarkProcessing handles POST /payments/:id/processing
func (h *PaymentHandler) MarkProcessing(c *gin.Context) {
	h.withoutBody(c, h.service.MarkProcessing)
}

// MarkCompleted handles POST /payments/:id/complete
func (h *PaymentHandler) MarkCompleted(c *gin.Context) {
	h.withoutBody(c, h.service.MarkCompleted)
}

// MarkFailed handles POST /payments/:id/fail
func (h *PaymentHandler) MarkFailed(c *gin.Context) {
	h.withReason(c, true, h.service.MarkFailed)
}

// Refund handles POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	h.withReason(c, true, h.service.Refund)
}

// Cancel handles POST /payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	h.withReason(c, false, h.service.Cancel)
}

type paymentTransition func(ctx context.Context, organizationID, id, userID uuid.UUID) (*appledger.PaymentResponse, error)

type paymentReasonTransition func(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.PaymentResponse, error)

func (h *PaymentHandler) withoutBody(c *gin.Context, fn paymentTransition) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	h.respond(c)(fn(c.Request.Context(), orgID, id, userID))
}

func (h *PaymentHandler) withReason(c *gin.Context, required bool, fn paymentReasonTransition) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	var reason string
	if required {
		var req RequiredReasonRequest
		if !h.bindJSON(c, &req) {
			return
		}
		reason = req.Reason
	} else {
		var req ReasonRequest
		if !h.bindOptionalJSON(c, &req) {
			return
		}
		reason = req.Reason
	}
	h.respond(c)(fn(c.Request.Context(), orgID, id, userID, reason))
}

func (h *PaymentHandler) respond(c *gin.Context) func(*appledger.PaymentResponse, error) {
	return func(payment *appledger.PaymentResponse, err error) {
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, payment)
	}
}
