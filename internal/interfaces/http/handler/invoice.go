package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appledger "github.com/csr/ledger/internal/application/ledger"
)

// InvoiceService is the invoice lifecycle surface the handler drives
type InvoiceService interface {
	Generate(ctx context.Context, organizationID, userID uuid.UUID, req appledger.GenerateInvoiceRequest) (*appledger.InvoiceResponse, error)
	Send(ctx context.Context, organizationID, id, userID uuid.UUID, req appledger.SendInvoiceRequest) (*appledger.InvoiceResponse, error)
	MarkViewed(ctx context.Context, organizationID, id, userID uuid.UUID) (*appledger.InvoiceResponse, error)
	RecordPayment(ctx context.Context, organizationID, id, userID uuid.UUID, req appledger.RecordPaymentRequest) (*appledger.InvoiceResponse, error)
	Cancel(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.InvoiceResponse, error)
	Dispute(ctx context.Context, organizationID, id, userID uuid.UUID, reason string) (*appledger.InvoiceResponse, error)
	ResolveDispute(ctx context.Context, organizationID, id, userID uuid.UUID, note string) (*appledger.InvoiceResponse, error)
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*appledger.InvoiceResponse, error)
	GetByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*appledger.InvoiceResponse, error)
	GetOutstanding(ctx context.Context, organizationID, id uuid.UUID) (*appledger.OutstandingResponse, error)
	GetAuditTrail(ctx context.Context, organizationID, id uuid.UUID) ([]appledger.AuditEntryResponse, error)
	List(ctx context.Context, organizationID uuid.UUID, filter appledger.InvoiceListFilter) ([]appledger.InvoiceResponse, int64, error)
}

// InvoiceHandler handles the invoice lifecycle endpoints
type InvoiceHandler struct {
	BaseHandler
	service InvoiceService
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(service InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

// Generate handles POST /payments/:id/invoice
func (h *InvoiceHandler) Generate(c *gin.Context) {
	orgID, userID, paymentID, ok := h.callerAndID(c)
	if !ok {
		return
	}
	var req GenerateInvoiceRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	invoice, err := h.service.Generate(c.Request.Context(), orgID, userID, req.toApp(paymentID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, invoice)
}

// Get handles GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	orgID, _, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.GetByID(c.Request.Context(), orgID, id))
}

// GetByNumber handles GET /invoices/number/:number
func (h *InvoiceHandler) GetByNumber(c *gin.Context) {
	orgID, _, ok := h.caller(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.GetByNumber(c.Request.Context(), orgID, c.Param("number")))
}

// Outstanding handles GET /invoices/:id/outstanding
func (h *InvoiceHandler) Outstanding(c *gin.Context) {
	orgID, _, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	outstanding, err := h.service.GetOutstanding(c.Request.Context(), orgID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, outstanding)
}

// AuditTrail handles GET /invoices/:id/audit-trail
func (h *InvoiceHandler) AuditTrail(c *gin.Context) {
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

// List handles GET /invoices
func (h *InvoiceHandler) List(c *gin.Context) {
	orgID, _, ok := h.caller(c)
	if !ok {
		return
	}
	var req InvoiceListRequest
	if !h.bindQuery(c, &req) {
		return
	}
	filter := req.toApp()
	invoices, total, err := h.service.List(c.Request.Context(), orgID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, invoices, total, filter.Page, filter.PageSize)
}

// Send handles POST /invoices/:id/send. Delivery runs asynchronously; the
// response shows delivery_status pending.
func (h *InvoiceHandler) Send(c *gin.Context) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	var req SendInvoiceRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.Send(c.Request.Context(), orgID, id, userID, appledger.SendInvoiceRequest{
		Method:  req.DeliveryMethod,
		Message: req.Message,
	}))
}

// MarkViewed handles POST /invoices/:id/view
func (h *InvoiceHandler) MarkViewed(c *gin.Context) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.MarkViewed(c.Request.Context(), orgID, id, userID))
}

// RecordPayment handles POST /invoices/:id/payments
func (h *InvoiceHandler) RecordPayment(c *gin.Context) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	var req RecordPaymentRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.service.RecordPayment(c.Request.Context(), orgID, id, userID, req.toApp()))
}

// Cancel handles POST /invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	h.withReason(c, h.service.Cancel)
}

// Dispute handles POST /invoices/:id/dispute
func (h *InvoiceHandler) Dispute(c *gin.Context) {
	h.withReason(c, h.service.Dispute)
}

// ResolveDispute handles POST /invoices/:id/resolve-dispute
func (h *InvoiceHandler) ResolveDispute(c *gin.Context) {
	h.withReason(c, h.service.ResolveDispute)
}

func (h *InvoiceHandler) withReason(c *gin.Context, fn func(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, string) (*appledger.InvoiceResponse, error)) {
	orgID, userID, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	var req RequiredReasonRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.respond(c)(fn(c.Request.Context(), orgID, id, userID, req.Reason))
}

func (h *InvoiceHandler) respond(c *gin.Context) func(*appledger.InvoiceResponse, error) {
	return func(invoice *appledger.InvoiceResponse, err error) {
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, invoice)
	}
}
