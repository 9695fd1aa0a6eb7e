package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/csr/ledger/internal/application/event"
	"github.com/csr/ledger/internal/interfaces/http/middleware"
)

// OutboxService is the outbox administration surface
type OutboxService interface {
	DeadLetters(ctx context.Context, page, pageSize int) (*event.DeadLetterPage, error)
	Entry(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error)
	Redrive(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error)
	RedriveAll(ctx context.Context, eventType string) (int64, error)
	Stats(ctx context.Context) (*event.OutboxStatsDTO, error)
}

// OutboxHandler lets operators inspect and re-drive undelivered ledger events
type OutboxHandler struct {
	BaseHandler
	service OutboxService
}

// NewOutboxHandler creates a new outbox handler
func NewOutboxHandler(service OutboxService) *OutboxHandler {
	return &OutboxHandler{service: service}
}

// DeadLetterQuery pages through dead letters
type DeadLetterQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// RedriveAllRequest optionally restricts a bulk re-drive to one event type
type RedriveAllRequest struct {
	EventType string `json:"event_type" binding:"max=100"`
}

// RedriveAllResponse reports how many dead letters were requeued
type RedriveAllResponse struct {
	Count int64 `json:"count"`
}

// DeadLetters handles GET /outbox/dead
func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	var q DeadLetterQuery
	if !h.bindQuery(c, &q) {
		return
	}
	page, err := h.service.DeadLetters(c.Request.Context(), q.Page, q.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Entries, page.Total, page.Page, page.PageSize)
}

// Entry handles GET /outbox/:id
func (h *OutboxHandler) Entry(c *gin.Context) {
	id, ok := middleware.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.Entry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// Redrive handles POST /outbox/dead/:id/retry
func (h *OutboxHandler) Redrive(c *gin.Context) {
	id, ok := middleware.ParseUUIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.Redrive(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RedriveAll handles POST /outbox/dead/retry-all
func (h *OutboxHandler) RedriveAll(c *gin.Context) {
	var req RedriveAllRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	count, err := h.service.RedriveAll(c.Request.Context(), req.EventType)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RedriveAllResponse{Count: count})
}

// Stats handles GET /outbox/stats
func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
