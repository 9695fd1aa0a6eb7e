package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/interfaces/http/dto"
)

// AnalyticsService is the reporting surface the handler drives
type AnalyticsService interface {
	Window(from, to *time.Time) (time.Time, time.Time, error)
	StatusBreakdown(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]ledger.StatusBucket, error)
	OverdueCount(ctx context.Context, organizationID uuid.UUID) (int64, error)
	AveragePaymentDays(ctx context.Context, organizationID uuid.UUID, from, to time.Time) (float64, error)
	GetAnalytics(ctx context.Context, organizationID uuid.UUID, from, to time.Time) (*ledger.Analytics, error)
}

// AnalyticsHandler serves the invoice analytics endpoints
type AnalyticsHandler struct {
	BaseHandler
	service AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(service AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// OverdueCountResponse is the body of GET /analytics/overdue-count
type OverdueCountResponse struct {
	OverdueCount int64 `json:"overdue_count"`
}

// AveragePaymentDaysResponse is the body of GET /analytics/average-payment-days
type AveragePaymentDaysResponse struct {
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
	AveragePaymentDays float64   `json:"average_payment_days"`
}

// StatusBreakdownResponse is the body of GET /analytics/status-breakdown
type StatusBreakdownResponse struct {
	From    time.Time             `json:"from"`
	To      time.Time             `json:"to"`
	Buckets []ledger.StatusBucket `json:"buckets"`
}

// Get handles GET /analytics
func (h *AnalyticsHandler) Get(c *gin.Context) {
	orgID, from, to, ok := h.window(c)
	if !ok {
		return
	}
	view, err := h.service.GetAnalytics(c.Request.Context(), orgID, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// StatusBreakdown handles GET /analytics/status-breakdown
func (h *AnalyticsHandler) StatusBreakdown(c *gin.Context) {
	orgID, from, to, ok := h.window(c)
	if !ok {
		return
	}
	buckets, err := h.service.StatusBreakdown(c.Request.Context(), orgID, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, StatusBreakdownResponse{From: from, To: to, Buckets: buckets})
}

// OverdueCount handles GET /analytics/overdue-count
func (h *AnalyticsHandler) OverdueCount(c *gin.Context) {
	orgID, _, ok := h.caller(c)
	if !ok {
		return
	}
	count, err := h.service.OverdueCount(c.Request.Context(), orgID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, OverdueCountResponse{OverdueCount: count})
}

// AveragePaymentDays handles GET /analytics/average-payment-days
func (h *AnalyticsHandler) AveragePaymentDays(c *gin.Context) {
	orgID, from, to, ok := h.window(c)
	if !ok {
		return
	}
	days, err := h.service.AveragePaymentDays(c.Request.Context(), orgID, from, to)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, AveragePaymentDaysResponse{From: from, To: to, AveragePaymentDays: days})
}

// window reads the optional from/to dates. The to date is inclusive.
func (h *AnalyticsHandler) window(c *gin.Context) (uuid.UUID, time.Time, time.Time, bool) {
	orgID, _, ok := h.caller(c)
	if !ok {
		return uuid.Nil, time.Time{}, time.Time{}, false
	}
	var req dto.DateRangeRequest
	if !h.bindQuery(c, &req) {
		return uuid.Nil, time.Time{}, time.Time{}, false
	}
	if req.To != nil {
		end := req.To.AddDate(0, 0, 1)
		req.To = &end
	}
	from, to, err := h.service.Window(req.From, req.To)
	if err != nil {
		h.HandleError(c, err)
		return uuid.Nil, time.Time{}, time.Time{}, false
	}
	return orgID, from, to, true
}
