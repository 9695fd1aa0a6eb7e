package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/csr/ledger/internal/application/event"
	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/scheduler"
	"github.com/csr/ledger/internal/interfaces/http/dto"
	"github.com/csr/ledger/internal/interfaces/http/middleware"
)

var (
	testOrgID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testUserID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// newEngine returns an engine whose requests carry the test identity
func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.OrganizationIDKey, testOrgID.String())
		c.Set(middleware.UserIDKey, testUserID.String())
		c.Next()
	})
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ==================== Error mapping ====================

func TestHandleError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", shared.NewNotFoundError("payment", "x"), http.StatusNotFound, dto.ErrCodeNotFound},
		{"invalid state", shared.NewInvalidStateError("payment", "approve", "REJECTED", "APPROVED"), http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"duplicate invoice", shared.ErrDuplicateInvoice, http.StatusConflict, dto.ErrCodeDuplicateInvoice},
		{"invalid amount", shared.NewInvalidAmountError("amount must be positive"), http.StatusBadRequest, dto.ErrCodeInvalidAmount},
		{"optimistic lock", shared.ErrOptimisticLock, http.StatusConflict, dto.ErrCodeOptimisticLock},
		{"number conflict", shared.ErrNumberConflict, http.StatusServiceUnavailable, dto.ErrCodeNumberConflict},
		{"integrity", shared.NewIntegrityError("balance mismatch"), http.StatusInternalServerError, dto.ErrCodeIntegrity},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := new(mockPayments)
			payments.On("MarkProcessing", mock.Anything, testOrgID, mock.Anything, testUserID).Return(nil, tt.err)

			h := NewPaymentHandler(payments)
			r := newEngine()
			r.POST("/payments/:id/processing", h.MarkProcessing)

			w := do(r, http.MethodPost, "/payments/"+uuid.NewString()+"/processing", nil)
			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.code == dto.ErrCodeInternal {
				assert.NotContains(t, resp.Error.Message, "connection reset")
			}
		})
	}
}

func TestCaller_MissingIdentity(t *testing.T) {
	h := NewPaymentHandler(new(mockPayments))
	r := gin.New()
	r.GET("/payments", h.List)

	w := do(r, http.MethodGet, "/payments", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, decode(t, w).Error.Code)
}

// ==================== Payments ====================

func TestPaymentHandler_Create(t *testing.T) {
	payments := new(mockPayments)
	created := &appledger.PaymentResponse{ID: uuid.New(), PaymentNumber: "PAY-000001", Currency: "USD"}
	payments.On("Create", mock.Anything, testOrgID, testUserID,
		mock.MatchedBy(func(req appledger.CreatePaymentRequest) bool {
			return req.Amount.Equal(decimal.RequireFromString("1250.50")) && req.Currency == "USD"
		}),
	).Return(created, nil)

	h := NewPaymentHandler(payments)
	r := newEngine()
	r.POST("/payments", h.Create)

	w := do(r, http.MethodPost, "/payments", map[string]any{
		"amount":       "1250.50",
		"currency":     "USD",
		"payment_type": "CSR_GRANT",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	payments.AssertExpectations(t)
}

func TestPaymentHandler_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"amount":`},
		{"missing amount", map[string]any{"currency": "USD", "payment_type": "CSR_GRANT"}},
		{"non numeric amount", map[string]any{"amount": "abc", "currency": "USD", "payment_type": "CSR_GRANT"}},
		{"three decimals", map[string]any{"amount": "10.005", "currency": "USD", "payment_type": "CSR_GRANT"}},
		{"bad currency", map[string]any{"amount": "10", "currency": "US", "payment_type": "CSR_GRANT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := new(mockPayments)
			h := NewPaymentHandler(payments)
			r := newEngine()
			r.POST("/payments", h.Create)

			w := do(r, http.MethodPost, "/payments", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, dto.ErrCodeValidation, decode(t, w).Error.Code)
			payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPaymentHandler_Reasons(t *testing.T) {
	id := uuid.New()
	payments := new(mockPayments)
	payments.On("Reject", mock.Anything, testOrgID, id, testUserID, "budget exhausted").
		Return(&appledger.PaymentResponse{ID: id}, nil)
	payments.On("Escalate", mock.Anything, testOrgID, id, testUserID, "").
		Return(&appledger.PaymentResponse{ID: id}, nil)
	payments.On("Approve", mock.Anything, testOrgID, id, testUserID, "ok").
		Return(&appledger.PaymentResponse{ID: id}, nil)

	h := NewPaymentHandler(payments)
	r := newEngine()
	r.POST("/payments/:id/reject", h.Reject)
	r.POST("/payments/:id/escalate", h.Escalate)
	r.POST("/payments/:id/approve", h.Approve)

	t.Run("reject requires a reason", func(t *testing.T) {
		w := do(r, http.MethodPost, "/payments/"+id.String()+"/reject", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		payments.AssertNotCalled(t, "Reject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reject", func(t *testing.T) {
		w := do(r, http.MethodPost, "/payments/"+id.String()+"/reject", map[string]any{"reason": "budget exhausted"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("escalate without body", func(t *testing.T) {
		w := do(r, http.MethodPost, "/payments/"+id.String()+"/escalate", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("approve with notes", func(t *testing.T) {
		w := do(r, http.MethodPost, "/payments/"+id.String()+"/approve", map[string]any{"notes": "ok"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := do(r, http.MethodPost, "/payments/not-a-uuid/approve", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	payments.AssertExpectations(t)
}

func TestPaymentHandler_List(t *testing.T) {
	campaign := uuid.New()
	payments := new(mockPayments)
	payments.On("List", mock.Anything, testOrgID, mock.MatchedBy(func(f appledger.PaymentListFilter) bool {
		return f.Page == 2 && f.PageSize == 5 && f.Status == "PENDING" &&
			f.CampaignID != nil && *f.CampaignID == campaign
	})).Return([]appledger.PaymentResponse{{ID: uuid.New()}}, int64(6), nil)

	h := NewPaymentHandler(payments)
	r := newEngine()
	r.GET("/payments", h.List)

	w := do(r, http.MethodGet, "/payments?page=2&page_size=5&status=PENDING&campaign_id="+campaign.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(6), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)

	w = do(r, http.MethodGet, "/payments?campaign_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	payments.AssertExpectations(t)
}

// ==================== Invoices ====================

func TestInvoiceHandler_Generate(t *testing.T) {
	paymentID := uuid.New()
	invoices := new(mockInvoices)
	invoices.On("Generate", mock.Anything, testOrgID, testUserID, mock.MatchedBy(func(req appledger.GenerateInvoiceRequest) bool {
		return req.PaymentID == paymentID && len(req.LineItems) == 1 &&
			req.LineItems[0].Quantity.Equal(decimal.NewFromInt(2)) &&
			req.LineItems[0].UnitPrice.Equal(decimal.RequireFromString("99.99"))
	})).Return(&appledger.InvoiceResponse{ID: uuid.New(), InvoiceNumber: "INV-202601-0001"}, nil).Once()
	invoices.On("Generate", mock.Anything, testOrgID, testUserID, mock.Anything).
		Return(nil, shared.ErrDuplicateInvoice)

	h := NewInvoiceHandler(invoices)
	r := newEngine()
	r.POST("/payments/:id/invoice", h.Generate)
	path := "/payments/" + paymentID.String() + "/invoice"

	body := map[string]any{
		"line_items": []map[string]any{{"description": "Tree planting", "quantity": "2", "unit_price": "99.99"}},
	}
	w := do(r, http.MethodPost, path, body)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, path, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, dto.ErrCodeDuplicateInvoice, decode(t, w).Error.Code)

	w = do(r, http.MethodPost, path, map[string]any{
		"line_items": []map[string]any{{"quantity": "0", "unit_price": "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvoiceHandler_RecordPayment(t *testing.T) {
	id := uuid.New()
	invoices := new(mockInvoices)
	invoices.On("RecordPayment", mock.Anything, testOrgID, id, testUserID, mock.MatchedBy(func(req appledger.RecordPaymentRequest) bool {
		return req.Amount.IsZero()
	})).Return(nil, shared.NewInvalidAmountError("payment amount must be positive"))
	invoices.On("RecordPayment", mock.Anything, testOrgID, id, testUserID, mock.Anything).
		Return(&appledger.InvoiceResponse{ID: id}, nil)

	h := NewInvoiceHandler(invoices)
	r := newEngine()
	r.POST("/invoices/:id/payments", h.RecordPayment)
	path := "/invoices/" + id.String() + "/payments"

	w := do(r, http.MethodPost, path, map[string]any{"payment_method": "wire", "amount": "0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidAmount, decode(t, w).Error.Code)

	w = do(r, http.MethodPost, path, map[string]any{"payment_method": "wire", "amount": "40.00"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, path, map[string]any{"amount": "40.00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, decode(t, w).Error.Code)
}

func TestInvoiceHandler_Send(t *testing.T) {
	id := uuid.New()
	invoices := new(mockInvoices)
	invoices.On("Send", mock.Anything, testOrgID, id, testUserID, appledger.SendInvoiceRequest{Method: "portal"}).
		Return(&appledger.InvoiceResponse{ID: id}, nil)

	h := NewInvoiceHandler(invoices)
	r := newEngine()
	r.POST("/invoices/:id/send", h.Send)
	path := "/invoices/" + id.String() + "/send"

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, path, map[string]any{"delivery_method": "portal"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, path, map[string]any{"delivery_method": "fax"}).Code)
	invoices.AssertNumberOfCalls(t, "Send", 1)
}

func TestInvoiceHandler_Lookups(t *testing.T) {
	id := uuid.New()
	invoices := new(mockInvoices)
	invoices.On("GetByNumber", mock.Anything, testOrgID, "INV-202601-0007").
		Return(&appledger.InvoiceResponse{ID: id, InvoiceNumber: "INV-202601-0007"}, nil)
	invoices.On("GetByID", mock.Anything, testOrgID, id).
		Return(nil, shared.NewNotFoundError("invoice", id.String()))
	invoices.On("List", mock.Anything, testOrgID, mock.MatchedBy(func(f appledger.InvoiceListFilter) bool {
		return f.Overdue && f.Page == 1
	})).Return([]appledger.InvoiceResponse{}, int64(0), nil)

	h := NewInvoiceHandler(invoices)
	r := newEngine()
	r.GET("/invoices", h.List)
	r.GET("/invoices/number/:number", h.GetByNumber)
	r.GET("/invoices/:id", h.Get)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/invoices/number/INV-202601-0007", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/invoices/"+id.String(), nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/invoices?overdue=true", nil).Code)
	invoices.AssertExpectations(t)
}

// ==================== Analytics ====================

func TestAnalyticsHandler_Window(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	analytics := new(mockAnalytics)
	// the to date is inclusive, so the service sees the following midnight
	analytics.On("Window", mock.MatchedBy(func(start *time.Time) bool {
		return start != nil && start.Format(time.DateOnly) == "2026-01-01"
	}), mock.MatchedBy(func(end *time.Time) bool {
		return end != nil && end.Format(time.DateOnly) == "2026-02-01"
	})).Return(from, to, nil)
	analytics.On("Window", mock.Anything, mock.Anything).
		Return(time.Time{}, time.Time{}, shared.NewDomainError(shared.CodeInvalidInput, "from must be before to"))
	analytics.On("StatusBreakdown", mock.Anything, testOrgID, from, to).
		Return([]ledger.StatusBucket{{Status: "PAID", Count: 3}}, nil)

	h := NewAnalyticsHandler(analytics)
	r := newEngine()
	r.GET("/analytics/status-breakdown", h.StatusBreakdown)

	w := do(r, http.MethodGet, "/analytics/status-breakdown?from=2026-01-01&to=2026-01-31", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/analytics/status-breakdown?from=2026-03-01&to=2026-01-31", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidInput, decode(t, w).Error.Code)

	w = do(r, http.MethodGet, "/analytics/status-breakdown?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsHandler_OverdueCount(t *testing.T) {
	analytics := new(mockAnalytics)
	analytics.On("OverdueCount", mock.Anything, testOrgID).Return(int64(4), nil)

	h := NewAnalyticsHandler(analytics)
	r := newEngine()
	r.GET("/analytics/overdue-count", h.OverdueCount)

	w := do(r, http.MethodGet, "/analytics/overdue-count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"overdue_count":4`)
}

// ==================== Outbox ====================

func TestOutboxHandler(t *testing.T) {
	id := uuid.New()
	outbox := new(mockOutbox)
	outbox.On("Redrive", mock.Anything, id).Return(nil, shared.NewNotFoundError("outbox entry", id.String()))
	outbox.On("RedriveAll", mock.Anything, "InvoicePaid").Return(int64(3), nil)
	outbox.On("Stats", mock.Anything).Return(&event.OutboxStatsDTO{Dead: 3, Total: 10}, nil)
	outbox.On("DeadLetters", mock.Anything, 1, 20).
		Return(&event.DeadLetterPage{Entries: []event.OutboxEntryDTO{}, Total: 0, Page: 1, PageSize: 20}, nil)

	h := NewOutboxHandler(outbox)
	r := newEngine()
	r.GET("/outbox/stats", h.Stats)
	r.GET("/outbox/dead", h.DeadLetters)
	r.POST("/outbox/dead/retry-all", h.RedriveAll)
	r.POST("/outbox/dead/:id/retry", h.Redrive)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/outbox/dead/"+id.String()+"/retry", nil).Code)

	w := do(r, http.MethodPost, "/outbox/dead/retry-all", map[string]any{"event_type": "InvoicePaid"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":3`)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/outbox/stats", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/outbox/dead?page=1&page_size=20", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/outbox/dead?page_size=500", nil).Code)
	outbox.AssertExpectations(t)
}

// ==================== System ====================

func TestSystemHandler_Health(t *testing.T) {
	tests := []struct {
		name   string
		db     DatabaseChecker
		status int
		state  string
	}{
		{"healthy", stubDB{}, http.StatusOK, "healthy"},
		{"database down", stubDB{err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSystemHandler("csr-ledger", "test", tt.db, nil, new(mockTrigger))
			r := gin.New()
			r.GET("/health", h.Health)

			w := do(r, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.status, w.Code)

			var body struct {
				Data HealthResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.state, body.Data.Status)
			require.NotNil(t, body.Data.Trigger)
			assert.Equal(t, "0 2 * * *", body.Data.Trigger.Schedule)
		})
	}
}

func TestSystemHandler_RunMaintenance(t *testing.T) {
	trigger := new(mockTrigger)
	trigger.On("TriggerManual", mock.Anything, mock.MatchedBy(func(id *uuid.UUID) bool {
		return id != nil && *id == testOrgID
	}), mock.MatchedBy(func(jt *scheduler.JobType) bool {
		return jt != nil && *jt == scheduler.JobTypeSweepOverdue
	})).Return(nil)
	trigger.On("TriggerManual", mock.Anything, mock.Anything, (*scheduler.JobType)(nil)).Return(scheduler.ErrJobQueueFull)

	h := NewSystemHandler("csr-ledger", "test", stubDB{}, nil, trigger)
	r := newEngine()
	r.POST("/maintenance/run", h.RunMaintenance)

	w := do(r, http.MethodPost, "/maintenance/run", map[string]any{"job_type": "SWEEP_OVERDUE"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(r, http.MethodPost, "/maintenance/run", map[string]any{"job_type": "DROP_TABLES"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/maintenance/run", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	disabled := NewSystemHandler("csr-ledger", "test", stubDB{}, nil, nil)
	r2 := newEngine()
	r2.POST("/maintenance/run", disabled.RunMaintenance)
	w = do(r2, http.MethodPost, "/maintenance/run", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
