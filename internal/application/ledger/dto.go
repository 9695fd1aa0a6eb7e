package ledger

import (
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ===================== Requests =====================

// CreatePaymentRequest holds the data for registering a payment
type CreatePaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	PaymentType    string
	PaymentMethod  string
	BudgetCategory string
	CampaignID     *uuid.UUID
	CampaignName   string
	Description    string
}

// PaymentListFilter defines filtering options for payment list queries
type PaymentListFilter struct {
	Search         string
	Status         string
	ApprovalStatus string
	PaymentType    string
	CampaignID     *uuid.UUID
	FromDate       *time.Time
	ToDate         *time.Time
	Page           int
	PageSize       int
	OrderBy        string
	OrderDir       string
}

// LineItemInput is a caller supplied invoice line
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
}

// GenerateInvoiceRequest holds the data for issuing an invoice against a payment
type GenerateInvoiceRequest struct {
	PaymentID      uuid.UUID
	LineItems      []LineItemInput
	DiscountAmount decimal.Decimal
	DueDate        *time.Time
	PaymentTerms   string
	Notes          string
}

// SendInvoiceRequest holds the delivery options for an invoice
type SendInvoiceRequest struct {
	Method  string
	Message string
}

// RecordPaymentRequest holds one incoming payment against an invoice
type RecordPaymentRequest struct {
	PaymentID            string
	PaymentMethod        string
	PaymentDate          *time.Time
	Amount               decimal.Decimal
	GatewayTransactionID string
}

// DeliveryResultRequest reports the outcome of a delivery attempt
type DeliveryResultRequest struct {
	Status   string
	Location string
	Detail   string
}

// InvoiceListFilter defines filtering options for invoice list queries
type InvoiceListFilter struct {
	Search    string
	Status    string
	PaymentID *uuid.UUID
	FromDate  *time.Time
	ToDate    *time.Time
	Overdue   bool
	Page      int
	PageSize  int
	OrderBy   string
	OrderDir  string
}

// OrganizationRequest holds the data for creating or updating an organization
type OrganizationRequest struct {
	Name      string
	LegalName string
	Address   ledger.Address
	Contact   ledger.Contact
	TaxIDs    ledger.TaxIdentifiers
}

// ===================== Responses =====================

// AuditEntryResponse is one audit trail entry in API responses
type AuditEntryResponse struct {
	Action      string    `json:"action"`
	PerformedBy uuid.UUID `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID              uuid.UUID            `json:"id"`
	OrganizationID  uuid.UUID            `json:"organization_id"`
	PaymentNumber   string               `json:"payment_number"`
	Amount          decimal.Decimal      `json:"amount"`
	Currency        string               `json:"currency"`
	DisplayAmount   string               `json:"display_amount"`
	PaymentType     string               `json:"payment_type"`
	PaymentMethod   string               `json:"payment_method,omitempty"`
	BudgetCategory  string               `json:"budget_category,omitempty"`
	CampaignID      *uuid.UUID           `json:"campaign_id,omitempty"`
	CampaignName    string               `json:"campaign_name,omitempty"`
	Description     string               `json:"description,omitempty"`
	Status          string               `json:"status"`
	ApprovalStatus  string               `json:"approval_status"`
	ApprovedBy      *uuid.UUID           `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	ApprovalNotes   string               `json:"approval_notes,omitempty"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	FailureReason   string               `json:"failure_reason,omitempty"`
	ProcessedAt     *time.Time           `json:"processed_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	FinanceTeam     ledger.FinanceTeam   `json:"finance_team"`
	AuditTrail      []AuditEntryResponse `json:"audit_trail,omitempty"`
	CreatedBy       *uuid.UUID           `json:"created_by,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Version         int                  `json:"version"`
}

// LineItemResponse represents a priced invoice line
type LineItemResponse struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
}

// PaymentReferenceResponse represents a recorded incoming payment
type PaymentReferenceResponse struct {
	ID                   uuid.UUID       `json:"id"`
	PaymentID            string          `json:"payment_id,omitempty"`
	PaymentMethod        string          `json:"payment_method"`
	PaymentDate          time.Time       `json:"payment_date"`
	Amount               decimal.Decimal `json:"amount"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	RecordedBy           uuid.UUID       `json:"recorded_by"`
	RecordedAt           time.Time       `json:"recorded_at"`
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID                uuid.UUID                   `json:"id"`
	OrganizationID    uuid.UUID                   `json:"organization_id"`
	InvoiceNumber     string                      `json:"invoice_number"`
	PaymentID         uuid.UUID                   `json:"payment_id"`
	PaymentNumber     string                      `json:"payment_number"`
	Organization      ledger.OrganizationSnapshot `json:"organization"`
	Currency          string                      `json:"currency"`
	LineItems         []LineItemResponse          `json:"line_items"`
	Subtotal          decimal.Decimal             `json:"subtotal"`
	TaxAmount         decimal.Decimal             `json:"tax_amount"`
	DiscountAmount    decimal.Decimal             `json:"discount_amount"`
	TotalAmount       decimal.Decimal             `json:"total_amount"`
	PaidAmount        decimal.Decimal             `json:"paid_amount"`
	OutstandingAmount decimal.Decimal             `json:"outstanding_amount"`
	DaysOverdue       int                         `json:"days_overdue"`
	PaymentReferences []PaymentReferenceResponse  `json:"payment_references"`
	Status            string                      `json:"status"`
	PaymentTerms      string                      `json:"payment_terms"`
	Notes             string                      `json:"notes,omitempty"`
	IssueDate         time.Time                   `json:"issue_date"`
	DueDate           time.Time                   `json:"due_date"`
	SentAt            *time.Time                  `json:"sent_at,omitempty"`
	ViewedAt          *time.Time                  `json:"viewed_at,omitempty"`
	PaidAt            *time.Time                  `json:"paid_at,omitempty"`
	CancelledAt       *time.Time                  `json:"cancelled_at,omitempty"`
	CancelReason      string                      `json:"cancel_reason,omitempty"`
	DisputedAt        *time.Time                  `json:"disputed_at,omitempty"`
	DisputeReason     string                      `json:"dispute_reason,omitempty"`
	DeliveryMethod    string                      `json:"delivery_method,omitempty"`
	DeliveryStatus    string                      `json:"delivery_status"`
	DeliveryAttempts  int                         `json:"delivery_attempts"`
	DeliveryLocation  string                      `json:"delivery_location,omitempty"`
	LastDeliveryError string                      `json:"last_delivery_error,omitempty"`
	AuditTrail        []AuditEntryResponse        `json:"audit_trail,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
	Version           int                         `json:"version"`
}

// OutstandingResponse summarizes the balance of an invoice
type OutstandingResponse struct {
	InvoiceID         uuid.UUID       `json:"invoice_id"`
	InvoiceNumber     string          `json:"invoice_number"`
	Currency          string          `json:"currency"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	Overpaid          bool            `json:"overpaid"`
	DaysOverdue       int             `json:"days_overdue"`
	Status            string          `json:"status"`
}

// OrganizationResponse represents an organization in API responses
type OrganizationResponse struct {
	ID        uuid.UUID             `json:"id"`
	Name      string                `json:"name"`
	LegalName string                `json:"legal_name,omitempty"`
	Address   ledger.Address        `json:"address"`
	Contact   ledger.Contact        `json:"contact"`
	TaxIDs    ledger.TaxIdentifiers `json:"tax_ids"`
	Active    bool                  `json:"active"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Version   int                   `json:"version"`
}

// ===================== Converters =====================

func toAuditEntries(trail ledger.AuditTrail) []AuditEntryResponse {
	out := make([]AuditEntryResponse, len(trail))
	for i, e := range trail {
		out[i] = AuditEntryResponse{
			Action:      string(e.Action),
			PerformedBy: e.PerformedBy,
			Timestamp:   e.Timestamp,
			Details:     e.Details,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
		}
	}
	return out
}

// ToPaymentResponse converts a payment to its API response
func ToPaymentResponse(p *ledger.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		OrganizationID:  p.OrganizationID,
		PaymentNumber:   p.PaymentNumber,
		Amount:          p.Amount,
		Currency:        string(p.Currency),
		DisplayAmount:   p.GetAmountMoney().Display(),
		PaymentType:     string(p.PaymentType),
		PaymentMethod:   p.PaymentMethod,
		BudgetCategory:  p.BudgetCategory,
		CampaignID:      p.CampaignID,
		CampaignName:    p.CampaignName,
		Description:     p.Description,
		Status:          string(p.Status),
		ApprovalStatus:  string(p.ApprovalStatus),
		ApprovedBy:      p.ApprovedBy,
		ApprovedAt:      p.ApprovedAt,
		ApprovalNotes:   p.ApprovalNotes,
		RejectionReason: p.RejectionReason,
		FailureReason:   p.FailureReason,
		ProcessedAt:     p.ProcessedAt,
		CompletedAt:     p.CompletedAt,
		FinanceTeam:     p.FinanceTeam,
		AuditTrail:      toAuditEntries(p.AuditTrail),
		CreatedBy:       p.CreatedBy,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Version:         p.Version,
	}
}

// ToInvoiceResponse converts an invoice to its API response
func ToInvoiceResponse(inv *ledger.Invoice, now time.Time) InvoiceResponse {
	items := make([]LineItemResponse, len(inv.LineItems))
	for i, item := range inv.LineItems {
		items[i] = LineItemResponse(item)
	}
	refs := make([]PaymentReferenceResponse, len(inv.PaymentReferences))
	for i, ref := range inv.PaymentReferences {
		refs[i] = PaymentReferenceResponse(ref)
	}

	return InvoiceResponse{
		ID:                inv.ID,
		OrganizationID:    inv.OrganizationID,
		InvoiceNumber:     inv.InvoiceNumber,
		PaymentID:         inv.PaymentID,
		PaymentNumber:     inv.PaymentNumber,
		Organization:      inv.Organization,
		Currency:          string(inv.Currency),
		LineItems:         items,
		Subtotal:          inv.Subtotal,
		TaxAmount:         inv.TaxAmount,
		DiscountAmount:    inv.DiscountAmount,
		TotalAmount:       inv.TotalAmount,
		PaidAmount:        inv.PaidAmount,
		OutstandingAmount: inv.OutstandingAmount(),
		DaysOverdue:       inv.DaysOverdue(now),
		PaymentReferences: refs,
		Status:            string(inv.Status),
		PaymentTerms:      inv.PaymentTerms,
		Notes:             inv.Notes,
		IssueDate:         inv.IssueDate,
		DueDate:           inv.DueDate,
		SentAt:            inv.SentAt,
		ViewedAt:          inv.ViewedAt,
		PaidAt:            inv.PaidAt,
		CancelledAt:       inv.CancelledAt,
		CancelReason:      inv.CancelReason,
		DisputedAt:        inv.DisputedAt,
		DisputeReason:     inv.DisputeReason,
		DeliveryMethod:    string(inv.DeliveryMethod),
		DeliveryStatus:    string(inv.DeliveryStatus),
		DeliveryAttempts:  inv.DeliveryAttempts,
		DeliveryLocation:  inv.DeliveryLocation,
		LastDeliveryError: inv.LastDeliveryError,
		AuditTrail:        toAuditEntries(inv.AuditTrail),
		CreatedAt:         inv.CreatedAt,
		UpdatedAt:         inv.UpdatedAt,
		Version:           inv.Version,
	}
}

// ToOrganizationResponse converts an organization to its API response
func ToOrganizationResponse(o *ledger.Organization) OrganizationResponse {
	return OrganizationResponse{
		ID:        o.ID,
		Name:      o.Name,
		LegalName: o.LegalName,
		Address:   o.Address,
		Contact:   o.Contact,
		TaxIDs:    o.TaxIDs,
		Active:    o.Active,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
		Version:   o.Version,
	}
}

func toLineItems(inputs []LineItemInput) ledger.LineItems {
	items := make(ledger.LineItems, len(inputs))
	for i, in := range inputs {
		items[i] = ledger.LineItem{
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRate:     in.TaxRate,
		}
	}
	return items
}
