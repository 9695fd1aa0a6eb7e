package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/interfaces/http/dto"
)

// Amounts travel as decimal strings and are range-checked by the domain,
// which answers INVALID_AMOUNT.

// AddressRequest is a postal address
type AddressRequest struct {
	Line1      string `json:"line1" binding:"max=200"`
	Line2      string `json:"line2" binding:"max=200"`
	City       string `json:"city" binding:"max=100"`
	State      string `json:"state" binding:"max=100"`
	PostalCode string `json:"postal_code" binding:"max=20"`
	Country    string `json:"country" binding:"omitempty,len=2"`
}

// ContactRequest is the billing contact of an organization
type ContactRequest struct {
	Name  string `json:"name" binding:"max=200"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"max=50"`
}

// TaxIDsRequest holds the tax registrations printed on invoices
type TaxIDsRequest struct {
	GSTIN string `json:"gstin" binding:"omitempty,len=15"`
	PAN   string `json:"pan" binding:"omitempty,len=10"`
	VAT   string `json:"vat" binding:"max=30"`
	EIN   string `json:"ein" binding:"max=20"`
}

// CreateOrganizationRequest registers an organization
type CreateOrganizationRequest struct {
	Name      string         `json:"name" binding:"required,min=1,max=200"`
	LegalName string         `json:"legal_name" binding:"max=200"`
	Address   AddressRequest `json:"address"`
	Contact   ContactRequest `json:"contact"`
	TaxIDs    TaxIDsRequest  `json:"tax_ids"`
}

func (r CreateOrganizationRequest) toApp() appledger.OrganizationRequest {
	return appledger.OrganizationRequest{
		Name:      r.Name,
		LegalName: r.LegalName,
		Address:   ledger.Address(r.Address),
		Contact:   ledger.Contact(r.Contact),
		TaxIDs:    ledger.TaxIdentifiers(r.TaxIDs),
	}
}

// CreatePaymentRequest registers a payment
type CreatePaymentRequest struct {
	Amount         string     `json:"amount" binding:"required,money"`
	Currency       string     `json:"currency" binding:"required,len=3"`
	PaymentType    string     `json:"payment_type" binding:"required"`
	PaymentMethod  string     `json:"payment_method" binding:"max=50"`
	BudgetCategory string     `json:"budget_category" binding:"max=100"`
	CampaignID     *uuid.UUID `json:"campaign_id"`
	CampaignName   string     `json:"campaign_name" binding:"max=200"`
	Description    string     `json:"description" binding:"max=2000"`
}

func (r CreatePaymentRequest) toApp() appledger.CreatePaymentRequest {
	return appledger.CreatePaymentRequest{
		Amount:         decimalOrZero(r.Amount),
		Currency:       r.Currency,
		PaymentType:    r.PaymentType,
		PaymentMethod:  r.PaymentMethod,
		BudgetCategory: r.BudgetCategory,
		CampaignID:     r.CampaignID,
		CampaignName:   r.CampaignName,
		Description:    r.Description,
	}
}

// ReasonRequest carries the free text of a transition
type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// RequiredReasonRequest is a ReasonRequest whose reason is mandatory
type RequiredReasonRequest struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

// ApproveRequest carries the approver's notes
type ApproveRequest struct {
	Notes string `json:"notes" binding:"max=1000"`
}

// PaymentListRequest holds the payment list query
type PaymentListRequest struct {
	dto.ListRequest
	dto.DateRangeRequest
	Status         string `form:"status"`
	ApprovalStatus string `form:"approval_status"`
	PaymentType    string `form:"payment_type"`
	CampaignID     string `form:"campaign_id" binding:"omitempty,uuid"`
}

func (r PaymentListRequest) toApp() appledger.PaymentListFilter {
	r.Normalize()
	return appledger.PaymentListFilter{
		Search:         r.Search,
		Status:         r.Status,
		ApprovalStatus: r.ApprovalStatus,
		PaymentType:    r.PaymentType,
		CampaignID:     optionalUUID(r.CampaignID),
		FromDate:       r.From,
		ToDate:         r.To,
		Page:           r.Page,
		PageSize:       r.PageSize,
		OrderBy:        r.OrderBy,
		OrderDir:       r.OrderDir,
	}
}

// LineItemRequest is one caller supplied invoice line
type LineItemRequest struct {
	Description string `json:"description" binding:"max=500"`
	Quantity    string `json:"quantity" binding:"required,positive_money"`
	UnitPrice   string `json:"unit_price" binding:"required,money"`
	TaxRate     string `json:"tax_rate" binding:"omitempty,money"`
}

// GenerateInvoiceRequest issues an invoice for the payment in the path
type GenerateInvoiceRequest struct {
	LineItems      []LineItemRequest `json:"line_items" binding:"omitempty,dive"`
	DiscountAmount string            `json:"discount_amount" binding:"omitempty,money"`
	DueDate        *time.Time        `json:"due_date"`
	PaymentTerms   string            `json:"payment_terms" binding:"max=100"`
	Notes          string            `json:"notes" binding:"max=2000"`
}

func (r GenerateInvoiceRequest) toApp(paymentID uuid.UUID) appledger.GenerateInvoiceRequest {
	items := make([]appledger.LineItemInput, len(r.LineItems))
	for i, item := range r.LineItems {
		items[i] = appledger.LineItemInput{
			Description: item.Description,
			Quantity:    decimalOrZero(item.Quantity),
			UnitPrice:   decimalOrZero(item.UnitPrice),
			TaxRate:     decimalOrZero(item.TaxRate),
		}
	}
	return appledger.GenerateInvoiceRequest{
		PaymentID:      paymentID,
		LineItems:      items,
		DiscountAmount: decimalOrZero(r.DiscountAmount),
		DueDate:        r.DueDate,
		PaymentTerms:   r.PaymentTerms,
		Notes:          r.Notes,
	}
}

// SendInvoiceRequest selects the delivery channel
type SendInvoiceRequest struct {
	DeliveryMethod string `json:"delivery_method" binding:"required,oneof=email portal"`
	Message        string `json:"message" binding:"max=2000"`
}

// RecordPaymentRequest is one incoming payment against an invoice
type RecordPaymentRequest struct {
	PaymentID            string     `json:"payment_id" binding:"max=100"`
	PaymentMethod        string     `json:"payment_method" binding:"required,max=50"`
	PaymentDate          *time.Time `json:"payment_date"`
	Amount               string     `json:"amount" binding:"required,money"`
	GatewayTransactionID string     `json:"gateway_transaction_id" binding:"max=200"`
}

func (r RecordPaymentRequest) toApp() appledger.RecordPaymentRequest {
	return appledger.RecordPaymentRequest{
		PaymentID:            r.PaymentID,
		PaymentMethod:        r.PaymentMethod,
		PaymentDate:          r.PaymentDate,
		Amount:               decimalOrZero(r.Amount),
		GatewayTransactionID: r.GatewayTransactionID,
	}
}

// InvoiceListRequest holds the invoice list query
type InvoiceListRequest struct {
	dto.ListRequest
	dto.DateRangeRequest
	Status    string `form:"status"`
	PaymentID string `form:"payment_id" binding:"omitempty,uuid"`
	Overdue   bool   `form:"overdue"`
}

func (r InvoiceListRequest) toApp() appledger.InvoiceListFilter {
	r.Normalize()
	return appledger.InvoiceListFilter{
		Search:    r.Search,
		Status:    r.Status,
		PaymentID: optionalUUID(r.PaymentID),
		FromDate:  r.From,
		ToDate:    r.To,
		Overdue:   r.Overdue,
		Page:      r.Page,
		PageSize:  r.PageSize,
		OrderBy:   r.OrderBy,
		OrderDir:  r.OrderDir,
	}
}

// decimalOrZero parses a value already checked by the money validator
func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func optionalUUID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
