package models

import (
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Index names referenced when translating unique violations
const (
	IndexInvoiceNumber        = "idx_invoices_invoice_number"
	IndexInvoiceActivePayment = "idx_invoices_active_payment"
	IndexPaymentNumber        = "idx_payments_payment_number"
)

// OrganizationModel is the persistence model for funding organizations
type OrganizationModel struct {
	AggregateModel
	Name      string                                    `gorm:"type:varchar(200);not null"`
	LegalName string                                    `gorm:"type:varchar(300)"`
	Address   datatypes.JSONType[ledger.Address]        `gorm:"type:jsonb"`
	Contact   datatypes.JSONType[ledger.Contact]        `gorm:"type:jsonb"`
	TaxIDs    datatypes.JSONType[ledger.TaxIdentifiers] `gorm:"column:tax_ids;type:jsonb"`
	Active    bool                                      `gorm:"not null;default:true;index"`
}

// TableName returns the table name for GORM
func (OrganizationModel) TableName() string {
	return "organizations"
}

// OrganizationModelFromDomain maps a domain Organization
func OrganizationModelFromDomain(o *ledger.Organization) *OrganizationModel {
	m := &OrganizationModel{
		Name:      o.Name,
		LegalName: o.LegalName,
		Address:   datatypes.NewJSONType(o.Address),
		Contact:   datatypes.NewJSONType(o.Contact),
		TaxIDs:    datatypes.NewJSONType(o.TaxIDs),
		Active:    o.Active,
	}
	m.FromDomainAggregateRoot(o.BaseAggregateRoot)
	return m
}

// ToDomain converts the model to a domain Organization
func (m *OrganizationModel) ToDomain() *ledger.Organization {
	return &ledger.Organization{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Name:              m.Name,
		LegalName:         m.LegalName,
		Address:           m.Address.Data(),
		Contact:           m.Contact.Data(),
		TaxIDs:            m.TaxIDs.Data(),
		Active:            m.Active,
	}
}

// PaymentModel is the persistence model for CSR payments.
// The finance team linkage is flattened into invoice_* columns so the
// reconciliation queries can join on it.
type PaymentModel struct {
	OrganizationAggregateModel
	PaymentNumber    string                `gorm:"type:varchar(50);not null;uniqueIndex:idx_payments_payment_number"`
	Amount           decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	Currency         valueobject.Currency  `gorm:"type:varchar(3);not null"`
	PaymentType      ledger.PaymentType    `gorm:"type:varchar(30);not null"`
	PaymentMethod    string                `gorm:"type:varchar(50)"`
	BudgetCategory   string                `gorm:"type:varchar(100)"`
	CampaignID       *uuid.UUID            `gorm:"type:uuid;index"`
	CampaignName     string                `gorm:"type:varchar(200)"`
	Description      string                `gorm:"type:text"`
	Status           ledger.PaymentStatus  `gorm:"type:varchar(20);not null;index"`
	ApprovalStatus   ledger.ApprovalStatus `gorm:"type:varchar(20);not null;index"`
	ApprovedBy       *uuid.UUID            `gorm:"type:uuid"`
	ApprovedAt       *time.Time
	ApprovalNotes    string `gorm:"type:text"`
	RejectionReason  string `gorm:"type:text"`
	EscalatedAt      *time.Time
	EscalationNote   string `gorm:"type:text"`
	FailureReason    string `gorm:"type:text"`
	ProcessedAt      *time.Time
	CompletedAt      *time.Time
	InvoiceGenerated bool       `gorm:"not null;default:false"`
	InvoiceID        *uuid.UUID `gorm:"type:uuid;index"`
	InvoiceNumber    string     `gorm:"type:varchar(20)"`
	InvoiceLinkedAt  *time.Time
	AuditTrail       ledger.AuditTrail `gorm:"type:jsonb;not null"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// PaymentModelFromDomain maps a domain Payment
func PaymentModelFromDomain(p *ledger.Payment) *PaymentModel {
	m := &PaymentModel{
		PaymentNumber:    p.PaymentNumber,
		Amount:           p.Amount,
		Currency:         p.Currency,
		PaymentType:      p.PaymentType,
		PaymentMethod:    p.PaymentMethod,
		BudgetCategory:   p.BudgetCategory,
		CampaignID:       p.CampaignID,
		CampaignName:     p.CampaignName,
		Description:      p.Description,
		Status:           p.Status,
		ApprovalStatus:   p.ApprovalStatus,
		ApprovedBy:       p.ApprovedBy,
		ApprovedAt:       p.ApprovedAt,
		ApprovalNotes:    p.ApprovalNotes,
		RejectionReason:  p.RejectionReason,
		EscalatedAt:      p.EscalatedAt,
		EscalationNote:   p.EscalationNote,
		FailureReason:    p.FailureReason,
		ProcessedAt:      p.ProcessedAt,
		CompletedAt:      p.CompletedAt,
		InvoiceGenerated: p.FinanceTeam.InvoiceGenerated,
		InvoiceID:        p.FinanceTeam.InvoiceID,
		InvoiceNumber:    p.FinanceTeam.InvoiceNumber,
		InvoiceLinkedAt:  p.FinanceTeam.LinkedAt,
		AuditTrail:       p.AuditTrail,
	}
	m.FromDomainOrganizationAggregateRoot(p.OrganizationAggregateRoot)
	return m
}

// ToDomain converts the model to a domain Payment
func (m *PaymentModel) ToDomain() *ledger.Payment {
	return &ledger.Payment{
		OrganizationAggregateRoot: m.ToDomainOrganizationAggregateRoot(),
		PaymentNumber:             m.PaymentNumber,
		Amount:                    m.Amount,
		Currency:                  m.Currency,
		PaymentType:               m.PaymentType,
		PaymentMethod:             m.PaymentMethod,
		BudgetCategory:            m.BudgetCategory,
		CampaignID:                m.CampaignID,
		CampaignName:              m.CampaignName,
		Description:               m.Description,
		Status:                    m.Status,
		ApprovalStatus:            m.ApprovalStatus,
		ApprovedBy:                m.ApprovedBy,
		ApprovedAt:                m.ApprovedAt,
		ApprovalNotes:             m.ApprovalNotes,
		RejectionReason:           m.RejectionReason,
		EscalatedAt:               m.EscalatedAt,
		EscalationNote:            m.EscalationNote,
		FailureReason:             m.FailureReason,
		ProcessedAt:               m.ProcessedAt,
		CompletedAt:               m.CompletedAt,
		FinanceTeam: ledger.FinanceTeam{
			InvoiceGenerated: m.InvoiceGenerated,
			InvoiceID:        m.InvoiceID,
			InvoiceNumber:    m.InvoiceNumber,
			LinkedAt:         m.InvoiceLinkedAt,
		},
		AuditTrail: m.AuditTrail,
	}
}

// InvoiceModel is the persistence model for invoices. The partial unique index
// on payment_id allows at most one non-cancelled invoice per payment.
type InvoiceModel struct {
	OrganizationAggregateModel
	InvoiceNumber     string                                          `gorm:"type:varchar(20);not null;uniqueIndex:idx_invoices_invoice_number"`
	PaymentID         uuid.UUID                                       `gorm:"type:uuid;not null;uniqueIndex:idx_invoices_active_payment,where:status <> 'cancelled'"`
	PaymentNumber     string                                          `gorm:"type:varchar(50)"`
	Organization      datatypes.JSONType[ledger.OrganizationSnapshot] `gorm:"column:organization_snapshot;type:jsonb;not null"`
	Currency          valueobject.Currency                            `gorm:"type:varchar(3);not null"`
	LineItems         ledger.LineItems                                `gorm:"type:jsonb;not null"`
	Subtotal          decimal.Decimal                                 `gorm:"type:decimal(18,2);not null"`
	TaxAmount         decimal.Decimal                                 `gorm:"type:decimal(18,2);not null"`
	DiscountAmount    decimal.Decimal                                 `gorm:"type:decimal(18,2);not null"`
	TotalAmount       decimal.Decimal                                 `gorm:"type:decimal(18,2);not null"`
	PaidAmount        decimal.Decimal                                 `gorm:"type:decimal(18,2);not null"`
	PaymentReferences ledger.PaymentReferences                        `gorm:"type:jsonb;not null"`
	Status            ledger.InvoiceStatus                            `gorm:"type:varchar(20);not null;index"`
	PaymentTerms      string                                          `gorm:"type:varchar(100)"`
	Notes             string                                          `gorm:"type:text"`
	IssueDate         time.Time                                       `gorm:"not null;index"`
	DueDate           time.Time                                       `gorm:"not null;index"`
	SentAt            *time.Time
	ViewedAt          *time.Time
	PaidAt            *time.Time
	CancelledAt       *time.Time
	CancelReason      string `gorm:"type:text"`
	DisputedAt        *time.Time
	DisputeReason     string                `gorm:"type:text"`
	DeliveryMethod    ledger.DeliveryMethod `gorm:"type:varchar(20)"`
	DeliveryStatus    ledger.DeliveryStatus `gorm:"type:varchar(20);not null"`
	DeliveryAttempts  int                   `gorm:"not null;default:0"`
	DeliveryLocation  string                `gorm:"type:text"`
	LastDeliveryError string                `gorm:"type:text"`
	AuditTrail        ledger.AuditTrail     `gorm:"type:jsonb;not null"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// InvoiceModelFromDomain maps a domain Invoice
func InvoiceModelFromDomain(i *ledger.Invoice) *InvoiceModel {
	m := &InvoiceModel{
		InvoiceNumber:     i.InvoiceNumber,
		PaymentID:         i.PaymentID,
		PaymentNumber:     i.PaymentNumber,
		Organization:      datatypes.NewJSONType(i.Organization),
		Currency:          i.Currency,
		LineItems:         i.LineItems,
		Subtotal:          i.Subtotal,
		TaxAmount:         i.TaxAmount,
		DiscountAmount:    i.DiscountAmount,
		TotalAmount:       i.TotalAmount,
		PaidAmount:        i.PaidAmount,
		PaymentReferences: i.PaymentReferences,
		Status:            i.Status,
		PaymentTerms:      i.PaymentTerms,
		Notes:             i.Notes,
		IssueDate:         i.IssueDate,
		DueDate:           i.DueDate,
		SentAt:            i.SentAt,
		ViewedAt:          i.ViewedAt,
		PaidAt:            i.PaidAt,
		CancelledAt:       i.CancelledAt,
		CancelReason:      i.CancelReason,
		DisputedAt:        i.DisputedAt,
		DisputeReason:     i.DisputeReason,
		DeliveryMethod:    i.DeliveryMethod,
		DeliveryStatus:    i.DeliveryStatus,
		DeliveryAttempts:  i.DeliveryAttempts,
		DeliveryLocation:  i.DeliveryLocation,
		LastDeliveryError: i.LastDeliveryError,
		AuditTrail:        i.AuditTrail,
	}
	m.FromDomainOrganizationAggregateRoot(i.OrganizationAggregateRoot)
	return m
}

// ToDomain converts the model to a domain Invoice
func (m *InvoiceModel) ToDomain() *ledger.Invoice {
	return &ledger.Invoice{
		OrganizationAggregateRoot: m.ToDomainOrganizationAggregateRoot(),
		InvoiceNumber:             m.InvoiceNumber,
		PaymentID:                 m.PaymentID,
		PaymentNumber:             m.PaymentNumber,
		Organization:              m.Organization.Data(),
		Currency:                  m.Currency,
		LineItems:                 m.LineItems,
		Subtotal:                  m.Subtotal,
		TaxAmount:                 m.TaxAmount,
		DiscountAmount:            m.DiscountAmount,
		TotalAmount:               m.TotalAmount,
		PaidAmount:                m.PaidAmount,
		PaymentReferences:         m.PaymentReferences,
		Status:                    m.Status,
		PaymentTerms:              m.PaymentTerms,
		Notes:                     m.Notes,
		IssueDate:                 m.IssueDate,
		DueDate:                   m.DueDate,
		SentAt:                    m.SentAt,
		ViewedAt:                  m.ViewedAt,
		PaidAt:                    m.PaidAt,
		CancelledAt:               m.CancelledAt,
		CancelReason:              m.CancelReason,
		DisputedAt:                m.DisputedAt,
		DisputeReason:             m.DisputeReason,
		DeliveryMethod:            m.DeliveryMethod,
		DeliveryStatus:            m.DeliveryStatus,
		DeliveryAttempts:          m.DeliveryAttempts,
		DeliveryLocation:          m.DeliveryLocation,
		LastDeliveryError:         m.LastDeliveryError,
		AuditTrail:                m.AuditTrail,
	}
}

// LedgerModels lists the models migrated by AutoMigrate in tests
func LedgerModels() []interface{} {
	return []interface{}{&OrganizationModel{}, &PaymentModel{}, &InvoiceModel{}}
}
