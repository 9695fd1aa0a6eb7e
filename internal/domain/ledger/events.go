package ledger

import (
	"time"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregate type names
const (
	AggregateTypePayment = "Payment"
	AggregateTypeInvoice = "Invoice"
)

// Event type names
const (
	EventTypePaymentCreated         = "PaymentCreated"
	EventTypePaymentApprovalChanged = "PaymentApprovalChanged"
	EventTypePaymentStatusChanged   = "PaymentStatusChanged"
	EventTypePaymentCompleted       = "PaymentCompleted"
	EventTypeInvoiceGenerated       = "InvoiceGenerated"
	EventTypeInvoiceSent            = "InvoiceSent"
	EventTypeInvoicePaymentRecorded = "InvoicePaymentRecorded"
	EventTypeInvoicePaid            = "InvoicePaid"
	EventTypeInvoiceStatusChanged   = "InvoiceStatusChanged"
)

// PaymentCreatedEvent is raised when a payment is registered
type PaymentCreatedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentNumber string          `json:"payment_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentType   PaymentType     `json:"payment_type"`
}

// EventType returns the event type name
func (e *PaymentCreatedEvent) EventType() string {
	return EventTypePaymentCreated
}

// NewPaymentCreatedEvent creates a new PaymentCreatedEvent
func NewPaymentCreatedEvent(p *Payment, actor uuid.UUID) *PaymentCreatedEvent {
	return &PaymentCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentCreated, AggregateTypePayment, p.ID, p.OrganizationID, actor),
		PaymentID:       p.ID,
		PaymentNumber:   p.PaymentNumber,
		Amount:          p.Amount,
		Currency:        string(p.Currency),
		PaymentType:     p.PaymentType,
	}
}

// PaymentApprovalChangedEvent is raised on approve, reject and escalate
type PaymentApprovalChangedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID      `json:"payment_id"`
	PaymentNumber string         `json:"payment_number"`
	OldStatus     ApprovalStatus `json:"old_status"`
	NewStatus     ApprovalStatus `json:"new_status"`
	Notes         string         `json:"notes,omitempty"`
}

// EventType returns the event type name
func (e *PaymentApprovalChangedEvent) EventType() string {
	return EventTypePaymentApprovalChanged
}

// NewPaymentApprovalChangedEvent creates a new PaymentApprovalChangedEvent
func NewPaymentApprovalChangedEvent(p *Payment, old ApprovalStatus, actor uuid.UUID, notes string) *PaymentApprovalChangedEvent {
	return &PaymentApprovalChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentApprovalChanged, AggregateTypePayment, p.ID, p.OrganizationID, actor),
		PaymentID:       p.ID,
		PaymentNumber:   p.PaymentNumber,
		OldStatus:       old,
		NewStatus:       p.ApprovalStatus,
		Notes:           notes,
	}
}

// PaymentStatusChangedEvent is raised on settlement transitions other than completion
type PaymentStatusChangedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID     `json:"payment_id"`
	PaymentNumber string        `json:"payment_number"`
	OldStatus     PaymentStatus `json:"old_status"`
	NewStatus     PaymentStatus `json:"new_status"`
	Reason        string        `json:"reason,omitempty"`
}

// EventType returns the event type name
func (e *PaymentStatusChangedEvent) EventType() string {
	return EventTypePaymentStatusChanged
}

// NewPaymentStatusChangedEvent creates a new PaymentStatusChangedEvent
func NewPaymentStatusChangedEvent(p *Payment, old PaymentStatus, actor uuid.UUID, reason string) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentStatusChanged, AggregateTypePayment, p.ID, p.OrganizationID, actor),
		PaymentID:       p.ID,
		PaymentNumber:   p.PaymentNumber,
		OldStatus:       old,
		NewStatus:       p.Status,
		Reason:          reason,
	}
}

// PaymentCompletedEvent is raised when a payment settles
type PaymentCompletedEvent struct {
	shared.BaseDomainEvent
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentNumber string          `json:"payment_number"`
	Amount        decimal.Decimal `json:"amount"`
	InvoiceID     *uuid.UUID      `json:"invoice_id,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// EventType returns the event type name
func (e *PaymentCompletedEvent) EventType() string {
	return EventTypePaymentCompleted
}

// NewPaymentCompletedEvent creates a new PaymentCompletedEvent
func NewPaymentCompletedEvent(p *Payment, actor uuid.UUID) *PaymentCompletedEvent {
	completedAt := time.Now()
	if p.CompletedAt != nil {
		completedAt = *p.CompletedAt
	}
	return &PaymentCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentCompleted, AggregateTypePayment, p.ID, p.OrganizationID, actor),
		PaymentID:       p.ID,
		PaymentNumber:   p.PaymentNumber,
		Amount:          p.Amount,
		InvoiceID:       p.FinanceTeam.InvoiceID,
		CompletedAt:     completedAt,
	}
}

// InvoiceGeneratedEvent is raised when a draft invoice is issued for a payment
type InvoiceGeneratedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	DueDate       time.Time       `json:"due_date"`
}

// EventType returns the event type name
func (e *InvoiceGeneratedEvent) EventType() string {
	return EventTypeInvoiceGenerated
}

// NewInvoiceGeneratedEvent creates a new InvoiceGeneratedEvent
func NewInvoiceGeneratedEvent(i *Invoice, actor uuid.UUID) *InvoiceGeneratedEvent {
	return &InvoiceGeneratedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceGenerated, AggregateTypeInvoice, i.ID, i.OrganizationID, actor),
		InvoiceID:       i.ID,
		InvoiceNumber:   i.InvoiceNumber,
		PaymentID:       i.PaymentID,
		TotalAmount:     i.TotalAmount,
		Currency:        string(i.Currency),
		DueDate:         i.DueDate,
	}
}

// InvoiceSentEvent is raised for every delivery attempt
type InvoiceSentEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID      `json:"invoice_id"`
	InvoiceNumber string         `json:"invoice_number"`
	Method        DeliveryMethod `json:"method"`
	Message       string         `json:"message,omitempty"`
	Attempt       int            `json:"attempt"`
	Recipient     string         `json:"recipient,omitempty"`
}

// EventType returns the event type name
func (e *InvoiceSentEvent) EventType() string {
	return EventTypeInvoiceSent
}

// NewInvoiceSentEvent creates a new InvoiceSentEvent
func NewInvoiceSentEvent(i *Invoice, actor uuid.UUID, message string) *InvoiceSentEvent {
	return &InvoiceSentEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceSent, AggregateTypeInvoice, i.ID, i.OrganizationID, actor),
		InvoiceID:       i.ID,
		InvoiceNumber:   i.InvoiceNumber,
		Method:          i.DeliveryMethod,
		Message:         message,
		Attempt:         i.DeliveryAttempts,
		Recipient:       i.Organization.Contact.Email,
	}
}

// InvoicePaymentRecordedEvent is raised when money is received against an invoice
type InvoicePaymentRecordedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID        `json:"invoice_id"`
	InvoiceNumber string           `json:"invoice_number"`
	Reference     PaymentReference `json:"reference"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	Outstanding   decimal.Decimal  `json:"outstanding"`
	OldStatus     InvoiceStatus    `json:"old_status"`
	NewStatus     InvoiceStatus    `json:"new_status"`
}

// EventType returns the event type name
func (e *InvoicePaymentRecordedEvent) EventType() string {
	return EventTypeInvoicePaymentRecorded
}

// NewInvoicePaymentRecordedEvent creates a new InvoicePaymentRecordedEvent
func NewInvoicePaymentRecordedEvent(i *Invoice, ref PaymentReference, old InvoiceStatus, actor uuid.UUID) *InvoicePaymentRecordedEvent {
	return &InvoicePaymentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoicePaymentRecorded, AggregateTypeInvoice, i.ID, i.OrganizationID, actor),
		InvoiceID:       i.ID,
		InvoiceNumber:   i.InvoiceNumber,
		Reference:       ref,
		PaidAmount:      i.PaidAmount,
		Outstanding:     i.OutstandingAmount(),
		OldStatus:       old,
		NewStatus:       i.Status,
	}
}

// InvoicePaidEvent is raised when an invoice becomes fully paid.
// Consumers settle the linked payment.
type InvoicePaidEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaidAt        time.Time       `json:"paid_at"`
}

// EventType returns the event type name
func (e *InvoicePaidEvent) EventType() string {
	return EventTypeInvoicePaid
}

// NewInvoicePaidEvent creates a new InvoicePaidEvent
func NewInvoicePaidEvent(i *Invoice, actor uuid.UUID) *InvoicePaidEvent {
	paidAt := time.Now()
	if i.PaidAt != nil {
		paidAt = *i.PaidAt
	}
	return &InvoicePaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoicePaid, AggregateTypeInvoice, i.ID, i.OrganizationID, actor),
		InvoiceID:       i.ID,
		InvoiceNumber:   i.InvoiceNumber,
		PaymentID:       i.PaymentID,
		TotalAmount:     i.TotalAmount,
		PaidAmount:      i.PaidAmount,
		PaidAt:          paidAt,
	}
}

// InvoiceStatusChangedEvent is raised on viewed, cancelled, disputed and overdue transitions
type InvoiceStatusChangedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID     `json:"invoice_id"`
	InvoiceNumber string        `json:"invoice_number"`
	PaymentID     uuid.UUID     `json:"payment_id"`
	OldStatus     InvoiceStatus `json:"old_status"`
	NewStatus     InvoiceStatus `json:"new_status"`
	Reason        string        `json:"reason,omitempty"`
}

// EventType returns the event type name
func (e *InvoiceStatusChangedEvent) EventType() string {
	return EventTypeInvoiceStatusChanged
}

// NewInvoiceStatusChangedEvent creates a new InvoiceStatusChangedEvent
func NewInvoiceStatusChangedEvent(i *Invoice, old InvoiceStatus, actor uuid.UUID, reason string) *InvoiceStatusChangedEvent {
	return &InvoiceStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceStatusChanged, AggregateTypeInvoice, i.ID, i.OrganizationID, actor),
		InvoiceID:       i.ID,
		InvoiceNumber:   i.InvoiceNumber,
		PaymentID:       i.PaymentID,
		OldStatus:       old,
		NewStatus:       i.Status,
		Reason:          reason,
	}
}
