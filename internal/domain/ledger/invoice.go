package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPaymentTermDays is the due date offset when none is supplied
const DefaultPaymentTermDays = 30

// InvoiceStatus is the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusViewed        InvoiceStatus = "viewed"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
	InvoiceStatusDisputed      InvoiceStatus = "disputed"
)

// AllInvoiceStatuses lists every status in display order
var AllInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusPartiallyPaid,
	InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusDisputed,
}

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	for _, st := range AllInvoiceStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true for paid and cancelled invoices
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// CanAcceptPayment returns true if payments may be recorded in this status
func (s InvoiceStatus) CanAcceptPayment() bool {
	return !s.IsTerminal()
}

// CanBecomeOverdue returns true for issued, unsettled invoices
func (s InvoiceStatus) CanBecomeOverdue() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusViewed || s == InvoiceStatusPartiallyPaid
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// DeliveryMethod is the channel an invoice is sent through
type DeliveryMethod string

const (
	DeliveryMethodEmail  DeliveryMethod = "email"
	DeliveryMethodPortal DeliveryMethod = "portal"
)

// IsValid checks if the delivery method is known
func (m DeliveryMethod) IsValid() bool {
	return m == DeliveryMethodEmail || m == DeliveryMethodPortal
}

// DeliveryStatus tracks the outcome of the latest delivery attempt
type DeliveryStatus string

const (
	DeliveryStatusNotSent   DeliveryStatus = "not_sent"
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// IsValid checks if the delivery status is known
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusNotSent, DeliveryStatusPending, DeliveryStatusDelivered, DeliveryStatusFailed:
		return true
	}
	return false
}

// LineItem is one billed line. TotalPrice and TaxAmount are derived by ComputeTotals.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
}

// LineItems is an ordered list of line items stored as JSONB
type LineItems []LineItem

// Value implements driver.Valuer for JSONB storage
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage
func (l *LineItems) Scan(value interface{}) error {
	return scanJSONArray(value, l, func() { *l = LineItems{} })
}

// Validate checks quantities and prices of caller supplied line items
func (l LineItems) Validate() error {
	if len(l) == 0 {
		return shared.NewDomainError(shared.CodeInvalidInput, "at least one line item is required")
	}
	for i, item := range l {
		if item.Description == "" {
			return shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("line item %d: description is required", i+1))
		}
		if !item.Quantity.IsPositive() {
			return shared.NewInvalidAmountError(fmt.Sprintf("line item %d: quantity must be positive", i+1))
		}
		if item.UnitPrice.IsNegative() {
			return shared.NewInvalidAmountError(fmt.Sprintf("line item %d: unit price must be non-negative", i+1))
		}
		if item.TaxRate.IsNegative() || item.TaxRate.GreaterThan(hundred) {
			return shared.NewInvalidAmountError(fmt.Sprintf("line item %d: tax rate must be between 0 and 100", i+1))
		}
	}
	return nil
}

// PaymentReference is one recorded incoming payment against an invoice
type PaymentReference struct {
	ID                   uuid.UUID       `json:"id"`
	PaymentID            string          `json:"payment_id,omitempty"`
	PaymentMethod        string          `json:"payment_method"`
	PaymentDate          time.Time       `json:"payment_date"`
	Amount               decimal.Decimal `json:"amount"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	RecordedBy           uuid.UUID       `json:"recorded_by"`
	RecordedAt           time.Time       `json:"recorded_at"`
}

// PaymentReferences is a slice of PaymentReference stored as JSONB
type PaymentReferences []PaymentReference

// Value implements driver.Valuer for JSONB storage
func (p PaymentReferences) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB storage
func (p *PaymentReferences) Scan(value interface{}) error {
	return scanJSONArray(value, p, func() { *p = PaymentReferences{} })
}

// PaymentReferenceInput is the caller supplied data for RecordPayment
type PaymentReferenceInput struct {
	PaymentID            string
	PaymentMethod        string
	PaymentDate          time.Time
	Amount               decimal.Decimal
	GatewayTransactionID string
}

// Invoice is the billing document issued for exactly one payment
type Invoice struct {
	shared.OrganizationAggregateRoot
	InvoiceNumber     string
	PaymentID         uuid.UUID
	PaymentNumber     string
	Organization      OrganizationSnapshot
	Currency          valueobject.Currency
	LineItems         LineItems
	Subtotal          decimal.Decimal
	TaxAmount         decimal.Decimal
	DiscountAmount    decimal.Decimal
	TotalAmount       decimal.Decimal
	PaidAmount        decimal.Decimal
	PaymentReferences PaymentReferences
	Status            InvoiceStatus
	PaymentTerms      string
	Notes             string
	IssueDate         time.Time
	DueDate           time.Time
	SentAt            *time.Time
	ViewedAt          *time.Time
	PaidAt            *time.Time
	CancelledAt       *time.Time
	CancelReason      string
	DisputedAt        *time.Time
	DisputeReason     string
	DeliveryMethod    DeliveryMethod
	DeliveryStatus    DeliveryStatus
	DeliveryAttempts  int
	DeliveryLocation  string
	LastDeliveryError string
	AuditTrail        AuditTrail
}

// NewInvoiceParams carries the inputs for a new invoice
type NewInvoiceParams struct {
	InvoiceNumber  string
	Payment        *Payment
	Organization   OrganizationSnapshot
	LineItems      LineItems
	DiscountAmount decimal.Decimal
	DueDate        *time.Time
	PaymentTerms   string
	Notes          string
	GeneratedBy    uuid.UUID
}

// NewInvoice creates a draft invoice for a payment with totals computed from its line items
func NewInvoice(p NewInvoiceParams) (*Invoice, error) {
	if p.Payment == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "payment is required")
	}
	if p.InvoiceNumber == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "invoice number cannot be empty")
	}
	if err := p.LineItems.Validate(); err != nil {
		return nil, err
	}
	if p.DiscountAmount.IsNegative() {
		return nil, shared.NewInvalidAmountError("discount must be non-negative")
	}

	priced, totals := ComputeTotals(p.LineItems, p.DiscountAmount)
	if !totals.TotalAmount.IsPositive() {
		return nil, shared.NewInvalidAmountError("invoice total must be positive")
	}

	now := time.Now()
	due := now.AddDate(0, 0, DefaultPaymentTermDays)
	if p.DueDate != nil {
		due = *p.DueDate
	}
	if due.Before(now.Truncate(24 * time.Hour)) {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "due date cannot be before the issue date")
	}
	terms := p.PaymentTerms
	if terms == "" {
		terms = fmt.Sprintf("Net %d", DefaultPaymentTermDays)
	}

	inv := &Invoice{
		OrganizationAggregateRoot: shared.NewOrganizationAggregateRoot(p.Payment.OrganizationID),
		InvoiceNumber:             p.InvoiceNumber,
		PaymentID:                 p.Payment.ID,
		PaymentNumber:             p.Payment.PaymentNumber,
		Organization:              p.Organization,
		Currency:                  p.Payment.Currency,
		LineItems:                 priced,
		Subtotal:                  totals.Subtotal,
		TaxAmount:                 totals.TaxAmount,
		DiscountAmount:            totals.DiscountAmount,
		TotalAmount:               totals.TotalAmount,
		PaidAmount:                decimal.Zero,
		PaymentReferences:         PaymentReferences{},
		Status:                    InvoiceStatusDraft,
		PaymentTerms:              terms,
		Notes:                     p.Notes,
		IssueDate:                 now,
		DueDate:                   due,
		DeliveryStatus:            DeliveryStatusNotSent,
		AuditTrail:                AuditTrail{},
	}
	inv.SetCreatedBy(p.GeneratedBy)
	inv.AuditTrail.append(AuditActionGenerated, p.GeneratedBy, now, "invoice generated for payment "+p.Payment.PaymentNumber, "", string(InvoiceStatusDraft))
	inv.AddDomainEvent(NewInvoiceGeneratedEvent(inv, p.GeneratedBy))

	return inv, nil
}

// Send records a delivery attempt. A draft becomes sent; invoices already
// further along keep their status so a resend never regresses them.
func (i *Invoice) Send(method DeliveryMethod, message string, actor uuid.UUID) error {
	if i.Status.IsTerminal() {
		return shared.NewInvalidStateError("invoice", "send", string(i.Status), string(InvoiceStatusSent))
	}
	if !method.IsValid() {
		return shared.NewDomainError(shared.CodeInvalidInput, "unsupported delivery method: "+string(method))
	}

	now := time.Now()
	old := i.Status
	if i.Status == InvoiceStatusDraft {
		i.Status = InvoiceStatusSent
	}
	i.SentAt = &now
	i.DeliveryAttempts++
	i.DeliveryMethod = method
	i.DeliveryStatus = DeliveryStatusPending
	i.LastDeliveryError = ""
	i.AuditTrail.append(AuditActionSent, actor, now, fmt.Sprintf("attempt %d via %s", i.DeliveryAttempts, method), string(old), string(i.Status))
	i.touch(now)
	i.AddDomainEvent(NewInvoiceSentEvent(i, actor, message))
	return nil
}

// RecordDeliveryResult stores the outcome of the latest delivery attempt
func (i *Invoice) RecordDeliveryResult(status DeliveryStatus, location, detail string, actor uuid.UUID) error {
	if !status.IsValid() || status == DeliveryStatusNotSent {
		return shared.NewDomainError(shared.CodeInvalidInput, "unsupported delivery status: "+string(status))
	}
	if i.DeliveryAttempts == 0 {
		return shared.NewInvalidStateError("invoice", "record delivery", string(i.DeliveryStatus), string(status))
	}

	now := time.Now()
	old := i.DeliveryStatus
	i.DeliveryStatus = status
	if location != "" {
		i.DeliveryLocation = location
	}
	if status == DeliveryStatusFailed {
		i.LastDeliveryError = detail
	} else {
		i.LastDeliveryError = ""
	}
	i.AuditTrail.append(AuditActionDeliveryRecorded, actor, now, detail, string(old), string(status))
	i.touch(now)
	return nil
}

// MarkViewed records that the recipient opened the invoice.
// Viewing an already viewed invoice reports changed=false.
func (i *Invoice) MarkViewed(actor uuid.UUID) (bool, error) {
	if i.Status == InvoiceStatusViewed {
		return false, nil
	}
	if i.Status != InvoiceStatusSent {
		return false, shared.NewInvalidStateError("invoice", "mark viewed", string(i.Status), string(InvoiceStatusViewed))
	}
	now := time.Now()
	i.ViewedAt = &now
	i.changeStatus(InvoiceStatusViewed, AuditActionViewed, actor, now, "")
	return true, nil
}

// RecordPayment appends a payment reference and recomputes paid amount and status.
// Overpayment is accepted; the outstanding amount then goes negative.
func (i *Invoice) RecordPayment(input PaymentReferenceInput, actor uuid.UUID) (*PaymentReference, error) {
	if !input.Amount.IsPositive() {
		return nil, shared.NewInvalidAmountError("payment amount must be positive")
	}
	if !i.Status.CanAcceptPayment() {
		return nil, shared.NewInvalidStateError("invoice", "record payment", string(i.Status), string(InvoiceStatusPaid))
	}

	now := time.Now()
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	ref := PaymentReference{
		ID:                   uuid.New(),
		PaymentID:            input.PaymentID,
		PaymentMethod:        input.PaymentMethod,
		PaymentDate:          paymentDate,
		Amount:               input.Amount,
		GatewayTransactionID: input.GatewayTransactionID,
		RecordedBy:           actor,
		RecordedAt:           now,
	}
	i.PaymentReferences = append(i.PaymentReferences, ref)
	i.PaidAmount = SumReferences(i.PaymentReferences)

	old := i.Status
	// a partial payment always lands in partially_paid; the overdue sweep
	// moves it back to overdue when it is still past due
	if i.PaidAmount.GreaterThanOrEqual(i.TotalAmount) {
		i.Status = InvoiceStatusPaid
		i.PaidAt = &now
	} else {
		i.Status = InvoiceStatusPartiallyPaid
	}

	i.AuditTrail.append(AuditActionPaymentRecorded, actor, now,
		fmt.Sprintf("received %s %s", input.Amount.StringFixed(2), i.Currency), string(old), string(i.Status))
	i.touch(now)
	i.AddDomainEvent(NewInvoicePaymentRecordedEvent(i, ref, old, actor))
	if i.Status == InvoiceStatusPaid {
		i.AddDomainEvent(NewInvoicePaidEvent(i, actor))
	}
	return &ref, nil
}

// Cancel voids the invoice. Paid invoices cannot be cancelled.
func (i *Invoice) Cancel(reason string, actor uuid.UUID) error {
	if i.Status.IsTerminal() {
		return shared.NewInvalidStateError("invoice", "cancel", string(i.Status), string(InvoiceStatusCancelled))
	}
	now := time.Now()
	i.CancelledAt = &now
	i.CancelReason = reason
	i.changeStatus(InvoiceStatusCancelled, AuditActionCancelled, actor, now, reason)
	return nil
}

// Dispute flags the invoice as contested by the organization
func (i *Invoice) Dispute(reason string, actor uuid.UUID) error {
	switch i.Status {
	case InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusPartiallyPaid, InvoiceStatusOverdue:
	default:
		return shared.NewInvalidStateError("invoice", "dispute", string(i.Status), string(InvoiceStatusDisputed))
	}
	if reason == "" {
		return shared.NewDomainError(shared.CodeInvalidInput, "dispute reason is required")
	}
	now := time.Now()
	i.DisputedAt = &now
	i.DisputeReason = reason
	i.changeStatus(InvoiceStatusDisputed, AuditActionDisputed, actor, now, reason)
	return nil
}

// ResolveDispute returns a disputed invoice to sent, or partially_paid when money was received
func (i *Invoice) ResolveDispute(note string, actor uuid.UUID) error {
	next := InvoiceStatusSent
	if i.PaidAmount.IsPositive() {
		next = InvoiceStatusPartiallyPaid
	}
	if i.Status != InvoiceStatusDisputed {
		return shared.NewInvalidStateError("invoice", "resolve dispute", string(i.Status), string(next))
	}
	i.changeStatus(next, AuditActionStatusChanged, actor, time.Now(), note)
	return nil
}

// MarkOverdue moves an issued, unsettled invoice past its due date to overdue.
// It reports changed=false when the invoice is not yet due or not eligible.
func (i *Invoice) MarkOverdue(now time.Time, actor uuid.UUID) bool {
	if !i.Status.CanBecomeOverdue() || DaysOverdue(i.Status, i.DueDate, now) == 0 {
		return false
	}
	i.changeStatus(InvoiceStatusOverdue, AuditActionOverdue, actor, now,
		fmt.Sprintf("%d days past due", DaysOverdue(i.Status, i.DueDate, now)))
	return true
}

func (i *Invoice) changeStatus(next InvoiceStatus, action AuditAction, actor uuid.UUID, now time.Time, details string) {
	old := i.Status
	i.Status = next
	i.AuditTrail.append(action, actor, now, details, string(old), string(next))
	i.touch(now)
	i.AddDomainEvent(NewInvoiceStatusChangedEvent(i, old, actor, details))
}

func (i *Invoice) touch(now time.Time) {
	i.Touch(now)
	i.IncrementVersion()
}

// OutstandingAmount is total minus paid; negative on overpayment
func (i *Invoice) OutstandingAmount() decimal.Decimal {
	return OutstandingAmount(i.TotalAmount, i.PaidAmount)
}

// DaysOverdue returns the whole days past due at now
func (i *Invoice) DaysOverdue(now time.Time) int {
	return DaysOverdue(i.Status, i.DueDate, now)
}

// IsOverdue reports whether the invoice counts as overdue at now: past due
// and neither paid nor cancelled. Drafts and disputed invoices count too,
// though only issued invoices are moved to the overdue status.
func (i *Invoice) IsOverdue(now time.Time) bool {
	return i.DaysOverdue(now) > 0
}

// VerifyIntegrity recomputes derived amounts and checks them against the stored values
func (i *Invoice) VerifyIntegrity() error {
	_, totals := ComputeTotals(i.LineItems, i.DiscountAmount)
	if !totals.Subtotal.Equal(i.Subtotal) || !totals.TaxAmount.Equal(i.TaxAmount) || !totals.TotalAmount.Equal(i.TotalAmount) {
		return shared.NewIntegrityError(fmt.Sprintf("invoice %s: stored totals do not match line items (stored %s, computed %s)",
			i.InvoiceNumber, i.TotalAmount.String(), totals.TotalAmount.String()))
	}
	if totals.TotalAmount.IsNegative() {
		return shared.NewIntegrityError(fmt.Sprintf("invoice %s: computed total is negative", i.InvoiceNumber))
	}
	if paid := SumReferences(i.PaymentReferences); !paid.Equal(i.PaidAmount) {
		return shared.NewIntegrityError(fmt.Sprintf("invoice %s: paid amount %s does not match payment references %s",
			i.InvoiceNumber, i.PaidAmount.String(), paid.String()))
	}
	fullyPaid := i.PaidAmount.GreaterThanOrEqual(i.TotalAmount)
	if i.Status == InvoiceStatusPaid && !fullyPaid {
		return shared.NewIntegrityError(fmt.Sprintf("invoice %s: status is paid but outstanding is %s",
			i.InvoiceNumber, i.OutstandingAmount().String()))
	}
	if i.Status != InvoiceStatusPaid && i.Status != InvoiceStatusCancelled && fullyPaid {
		return shared.NewIntegrityError(fmt.Sprintf("invoice %s: fully paid but status is %s", i.InvoiceNumber, i.Status))
	}
	if i.Status == InvoiceStatusPartiallyPaid && !i.PaidAmount.IsPositive() {
		return shared.NewIntegrityError(fmt.Sprintf("invoice %s: partially paid without payments", i.InvoiceNumber))
	}
	return nil
}

// GetTotalAmountMoney returns the total as Money
func (i *Invoice) GetTotalAmountMoney() valueobject.Money {
	return valueobject.MustMoney(i.TotalAmount, i.Currency)
}

// GetOutstandingMoney returns the outstanding amount as Money
func (i *Invoice) GetOutstandingMoney() valueobject.Money {
	return valueobject.MustMoney(i.OutstandingAmount(), i.Currency)
}
