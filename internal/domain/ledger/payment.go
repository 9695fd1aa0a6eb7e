package ledger

import (
	"strings"
	"time"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the settlement status of a CSR payment
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// settlementTransitions lists the allowed next statuses for every non-terminal status.
// pending -> completed covers settlement driven directly by a paid invoice.
var settlementTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusRefunded, PaymentStatusCancelled,
	},
	PaymentStatusProcessing: {
		PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusRefunded, PaymentStatusCancelled,
	},
}

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if no further settlement transition is allowed
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed ||
		s == PaymentStatusRefunded || s == PaymentStatusCancelled
}

// CanTransitionTo reports whether next is reachable from s
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range settlementTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// ApprovalStatus is the approval workflow status of a CSR payment
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending_approval"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusEscalated ApprovalStatus = "escalated"
)

var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalStatusPending:   {ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusEscalated},
	ApprovalStatusEscalated: {ApprovalStatusApproved, ApprovalStatusRejected},
}

// IsValid checks if the status is a valid ApprovalStatus
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusEscalated:
		return true
	}
	return false
}

// IsTerminal returns true once an approval decision has been made
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// CanTransitionTo reports whether next is reachable from s
func (s ApprovalStatus) CanTransitionTo(next ApprovalStatus) bool {
	for _, allowed := range approvalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ApprovalStatus) String() string {
	return string(s)
}

// PaymentType describes how a CSR disbursement is structured
type PaymentType string

const (
	PaymentTypePerCampaign  PaymentType = "per_campaign"
	PaymentTypePool         PaymentType = "pool"
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeOneTime      PaymentType = "one_time"
)

// IsValid checks if the payment type is known
func (t PaymentType) IsValid() bool {
	switch t {
	case PaymentTypePerCampaign, PaymentTypePool, PaymentTypeSubscription, PaymentTypeOneTime:
		return true
	}
	return false
}

// Label returns a human readable label used in invoice line items
func (t PaymentType) Label() string {
	return strings.ReplaceAll(string(t), "_", " ")
}

// FinanceTeam tracks the invoicing linkage of a payment
type FinanceTeam struct {
	InvoiceGenerated bool       `json:"invoice_generated"`
	InvoiceID        *uuid.UUID `json:"invoice_id,omitempty"`
	InvoiceNumber    string     `json:"invoice_number,omitempty"`
	LinkedAt         *time.Time `json:"linked_at,omitempty"`
}

// Payment is a CSR disbursement from a funding organization toward a campaign or pool
type Payment struct {
	shared.OrganizationAggregateRoot
	PaymentNumber   string
	Amount          decimal.Decimal
	Currency        valueobject.Currency
	PaymentType     PaymentType
	PaymentMethod   string
	BudgetCategory  string
	CampaignID      *uuid.UUID
	CampaignName    string
	Description     string
	Status          PaymentStatus
	ApprovalStatus  ApprovalStatus
	ApprovedBy      *uuid.UUID
	ApprovedAt      *time.Time
	ApprovalNotes   string
	RejectionReason string
	EscalatedAt     *time.Time
	EscalationNote  string
	FailureReason   string
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
	FinanceTeam     FinanceTeam
	AuditTrail      AuditTrail
}

// NewPaymentParams carries the inputs for a new payment
type NewPaymentParams struct {
	OrganizationID uuid.UUID
	PaymentNumber  string
	Amount         decimal.Decimal
	Currency       valueobject.Currency
	PaymentType    PaymentType
	PaymentMethod  string
	BudgetCategory string
	CampaignID     *uuid.UUID
	CampaignName   string
	Description    string
	CreatedBy      uuid.UUID
}

// NewPayment creates a pending payment awaiting approval
func NewPayment(p NewPaymentParams) (*Payment, error) {
	if p.OrganizationID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "organization is required")
	}
	if p.PaymentNumber == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "payment number cannot be empty")
	}
	if p.Amount.IsNegative() {
		return nil, shared.NewInvalidAmountError("payment amount must be non-negative")
	}
	if p.Currency == "" {
		p.Currency = valueobject.DefaultCurrency
	}
	if !p.Currency.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "unsupported currency: "+string(p.Currency))
	}
	if !p.PaymentType.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "unsupported payment type: "+string(p.PaymentType))
	}

	payment := &Payment{
		OrganizationAggregateRoot: shared.NewOrganizationAggregateRoot(p.OrganizationID),
		PaymentNumber:             p.PaymentNumber,
		Amount:                    p.Amount,
		Currency:                  p.Currency,
		PaymentType:               p.PaymentType,
		PaymentMethod:             p.PaymentMethod,
		BudgetCategory:            p.BudgetCategory,
		CampaignID:                p.CampaignID,
		CampaignName:              p.CampaignName,
		Description:               p.Description,
		Status:                    PaymentStatusPending,
		ApprovalStatus:            ApprovalStatusPending,
		AuditTrail:                AuditTrail{},
	}
	payment.SetCreatedBy(p.CreatedBy)
	payment.AuditTrail.append(AuditActionCreated, p.CreatedBy, payment.CreatedAt, "payment created", "", string(PaymentStatusPending))
	payment.AddDomainEvent(NewPaymentCreatedEvent(payment, p.CreatedBy))

	return payment, nil
}

// Approve moves the approval workflow to approved
func (p *Payment) Approve(actor uuid.UUID, notes string) error {
	if err := p.transitionApproval("approve", ApprovalStatusApproved); err != nil {
		return err
	}
	now := time.Now()
	old := p.ApprovalStatus
	p.ApprovalStatus = ApprovalStatusApproved
	p.ApprovedBy = &actor
	p.ApprovedAt = &now
	p.ApprovalNotes = notes
	p.recordApproval(AuditActionApproved, actor, now, notes, old)
	return nil
}

// Reject moves the approval workflow to rejected
func (p *Payment) Reject(actor uuid.UUID, reason string) error {
	if err := p.transitionApproval("reject", ApprovalStatusRejected); err != nil {
		return err
	}
	now := time.Now()
	old := p.ApprovalStatus
	p.ApprovalStatus = ApprovalStatusRejected
	p.RejectionReason = reason
	p.recordApproval(AuditActionRejected, actor, now, reason, old)
	return nil
}

// Escalate hands the approval decision to a higher authority
func (p *Payment) Escalate(actor uuid.UUID, note string) error {
	if err := p.transitionApproval("escalate", ApprovalStatusEscalated); err != nil {
		return err
	}
	now := time.Now()
	old := p.ApprovalStatus
	p.ApprovalStatus = ApprovalStatusEscalated
	p.EscalatedAt = &now
	p.EscalationNote = note
	p.recordApproval(AuditActionEscalated, actor, now, note, old)
	return nil
}

func (p *Payment) transitionApproval(action string, next ApprovalStatus) error {
	if !p.ApprovalStatus.CanTransitionTo(next) {
		return shared.NewInvalidStateError("payment", action, string(p.ApprovalStatus), string(next))
	}
	return nil
}

func (p *Payment) recordApproval(action AuditAction, actor uuid.UUID, now time.Time, details string, old ApprovalStatus) {
	p.AuditTrail.append(action, actor, now, details, string(old), string(p.ApprovalStatus))
	p.Touch(now)
	p.IncrementVersion()
	p.AddDomainEvent(NewPaymentApprovalChangedEvent(p, old, actor, details))
}

// MarkProcessing moves a pending payment into processing
func (p *Payment) MarkProcessing(actor uuid.UUID) error {
	if err := p.transitionStatus("mark processing", PaymentStatusProcessing); err != nil {
		return err
	}
	now := time.Now()
	p.ProcessedAt = &now
	p.applyStatus(PaymentStatusProcessing, actor, now, "")
	return nil
}

// MarkCompleted settles the payment. Completing an already completed
// payment is a no-op and reports changed=false.
func (p *Payment) MarkCompleted(actor uuid.UUID) (bool, error) {
	if p.Status == PaymentStatusCompleted {
		return false, nil
	}
	if err := p.transitionStatus("mark completed", PaymentStatusCompleted); err != nil {
		return false, err
	}
	now := time.Now()
	p.CompletedAt = &now
	p.applyStatus(PaymentStatusCompleted, actor, now, "")
	return true, nil
}

// MarkFailed records a settlement failure
func (p *Payment) MarkFailed(actor uuid.UUID, reason string) error {
	if err := p.transitionStatus("mark failed", PaymentStatusFailed); err != nil {
		return err
	}
	p.FailureReason = reason
	p.applyStatus(PaymentStatusFailed, actor, time.Now(), reason)
	return nil
}

// Refund returns the funds before settlement completes
func (p *Payment) Refund(actor uuid.UUID, reason string) error {
	if err := p.transitionStatus("refund", PaymentStatusRefunded); err != nil {
		return err
	}
	p.applyStatus(PaymentStatusRefunded, actor, time.Now(), reason)
	return nil
}

// Cancel withdraws the payment before settlement completes
func (p *Payment) Cancel(actor uuid.UUID, reason string) error {
	if err := p.transitionStatus("cancel", PaymentStatusCancelled); err != nil {
		return err
	}
	p.applyStatus(PaymentStatusCancelled, actor, time.Now(), reason)
	return nil
}

func (p *Payment) transitionStatus(action string, next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return shared.NewInvalidStateError("payment", action, string(p.Status), string(next))
	}
	return nil
}

func (p *Payment) applyStatus(next PaymentStatus, actor uuid.UUID, now time.Time, details string) {
	old := p.Status
	p.Status = next
	p.AuditTrail.append(AuditActionStatusChanged, actor, now, details, string(old), string(next))
	p.Touch(now)
	p.IncrementVersion()
	if next == PaymentStatusCompleted {
		p.AddDomainEvent(NewPaymentCompletedEvent(p, actor))
		return
	}
	p.AddDomainEvent(NewPaymentStatusChangedEvent(p, old, actor, details))
}

// CanGenerateInvoice returns nil when an invoice may be issued for this payment
func (p *Payment) CanGenerateInvoice() error {
	if p.ApprovalStatus != ApprovalStatusApproved {
		return shared.NewInvalidStateError("payment", "generate invoice", string(p.ApprovalStatus), string(ApprovalStatusApproved))
	}
	if p.Status == PaymentStatusFailed || p.Status == PaymentStatusRefunded || p.Status == PaymentStatusCancelled {
		return shared.NewInvalidStateError("payment", "generate invoice", string(p.Status), "invoiced")
	}
	if !p.Amount.IsPositive() {
		return shared.NewInvalidAmountError("cannot invoice a payment with zero amount")
	}
	return nil
}

// LinkInvoice records the invoice issued for this payment
func (p *Payment) LinkInvoice(invoiceID uuid.UUID, invoiceNumber string, actor uuid.UUID) {
	now := time.Now()
	previous := ""
	if p.FinanceTeam.InvoiceID != nil {
		previous = p.FinanceTeam.InvoiceID.String()
	}
	p.FinanceTeam = FinanceTeam{
		InvoiceGenerated: true,
		InvoiceID:        &invoiceID,
		InvoiceNumber:    invoiceNumber,
		LinkedAt:         &now,
	}
	p.AuditTrail.append(AuditActionInvoiceLinked, actor, now, invoiceNumber, previous, invoiceID.String())
	p.Touch(now)
	p.IncrementVersion()
}

// IsLinkedTo reports whether the payment points at the given invoice
func (p *Payment) IsLinkedTo(invoiceID uuid.UUID) bool {
	return p.FinanceTeam.InvoiceGenerated && p.FinanceTeam.InvoiceID != nil && *p.FinanceTeam.InvoiceID == invoiceID
}

// GetAmountMoney returns the amount as Money
func (p *Payment) GetAmountMoney() valueobject.Money {
	return valueobject.MustMoney(p.Amount, p.Currency)
}
