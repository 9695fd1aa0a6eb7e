package ledger

import (
	"context"
	"time"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// PaymentFilter defines filtering options for payment queries
type PaymentFilter struct {
	shared.Filter
	Status         *PaymentStatus
	ApprovalStatus *ApprovalStatus
	PaymentType    *PaymentType
	CampaignID     *uuid.UUID
	FromDate       *time.Time
	ToDate         *time.Time
}

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	Status    *InvoiceStatus
	PaymentID *uuid.UUID
	FromDate  *time.Time
	ToDate    *time.Time
	DueBefore *time.Time
	Overdue   bool
}

// PaymentRepository defines persistence for payments.
// Save and SaveWithLock write the aggregate's pending domain events to the
// outbox in the same transaction as the row.
type PaymentRepository interface {
	// FindByIDForOrganization finds a payment by ID within an organization
	FindByIDForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*Payment, error)

	// FindByNumber finds a payment by its payment number
	FindByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*Payment, error)

	// FindAllForOrganization lists payments with filtering and pagination
	FindAllForOrganization(ctx context.Context, organizationID uuid.UUID, filter PaymentFilter) ([]Payment, error)

	// CountForOrganization counts payments matching the filter
	CountForOrganization(ctx context.Context, organizationID uuid.UUID, filter PaymentFilter) (int64, error)

	// Save creates a new payment
	Save(ctx context.Context, payment *Payment) error

	// SaveWithLock updates a payment guarded by its version
	SaveWithLock(ctx context.Context, payment *Payment) error
}

// InvoiceRepository defines persistence for invoices
type InvoiceRepository interface {
	// FindByIDForOrganization finds an invoice by ID within an organization
	FindByIDForOrganization(ctx context.Context, organizationID, id uuid.UUID) (*Invoice, error)

	// FindByNumber finds an invoice by its invoice number
	FindByNumber(ctx context.Context, organizationID uuid.UUID, number string) (*Invoice, error)

	// FindActiveByPaymentID finds the non-cancelled invoice for a payment
	FindActiveByPaymentID(ctx context.Context, organizationID, paymentID uuid.UUID) (*Invoice, error)

	// FindAllForOrganization lists invoices with filtering and pagination
	FindAllForOrganization(ctx context.Context, organizationID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// CountForOrganization counts invoices matching the filter
	CountForOrganization(ctx context.Context, organizationID uuid.UUID, filter InvoiceFilter) (int64, error)

	// FindOverdueCandidates returns issued, unsettled invoices whose due date is before now
	FindOverdueCandidates(ctx context.Context, organizationID uuid.UUID, now time.Time, limit int) ([]Invoice, error)

	// FindPaidWithUnsettledPayment returns paid invoices whose payment is not completed
	FindPaidWithUnsettledPayment(ctx context.Context, organizationID uuid.UUID, limit int) ([]Invoice, error)

	// FindUnlinked returns active invoices whose payment does not point back at them
	FindUnlinked(ctx context.Context, organizationID uuid.UUID, limit int) ([]Invoice, error)

	// GenerateInvoiceNumber returns the next INV-YYYYMM-NNNN number for the issue month
	GenerateInvoiceNumber(ctx context.Context, issueDate time.Time) (string, error)

	// CreateWithPaymentLink inserts the invoice and saves the linked payment in one transaction
	CreateWithPaymentLink(ctx context.Context, invoice *Invoice, payment *Payment) error

	// SaveWithLock updates an invoice guarded by its version
	SaveWithLock(ctx context.Context, invoice *Invoice) error

	// StatusBreakdown counts invoices and sums amounts per status issued in [from, to)
	StatusBreakdown(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]StatusBucket, error)

	// CountOverdue counts unsettled invoices past due at now
	CountOverdue(ctx context.Context, organizationID uuid.UUID, now time.Time) (int64, error)

	// FindSettlementSamples returns paid invoices issued in [from, to)
	FindSettlementSamples(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]SettlementSample, error)
}

// OrganizationRepository defines persistence for funding organizations
type OrganizationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	FindAll(ctx context.Context, filter shared.Filter) ([]Organization, error)
	Count(ctx context.Context, filter shared.Filter) (int64, error)
	FindAllActiveIDs(ctx context.Context) ([]uuid.UUID, error)
	Save(ctx context.Context, org *Organization) error
	SaveWithLock(ctx context.Context, org *Organization) error
}

// PaymentNumberGenerator issues unique payment numbers
type PaymentNumberGenerator interface {
	NextPaymentNumber() string
}
