package delivery

import (
	"context"
	"errors"

	"github.com/csr/ledger/internal/domain/ledger"
	"go.uber.org/zap"
)

// ErrNoRecipient is returned when the invoice snapshot has no contact email
var ErrNoRecipient = errors.New("invoice has no contact email")

// EmailDeliverer records the email hand-off in the log. Mail transport is
// owned by an external relay that tails these entries.
type EmailDeliverer struct {
	sender string
	logger *zap.Logger
}

// NewEmailDeliverer creates an email deliverer
func NewEmailDeliverer(sender string, logger *zap.Logger) *EmailDeliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailDeliverer{sender: sender, logger: logger}
}

// Method implements ledger.Deliverer
func (d *EmailDeliverer) Method() ledger.DeliveryMethod {
	return ledger.DeliveryMethodEmail
}

// Deliver logs the message addressed to the organization contact
func (d *EmailDeliverer) Deliver(_ context.Context, invoice *ledger.Invoice, message string) (ledger.DeliveryReceipt, error) {
	recipient := invoice.Organization.Contact.Email
	if recipient == "" {
		return ledger.DeliveryReceipt{}, ErrNoRecipient
	}

	d.logger.Info("Invoice email queued",
		zap.String("from", d.sender),
		zap.String("to", recipient),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("total", invoice.TotalAmount.StringFixed(2)),
		zap.String("currency", string(invoice.Currency)),
		zap.Time("due_date", invoice.DueDate),
		zap.String("message", message),
	)
	return ledger.DeliveryReceipt{
		Location: "mailto:" + recipient,
		Detail:   "queued for " + recipient,
	}, nil
}

var _ ledger.Deliverer = (*EmailDeliverer)(nil)
