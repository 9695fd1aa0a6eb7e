package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/domain/ledger"
	"go.uber.org/zap"
)

// PortalDeliverer publishes the invoice document to object storage and
// hands back a time-limited download link.
type PortalDeliverer struct {
	store     ObjectStore
	keyPrefix string
	linkTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewPortalDeliverer creates a portal deliverer. A zero linkTTL uses the
// store's default expiry.
func NewPortalDeliverer(store ObjectStore, keyPrefix string, linkTTL time.Duration, logger *zap.Logger) *PortalDeliverer {
	if keyPrefix == "" {
		keyPrefix = "invoices"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortalDeliverer{
		store:     store,
		keyPrefix: keyPrefix,
		linkTTL:   linkTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Method implements ledger.Deliverer
func (d *PortalDeliverer) Method() ledger.DeliveryMethod {
	return ledger.DeliveryMethodPortal
}

// portalDocument is the JSON body stored for the portal
type portalDocument struct {
	Invoice   appledger.InvoiceResponse `json:"invoice"`
	Message   string                    `json:"message,omitempty"`
	Published time.Time                 `json:"published_at"`
}

// ObjectKey returns the storage key of an invoice document
func (d *PortalDeliverer) ObjectKey(invoice *ledger.Invoice) string {
	return fmt.Sprintf("%s/%s/%s.json", d.keyPrefix, invoice.OrganizationID, invoice.InvoiceNumber)
}

// Deliver uploads the invoice document and presigns a download link
func (d *PortalDeliverer) Deliver(ctx context.Context, invoice *ledger.Invoice, message string) (ledger.DeliveryReceipt, error) {
	now := d.now()
	body, err := json.Marshal(portalDocument{
		Invoice:   appledger.ToInvoiceResponse(invoice, now),
		Message:   message,
		Published: now.UTC(),
	})
	if err != nil {
		return ledger.DeliveryReceipt{}, fmt.Errorf("encode invoice document: %w", err)
	}

	key := d.ObjectKey(invoice)
	if err := d.store.Upload(ctx, key, body, "application/json"); err != nil {
		return ledger.DeliveryReceipt{}, err
	}

	link, expiresAt, err := d.store.PresignDownload(ctx, key, d.linkTTL)
	if err != nil {
		return ledger.DeliveryReceipt{}, err
	}

	d.logger.Info("Invoice published to portal",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("key", key),
		zap.Time("link_expires_at", expiresAt),
	)
	return ledger.DeliveryReceipt{
		Location: link,
		Detail:   "link expires " + expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

var _ ledger.Deliverer = (*PortalDeliverer)(nil)
