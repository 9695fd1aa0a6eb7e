package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusBucket is the count and value of invoices in one status
type StatusBucket struct {
	Status      InvoiceStatus   `json:"status"`
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
}

// Analytics is the combined reporting view for an organization
type Analytics struct {
	OrganizationID     string          `json:"organization_id"`
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	StatusBreakdown    []StatusBucket  `json:"status_breakdown"`
	OverdueCount       int64           `json:"overdue_count"`
	AveragePaymentDays float64         `json:"average_payment_days"`
	InvoiceCount       int64           `json:"invoice_count"`
	TotalInvoiced      decimal.Decimal `json:"total_invoiced"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	TotalOutstanding   decimal.Decimal `json:"total_outstanding"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// NormalizeBreakdown returns one bucket per known status in display order,
// filling statuses with no invoices with zero values.
func NormalizeBreakdown(buckets []StatusBucket) []StatusBucket {
	byStatus := make(map[InvoiceStatus]StatusBucket, len(buckets))
	for _, b := range buckets {
		byStatus[b.Status] = b
	}
	out := make([]StatusBucket, 0, len(AllInvoiceStatuses))
	for _, st := range AllInvoiceStatuses {
		b, ok := byStatus[st]
		if !ok {
			b = StatusBucket{Status: st, TotalAmount: decimal.Zero, PaidAmount: decimal.Zero}
		}
		out = append(out, b)
	}
	return out
}

// Summarize fills the totals of an Analytics view from its status breakdown.
// Cancelled invoices are excluded from money totals.
func (a *Analytics) Summarize() {
	a.InvoiceCount = 0
	a.TotalInvoiced = decimal.Zero
	a.TotalPaid = decimal.Zero
	for _, b := range a.StatusBreakdown {
		a.InvoiceCount += b.Count
		if b.Status == InvoiceStatusCancelled {
			continue
		}
		a.TotalInvoiced = a.TotalInvoiced.Add(b.TotalAmount)
		a.TotalPaid = a.TotalPaid.Add(b.PaidAmount)
	}
	a.TotalOutstanding = OutstandingAmount(a.TotalInvoiced, a.TotalPaid)
}
