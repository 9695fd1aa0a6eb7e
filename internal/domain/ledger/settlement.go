package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals are the aggregate amounts derived from an invoice's line items
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// ComputeTotals derives per-item totalPrice and taxAmount and the invoice totals.
// The input slice is left untouched; a priced copy is returned.
func ComputeTotals(items LineItems, discount decimal.Decimal) (LineItems, Totals) {
	priced := make(LineItems, len(items))
	subtotal := decimal.Zero
	tax := decimal.Zero

	for i, item := range items {
		item.TotalPrice = item.Quantity.Mul(item.UnitPrice)
		item.TaxAmount = item.TotalPrice.Mul(item.TaxRate).Div(hundred)
		subtotal = subtotal.Add(item.TotalPrice)
		tax = tax.Add(item.TaxAmount)
		priced[i] = item
	}

	return priced, Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		TotalAmount:    subtotal.Add(tax).Sub(discount),
	}
}

// SumReferences totals the amounts of recorded payment references
func SumReferences(refs PaymentReferences) decimal.Decimal {
	sum := decimal.Zero
	for _, ref := range refs {
		sum = sum.Add(ref.Amount)
	}
	return sum
}

// OutstandingAmount is total minus paid. Negative values signal overpayment.
func OutstandingAmount(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid)
}

// DaysOverdue returns whole days (rounded up) past the due date, or 0 when
// the invoice is settled or not yet due.
func DaysOverdue(status InvoiceStatus, dueDate, now time.Time) int {
	if status == InvoiceStatusPaid || status == InvoiceStatusCancelled {
		return 0
	}
	if !now.After(dueDate) {
		return 0
	}
	days := now.Sub(dueDate).Hours() / 24
	return int(math.Ceil(days))
}

// SettlementSample is the data needed to measure how long an invoice took to be paid
type SettlementSample struct {
	Status    InvoiceStatus
	IssueDate time.Time
	PaidAt    *time.Time
}

// AverageSettlementDays is the mean of paidAt minus issueDate in days over
// paid invoices with a recorded paidAt. An empty set yields 0.
func AverageSettlementDays(samples []SettlementSample) float64 {
	total := 0.0
	count := 0
	for _, s := range samples {
		if s.Status != InvoiceStatusPaid || s.PaidAt == nil {
			continue
		}
		total += s.PaidAt.Sub(s.IssueDate).Hours() / 24
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
