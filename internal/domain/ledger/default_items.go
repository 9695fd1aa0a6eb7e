package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// DefaultLineItems builds the single line item billed when the caller supplies none.
// It covers the full payment amount at zero tax.
func DefaultLineItems(p *Payment) LineItems {
	desc := fmt.Sprintf("CSR contribution (%s)", titleCaser.String(p.PaymentType.Label()))
	if p.BudgetCategory != "" {
		desc = fmt.Sprintf("%s - %s", desc, titleCaser.String(p.BudgetCategory))
	}
	if p.CampaignName != "" {
		desc = fmt.Sprintf("%s: %s", desc, p.CampaignName)
	}
	return LineItems{{
		Description: desc,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   p.Amount,
		TaxRate:     decimal.Zero,
	}}
}
