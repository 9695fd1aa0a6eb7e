package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InvoiceNumberPrefix returns "INV-YYYYMM-" for the issue month (UTC)
func InvoiceNumberPrefix(issueDate time.Time) string {
	return "INV-" + issueDate.UTC().Format("200601") + "-"
}

// FormatInvoiceNumber renders INV-YYYYMM-NNNN. Sequences above 9999 keep
// growing in width rather than wrapping.
func FormatInvoiceNumber(issueDate time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", InvoiceNumberPrefix(issueDate), seq)
}

// InvoiceSequence extracts the trailing sequence of an invoice number
func InvoiceSequence(number string) (int, bool) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, false
	}
	seq, err := strconv.Atoi(number[idx+1:])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
