package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issue := time.Date(2024, time.October, 3, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "INV-202410-", InvoiceNumberPrefix(issue))
	assert.Equal(t, "INV-202410-0001", FormatInvoiceNumber(issue, 1))
	assert.Equal(t, "INV-202410-0420", FormatInvoiceNumber(issue, 420))
	assert.Equal(t, "INV-202410-10000", FormatInvoiceNumber(issue, 10000))
}

func TestInvoiceSequence(t *testing.T) {
	tests := []struct {
		number string
		want   int
		ok     bool
	}{
		{"INV-202410-0001", 1, true},
		{"INV-202410-0420", 420, true},
		{"INV-202410-10000", 10000, true},
		{"INV-202410-", 0, false},
		{"INV-202410-ABCD", 0, false},
		{"garbage", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			got, ok := InvoiceSequence(tt.number)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
