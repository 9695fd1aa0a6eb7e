package event

import (
	"testing"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllEvents(t *testing.T) {
	s := NewLedgerEventSerializer()

	for _, eventType := range []string{
		ledger.EventTypePaymentCreated,
		ledger.EventTypePaymentApprovalChanged,
		ledger.EventTypePaymentStatusChanged,
		ledger.EventTypePaymentCompleted,
		ledger.EventTypeInvoiceGenerated,
		ledger.EventTypeInvoiceSent,
		ledger.EventTypeInvoicePaymentRecorded,
		ledger.EventTypeInvoicePaid,
		ledger.EventTypeInvoiceStatusChanged,
	} {
		assert.True(t, s.IsRegistered(eventType), eventType)
	}
	assert.Len(t, s.RegisteredTypes(), 9)
}

func TestEventSerializer_RoundTrip(t *testing.T) {
	s := NewLedgerEventSerializer()
	orgID := uuid.New()
	original := newInvoicePaidEvent(orgID)

	data, err := s.Serialize(original)
	require.NoError(t, err)

	decoded, err := s.Deserialize(ledger.EventTypeInvoicePaid, data)
	require.NoError(t, err)

	paid, ok := decoded.(*ledger.InvoicePaidEvent)
	require.True(t, ok)
	assert.Equal(t, original.EventID(), paid.EventID())
	assert.Equal(t, orgID, paid.OrganizationID())
	assert.Equal(t, original.AggregateID(), paid.AggregateID())
	assert.Equal(t, original.PaymentID, paid.PaymentID)
	assert.Equal(t, original.InvoiceNumber, paid.InvoiceNumber)
	assert.True(t, original.TotalAmount.Equal(paid.TotalAmount))
}

func TestEventSerializer_DeserializeErrors(t *testing.T) {
	s := NewLedgerEventSerializer()

	_, err := s.Deserialize("StockIncreased", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown event type")

	_, err = s.Deserialize(ledger.EventTypeInvoicePaid, []byte(`{not json`))
	assert.ErrorContains(t, err, "failed to unmarshal")
}
