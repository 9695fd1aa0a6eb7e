package event

import (
	"context"
	"errors"
	"testing"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	paid := newRecordingHandler(ledger.EventTypeInvoicePaid)
	sent := newRecordingHandler(ledger.EventTypeInvoiceSent)
	bus.Subscribe(paid)
	bus.Subscribe(sent)

	orgID := uuid.New()
	err := bus.Publish(context.Background(), newInvoicePaidEvent(orgID), newInvoicePaidEvent(orgID), newInvoiceSentEvent(orgID))

	require.NoError(t, err)
	assert.Equal(t, 2, paid.count())
	assert.Equal(t, 1, sent.count())
}

func TestInMemoryEventBus_ExplicitTypesOverrideHandlerTypes(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newRecordingHandler(ledger.EventTypeInvoicePaid)
	bus.Subscribe(handler, ledger.EventTypeInvoiceSent)

	require.NoError(t, bus.Publish(context.Background(), newInvoicePaidEvent(uuid.New())))
	assert.Zero(t, handler.count())
	assert.Equal(t, 1, bus.HandlerCount(ledger.EventTypeInvoiceSent))
}

func TestInMemoryEventBus_WildcardHandler(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	all := newRecordingHandler()
	bus.Subscribe(all)

	require.NoError(t, bus.Publish(context.Background(), newInvoicePaidEvent(uuid.New()), newInvoiceSentEvent(uuid.New())))
	assert.Equal(t, 2, all.count())
}

func TestInMemoryEventBus_ReportsHandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(h *recordingHandler)
		wantMsg string
	}{
		{
			name:    "handler error",
			prepare: func(h *recordingHandler) { h.setError(errors.New("payment locked")) },
			wantMsg: "payment locked",
		},
		{
			name:    "handler panic",
			prepare: func(h *recordingHandler) { h.panicWith = "boom" },
			wantMsg: "handler panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewInMemoryEventBus(zap.NewNop())
			failing := newRecordingHandler(ledger.EventTypeInvoicePaid)
			tt.prepare(failing)
			healthy := newRecordingHandler(ledger.EventTypeInvoicePaid)
			bus.Subscribe(failing)
			bus.Subscribe(healthy)

			err := bus.Publish(context.Background(), newInvoicePaidEvent(uuid.New()))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Contains(t, err.Error(), ledger.EventTypeInvoicePaid)
			assert.Equal(t, 1, healthy.count())
		})
	}
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newRecordingHandler(ledger.EventTypeInvoicePaid, ledger.EventTypeInvoiceSent)
	bus.Subscribe(handler)
	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), newInvoicePaidEvent(uuid.New())))
	assert.Zero(t, handler.count())
	assert.Zero(t, bus.HandlerCount(ledger.EventTypeInvoicePaid))
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
}
