package ledger

import "context"

// DeliveryReceipt describes where a delivered invoice can be found
type DeliveryReceipt struct {
	Location string
	Detail   string
}

// Deliverer sends an invoice document through one delivery channel
type Deliverer interface {
	Method() DeliveryMethod
	Deliver(ctx context.Context, invoice *Invoice, message string) (DeliveryReceipt, error)
}
