// Package idgen issues human-facing reference numbers.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/csr/ledger/internal/domain/ledger"
)

// PaymentNumberPrefix prefixes every payment number
const PaymentNumberPrefix = "PAY-"

// SnowflakePaymentNumbers issues PAY-<snowflake> payment numbers. Numbers are
// unique across processes as long as each process uses a distinct node id.
type SnowflakePaymentNumbers struct {
	node *snowflake.Node
}

// NewSnowflakePaymentNumbers creates a generator for the given node (0-1023)
func NewSnowflakePaymentNumbers(nodeID int64) (*SnowflakePaymentNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakePaymentNumbers{node: node}, nil
}

// NextPaymentNumber returns a new payment number
func (g *SnowflakePaymentNumbers) NextPaymentNumber() string {
	return PaymentNumberPrefix + g.node.Generate().String()
}

var _ ledger.PaymentNumberGenerator = (*SnowflakePaymentNumbers)(nil)
