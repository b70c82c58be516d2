package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operation kinds the engine recognizes. The bridge transfer is how staked
// funds cross from the client's wallet onto the platform token ledger; a
// plain token transfer is what the escrow account sends back out.
const (
	OpKindBridgeTransfer = "bridge_transfer"
	OpKindTokenTransfer  = "token_transfer"
)

// Transaction is one confirmed ledger transaction with its operation list
type Transaction struct {
	ID         string      `json:"id"`
	Operations []Operation `json:"operations"`
}

// Operation is a single operation inside a transaction. Data stays opaque
// until the kind is recognized; unrelated operations routinely appear in
// the same transaction.
type Operation struct {
	Kind        string          `json:"kind"`
	Authorizers []string        `json:"authorizers"`
	Data        json.RawMessage `json:"data"`
}

// TransferData is the decoded payload of a transfer-like operation
type TransferData struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Quantity string `json:"quantity"` // e.g. "12.500 PRD"
	Memo     string `json:"memo"`
}

// DecodeTransfer decodes the operation payload when the operation is a
// recognized transfer kind. Unrecognized kinds and malformed payloads
// report ok=false rather than an error.
func (op Operation) DecodeTransfer() (*TransferData, bool) {
	if op.Kind != OpKindBridgeTransfer && op.Kind != OpKindTokenTransfer {
		return nil, false
	}

	var data TransferData
	if err := json.Unmarshal(op.Data, &data); err != nil {
		return nil, false
	}
	if data.To == "" || data.Quantity == "" {
		return nil, false
	}
	return &data, true
}

// AuthorizedBy reports whether account is among the operation's
// authorizing identities
func (op Operation) AuthorizedBy(account string) bool {
	for _, a := range op.Authorizers {
		if a == account {
			return true
		}
	}
	return false
}

// ParseQuantity splits a ledger quantity string like "12.500 PRD" into
// amount and symbol
func ParseQuantity(quantity string) (decimal.Decimal, string, error) {
	parts := strings.Fields(quantity)
	if len(parts) != 2 {
		return decimal.Zero, "", fmt.Errorf("malformed quantity %q", quantity)
	}

	amount, err := decimal.NewFromString(parts[0])
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("malformed quantity amount %q: %w", parts[0], err)
	}
	return amount, parts[1], nil
}

// FormatQuantity renders an amount as a ledger quantity string with the
// ledger's fixed 3 decimal places
func FormatQuantity(amount decimal.Decimal, symbol string) string {
	return amount.StringFixed(3) + " " + symbol
}
