package nats

import (
	"fmt"
	"time"
)

// TransferEvent is a classified transfer published to NATS.
// It is published to the subject "transfers.{primary}" in JetStream.
type TransferEvent struct {
	// Transaction identifiers
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`

	// Monitored wallet the transfer was classified against
	Primary string `json:"primary"`

	// Classification
	Category    string `json:"category"`
	Instruction string `json:"instruction"` // "#2" or "#2.0" for inner instructions

	// Transfer details
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`              // lamports or token base units
	Mint        string `json:"mint,omitempty"`      // empty for native SOL or unknown mint
	Decimals    *uint8 `json:"decimals,omitempty"`  // nil if unknown
	UIAmount    string `json:"ui_amount"`

	// Transaction outcome
	Fee       uint64     `json:"fee"`
	FeePayer  string     `json:"fee_payer"`
	Failed    bool       `json:"failed"`
	BlockTime *time.Time `json:"block_time,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject transfers of primary are published to.
func Subject(primary string) string {
	return fmt.Sprintf("transfers.%s", primary)
}
