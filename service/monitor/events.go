package monitor

import (
	"time"

	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/solana"
)

// NewTransferEvents converts the relevant results of a transaction into events.
func NewTransferEvents(tx *solana.Transaction, owned *Ownership, results []Result) []*natspkg.TransferEvent {
	publishedAt := time.Now().UTC()
	events := make([]*natspkg.TransferEvent, 0, len(results))
	for _, result := range results {
		event := &natspkg.TransferEvent{
			Signature:   tx.Signature.String(),
			Slot:        tx.Slot,
			Primary:     owned.Primary().String(),
			Category:    string(result.Category),
			Instruction: result.Location.String(),
			Fee:         tx.Fee,
			FeePayer:    tx.FeePayer.String(),
			Failed:      tx.Err != nil,
			BlockTime:   tx.BlockTime,
			PublishedAt: publishedAt,
		}

		switch ix := result.Instruction.(type) {
		case solana.NativeTransfer:
			decimals := uint8(9)
			event.Source = ix.Source.String()
			event.Destination = ix.Destination.String()
			event.Amount = ix.Lamports
			event.Decimals = &decimals
			event.UIAmount = solana.FormatSOL(ix.Lamports)
		case solana.TokenTransfer:
			event.Source = ix.Source.String()
			event.Destination = ix.Destination.String()
			event.Amount = ix.Amount
			event.Decimals = ix.Decimals
			event.UIAmount = ix.UIAmount()
			if ix.Mint != nil {
				event.Mint = ix.Mint.String()
			}
		}

		events = append(events, event)
	}
	return events
}
