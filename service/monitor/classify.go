package monitor

import (
	"fmt"

	"github.com/brojonat/walletwatch/service/solana"
)

// Category is the kind of transfer an instruction represents for the monitored user.
type Category string

const (
	CategorySendNative            Category = "send-native"
	CategoryReceiveNative         Category = "receive-native"
	CategoryRentDeposit           Category = "rent-deposit"
	CategorySendToken             Category = "send-token"
	CategoryReceiveToken          Category = "receive-token"
	CategoryInternalTokenTransfer Category = "internal-token-transfer"
)

// Location identifies where an instruction sits in a transaction.
type Location struct {
	Index int // top-level instruction index
	Inner int // position inside the inner set of Index, or -1 for a top-level instruction
}

func (l Location) String() string {
	if l.Inner < 0 {
		return fmt.Sprintf("#%d", l.Index)
	}
	return fmt.Sprintf("#%d.%d", l.Index, l.Inner)
}

// Result is one relevant instruction and its category.
type Result struct {
	Category    Category
	Instruction solana.Instruction
	Location    Location
}

// Classify assigns a category to a single instruction. The second return value is
// false when the instruction is irrelevant to the owned accounts.
//
// Native transfers are checked in order: sent by the primary, received by the
// primary, then received by another owned account (a rent deposit into a token account).
func Classify(ix solana.Instruction, owned *Ownership) (Category, bool) {
	switch ix := ix.(type) {
	case solana.NativeTransfer:
		primary := owned.Primary()
		switch {
		case ix.Source.Equals(primary):
			return CategorySendNative, true
		case ix.Destination.Equals(primary):
			return CategoryReceiveNative, true
		case owned.Contains(ix.Destination):
			return CategoryRentDeposit, true
		}

	case solana.TokenTransfer:
		fromOwned := owned.Contains(ix.Source)
		toOwned := owned.Contains(ix.Destination)
		switch {
		case fromOwned && toOwned:
			return CategoryInternalTokenTransfer, true
		case fromOwned:
			return CategorySendToken, true
		case toOwned:
			return CategoryReceiveToken, true
		}
	}
	return "", false
}

// ClassifyTransaction classifies every instruction of tx in execution order.
// A top-level instruction that triggered inner instructions is not classified itself;
// its inner instructions are classified in its place.
func ClassifyTransaction(tx *solana.Transaction, owned *Ownership) []Result {
	var results []Result

	classifyInner := func(index int) {
		for pos, ix := range tx.InnerInstructions[index] {
			if category, ok := Classify(ix, owned); ok {
				results = append(results, Result{
					Category:    category,
					Instruction: ix,
					Location:    Location{Index: index, Inner: pos},
				})
			}
		}
	}

	for index, ix := range tx.Instructions {
		if tx.HasInnerInstructions(index) {
			classifyInner(index)
			continue
		}
		if category, ok := Classify(ix, owned); ok {
			results = append(results, Result{
				Category:    category,
				Instruction: ix,
				Location:    Location{Index: index, Inner: -1},
			})
		}
	}

	// Inner sets whose parent index is outside the message are still reported.
	for _, index := range tx.InnerIndexes() {
		if index >= len(tx.Instructions) {
			classifyInner(index)
		}
	}

	return results
}
