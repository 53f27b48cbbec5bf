package solana

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Transaction represents a fetched Solana transaction normalized for classification.
// This is our domain model, independent of the RPC response format.
type Transaction struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime *time.Time // nil if the node did not report one
	Fee       uint64
	FeePayer  solana.PublicKey
	Err       *string // nil if transaction succeeded, contains error message if failed

	// AccountKeys holds the static message keys followed by addresses loaded
	// from lookup tables (writable first, then readonly).
	AccountKeys []solana.PublicKey

	// Instructions are the top-level instructions in message order.
	Instructions []Instruction

	// InnerInstructions maps a top-level instruction index to the instructions
	// its program invoked, in execution order.
	InnerInstructions map[int][]Instruction
}

// HasInnerInstructions reports whether the top-level instruction at index
// triggered nested instructions.
func (t *Transaction) HasInnerInstructions(index int) bool {
	_, ok := t.InnerInstructions[index]
	return ok
}

// InnerIndexes returns the top-level indexes that have inner instructions, ascending.
func (t *Transaction) InnerIndexes() []int {
	indexes := make([]int, 0, len(t.InnerInstructions))
	for idx := range t.InnerInstructions {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

// Instruction is a normalized instruction. The set of implementations is closed:
// NativeTransfer, TokenTransfer and Unrecognized.
type Instruction interface {
	instruction()
}

// NativeTransfer is a System Program transfer of lamports.
type NativeTransfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Lamports    uint64
}

// TokenTransfer is an SPL Token (or Token-2022) Transfer or TransferChecked.
// Source and Destination are token accounts, not their owners.
type TokenTransfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Mint        *solana.PublicKey // nil if it could not be determined
	Amount      uint64            // raw amount in base units
	Decimals    *uint8            // nil if unknown
}

// Unrecognized is any instruction that is not a transfer we understand.
type Unrecognized struct {
	ProgramID solana.PublicKey
}

func (NativeTransfer) instruction() {}
func (TokenTransfer) instruction()  {}
func (Unrecognized) instruction()   {}

// UIAmount renders the transfer amount using the mint decimals when known,
// otherwise the raw base-unit amount.
func (t TokenTransfer) UIAmount() string {
	if t.Decimals == nil {
		return fmt.Sprintf("%d", t.Amount)
	}
	return FormatUnits(t.Amount, *t.Decimals)
}

// TokenBalance is the balance of a token account.
type TokenBalance struct {
	Amount         string // raw amount in base units
	Decimals       uint8
	UIAmountString string
}

// FormatSOL renders lamports as SOL with nine decimals.
func FormatSOL(lamports uint64) string {
	return FormatUnits(lamports, 9)
}

// FormatUnits renders an integer amount of base units with the given number of
// decimals without going through floating point.
func FormatUnits(amount uint64, decimals uint8) string {
	if decimals == 0 {
		return fmt.Sprintf("%d", amount)
	}
	digits := fmt.Sprintf("%0*d", int(decimals)+1, amount)
	split := len(digits) - int(decimals)
	var b strings.Builder
	b.WriteString(digits[:split])
	b.WriteByte('.')
	b.WriteString(digits[split:])
	return b.String()
}
