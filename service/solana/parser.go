package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// TokenProgramIDs lists the token programs whose accounts and transfers we track.
var TokenProgramIDs = []solana.PublicKey{TokenProgramID, Token2022ProgramID}

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// tokenAccountInfo is what the transaction meta tells us about a token account.
type tokenAccountInfo struct {
	mint     solana.PublicKey
	decimals uint8
}

// parseTransactionFromResult converts a GetTransactionResult into our normalized Transaction.
// Every instruction, top-level and inner, is decoded exactly once here.
func parseTransactionFromResult(sig solana.Signature, result *rpc.GetTransactionResult) (*Transaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if result.Meta != nil {
		keys = append(keys, result.Meta.LoadedAddresses.Writable...)
		keys = append(keys, result.Meta.LoadedAddresses.ReadOnly...)
	}

	txn := &Transaction{
		Signature:         sig,
		Slot:              result.Slot,
		AccountKeys:       keys,
		Instructions:      make([]Instruction, 0, len(tx.Message.Instructions)),
		InnerInstructions: make(map[int][]Instruction),
	}
	if result.BlockTime != nil {
		blockTime := result.BlockTime.Time()
		txn.BlockTime = &blockTime
	}
	if len(tx.Message.AccountKeys) > 0 {
		txn.FeePayer = tx.Message.AccountKeys[0]
	}

	tokenAccounts := tokenAccountsFromMeta(result.Meta)

	for _, instruction := range tx.Message.Instructions {
		txn.Instructions = append(txn.Instructions, normalizeInstruction(instruction, keys, tokenAccounts))
	}

	if result.Meta == nil {
		return txn, nil
	}

	txn.Fee = result.Meta.Fee
	if result.Meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		txn.Err = &errMsg
	}

	for _, set := range result.Meta.InnerInstructions {
		index := int(set.Index)
		inner := txn.InnerInstructions[index]
		for _, ri := range set.Instructions {
			compiled := solana.CompiledInstruction{
				ProgramIDIndex: ri.ProgramIDIndex,
				Accounts:       ri.Accounts,
				Data:           ri.Data,
			}
			inner = append(inner, normalizeInstruction(compiled, keys, tokenAccounts))
		}
		txn.InnerInstructions[index] = inner
	}

	return txn, nil
}

// tokenAccountsFromMeta indexes token balances by account index so plain Transfer
// instructions, which carry no mint, can still be attributed to one.
func tokenAccountsFromMeta(meta *rpc.TransactionMeta) map[uint16]tokenAccountInfo {
	accounts := make(map[uint16]tokenAccountInfo)
	if meta == nil {
		return accounts
	}
	// Post balances win; pre balances cover accounts closed by the transaction.
	for _, balances := range [][]rpc.TokenBalance{meta.PreTokenBalances, meta.PostTokenBalances} {
		for _, balance := range balances {
			info := tokenAccountInfo{mint: balance.Mint}
			if balance.UiTokenAmount != nil {
				info.decimals = balance.UiTokenAmount.Decimals
			}
			accounts[balance.AccountIndex] = info
		}
	}
	return accounts
}

// normalizeInstruction converts a compiled instruction into its variant form.
// Anything we cannot decode becomes Unrecognized.
func normalizeInstruction(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, tokenAccounts map[uint16]tokenAccountInfo) Instruction {
	if int(instruction.ProgramIDIndex) >= len(accountKeys) {
		return Unrecognized{}
	}
	programID := accountKeys[instruction.ProgramIDIndex]

	// Parse System Program transfers (native SOL)
	if programID.Equals(SystemProgramID) {
		if transfer, err := parseSystemTransfer(instruction, accountKeys); err == nil {
			return transfer
		}
	}

	// Parse SPL Token transfers (USDC, etc.)
	if programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID) {
		if transfer, err := parseTokenTransfer(instruction, accountKeys, tokenAccounts); err == nil {
			return transfer
		}
	}

	return Unrecognized{ProgramID: programID}
}

// parseSystemTransfer extracts source, destination and lamports from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (NativeTransfer, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)

	if len(instruction.Data) < 12 {
		return NativeTransfer{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return NativeTransfer{}, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// System Transfer accounts: [from, to]
	source, err := accountAt(instruction, accountKeys, 0)
	if err != nil {
		return NativeTransfer{}, err
	}
	destination, err := accountAt(instruction, accountKeys, 1)
	if err != nil {
		return NativeTransfer{}, err
	}

	return NativeTransfer{
		Source:      source,
		Destination: destination,
		Lamports:    binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}

// parseTokenTransfer extracts accounts, amount and (when available) mint and decimals
// from an SPL Token Transfer or TransferChecked instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, tokenAccounts map[uint16]tokenAccountInfo) (TokenTransfer, error) {
	if len(instruction.Data) == 0 {
		return TokenTransfer{}, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// Transfer instruction format:
		// [0]     = instruction type (u8, 3 = Transfer)
		// [1..9]  = amount (u64)
		if len(instruction.Data) < 9 {
			return TokenTransfer{}, fmt.Errorf("transfer instruction data too short")
		}

		// Account layout for Transfer: [source, destination, authority]
		source, err := accountAt(instruction, accountKeys, 0)
		if err != nil {
			return TokenTransfer{}, err
		}
		destination, err := accountAt(instruction, accountKeys, 1)
		if err != nil {
			return TokenTransfer{}, err
		}

		transfer := TokenTransfer{
			Source:      source,
			Destination: destination,
			Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
		}
		// The instruction has no mint; borrow it from the token balances in the meta.
		for _, pos := range []int{0, 1} {
			if info, ok := tokenAccounts[instruction.Accounts[pos]]; ok {
				mint, decimals := info.mint, info.decimals
				transfer.Mint = &mint
				transfer.Decimals = &decimals
				break
			}
		}
		return transfer, nil

	case TokenProgramTransferCheckedInstruction:
		// TransferChecked instruction format:
		// [0]      = instruction type (u8, 12 = TransferChecked)
		// [1..9]   = amount (u64)
		// [9]      = decimals (u8)
		if len(instruction.Data) < 10 {
			return TokenTransfer{}, fmt.Errorf("transferChecked instruction data too short")
		}

		// Account layout for TransferChecked: [source, mint, destination, authority, ...]
		source, err := accountAt(instruction, accountKeys, 0)
		if err != nil {
			return TokenTransfer{}, err
		}
		mint, err := accountAt(instruction, accountKeys, 1)
		if err != nil {
			return TokenTransfer{}, err
		}
		destination, err := accountAt(instruction, accountKeys, 2)
		if err != nil {
			return TokenTransfer{}, err
		}
		decimals := instruction.Data[9]

		return TokenTransfer{
			Source:      source,
			Destination: destination,
			Mint:        &mint,
			Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
			Decimals:    &decimals,
		}, nil

	default:
		return TokenTransfer{}, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

// accountAt resolves the pos-th account of an instruction against the transaction keys.
func accountAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, pos int) (solana.PublicKey, error) {
	if len(instruction.Accounts) <= pos {
		return solana.PublicKey{}, fmt.Errorf("instruction missing account %d", pos)
	}
	index := instruction.Accounts[pos]
	if int(index) >= len(accountKeys) {
		return solana.PublicKey{}, fmt.Errorf("account index %d out of bounds", index)
	}
	return accountKeys[index], nil
}
