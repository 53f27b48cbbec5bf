package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrTransactionNotFound is returned when the node has no record of a signature
	// at the configured commitment.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotTokenAccount is returned when a token balance is requested for an
	// account that is not owned by a token program.
	ErrNotTokenAccount = errors.New("not a token account")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)
}

// Client is the query service used by a monitoring session.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	commitment rpc.CommitmentType
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// An empty commitment defaults to confirmed. If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, commitment rpc.CommitmentType, m *metrics.Metrics, logger *slog.Logger) *Client {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		commitment: commitment,
	}
}

// FetchTransaction retrieves a transaction by signature and normalizes it.
// The call is made once; callers decide what to do with a failure.
func (c *Client) FetchTransaction(ctx context.Context, sig solana.Signature) (*Transaction, error) {
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, sig, opts)
	c.record(ctx, "GetTransaction", start, err)

	if errors.Is(err, rpc.ErrNotFound) || (err == nil && result == nil) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}

	txn, err := parseTransactionFromResult(sig, result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %w", sig, err)
	}

	c.logger.DebugContext(ctx, "fetched transaction",
		"signature", sig.String(),
		"slot", txn.Slot,
		"instructions", len(txn.Instructions),
	)
	return txn, nil
}

// NativeBalance returns the lamport balance of any account.
func (c *Client) NativeBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	result, err := c.rpc.GetBalance(ctx, account, c.commitment)
	c.record(ctx, "GetBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return result.Value, nil
}

// TokenBalance returns the balance of a token account.
// Accounts that are not token accounts yield ErrNotTokenAccount.
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (*TokenBalance, error) {
	start := time.Now()
	result, err := c.rpc.GetTokenAccountBalance(ctx, account, c.commitment)
	c.record(ctx, "GetTokenAccountBalance", start, err)
	if err != nil {
		if strings.Contains(err.Error(), "not a Token account") {
			return nil, fmt.Errorf("%s: %w", account, ErrNotTokenAccount)
		}
		return nil, fmt.Errorf("failed to get token balance of %s: %w", account, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%s: %w", account, ErrNotTokenAccount)
	}
	return &TokenBalance{
		Amount:         result.Value.Amount,
		Decimals:       result.Value.Decimals,
		UIAmountString: result.Value.UiAmountString,
	}, nil
}

// TokenAccountsByOwner lists the token accounts owned by owner under the given token program.
func (c *Client) TokenAccountsByOwner(ctx context.Context, owner, programID solana.PublicKey) ([]solana.PublicKey, error) {
	conf := &rpc.GetTokenAccountsConfig{ProgramId: &programID}
	opts := &rpc.GetTokenAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	}

	start := time.Now()
	result, err := c.rpc.GetTokenAccountsByOwner(ctx, owner, conf, opts)
	c.record(ctx, "GetTokenAccountsByOwner", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list token accounts of %s: %w", owner, err)
	}

	accounts := make([]solana.PublicKey, 0, len(result.Value))
	for _, account := range result.Value {
		if account == nil {
			continue
		}
		accounts = append(accounts, account.Pubkey)
	}

	c.logger.DebugContext(ctx, "listed token accounts",
		"owner", owner.String(),
		"program", programID.String(),
		"count", len(accounts),
	)
	return accounts, nil
}

// record logs failed calls and reports every call to metrics.
func (c *Client) record(ctx context.Context, method string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
		if !errors.Is(err, rpc.ErrNotFound) && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "solana rpc call failed",
				"method", method,
				"endpoint", c.endpoint,
				"error", err,
			)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	}
}
