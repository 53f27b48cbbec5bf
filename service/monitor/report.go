package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

const (
	separator       = "======================================================================"
	fallbackMessage = "mentions an owned account but is not a direct transfer"
	noOwnedAccounts = "no owned accounts in transaction keys"
)

// BalanceSource looks up the balances shown in the affected-accounts summary.
type BalanceSource interface {
	NativeBalance(ctx context.Context, account solanago.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, account solanago.PublicKey) (*solana.TokenBalance, error)
}

// Reporter renders human-readable output. Each call writes whole blocks, so output
// from concurrent pipelines never interleaves.
type Reporter struct {
	mu          sync.Mutex
	out         io.Writer
	balances    BalanceSource
	cluster     string
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewReporter creates a Reporter writing to out. cluster selects the explorer links
// ("devnet", "testnet", "mainnet-beta"); concurrency bounds parallel balance lookups.
func NewReporter(out io.Writer, balances BalanceSource, cluster string, concurrency int, logger *slog.Logger) *Reporter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reporter{
		out:         out,
		balances:    balances,
		cluster:     cluster,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// Printf writes a single formatted line.
func (r *Reporter) Printf(format string, args ...any) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, format, args...)
	buf.WriteByte('\n')
	r.write(buf.Bytes())
}

// PrintAccounts lists the monitored accounts at the start of a session.
func (r *Reporter) PrintAccounts(owned *Ownership) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Monitoring %d account(s) for %s:\n", owned.Len(), owned.Primary())
	for _, addr := range owned.Addresses() {
		fmt.Fprintf(&buf, "  %s%s\n", addr, primaryTag(addr, owned))
	}
	r.write(buf.Bytes())
}

// ExplorerURL returns the explorer link for a transaction on the configured cluster.
func (r *Reporter) ExplorerURL(sig solanago.Signature) string {
	if r.cluster == "" || r.cluster == "mainnet-beta" || r.cluster == "mainnet" {
		return fmt.Sprintf("https://explorer.solana.com/tx/%s", sig)
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", sig, r.cluster)
}

// ReportFetchFailure reports a signature that was abandoned because it could not be fetched.
func (r *Reporter) ReportFetchFailure(sig solanago.Signature, err error) {
	if errors.Is(err, solana.ErrTransactionNotFound) {
		r.Printf("Transaction %s was not found; skipping it", sig)
		return
	}
	r.Printf("Could not fetch transaction %s: %v", sig, err)
}

// Report renders a classified transaction followed by the balances of every owned
// account it touches. If ctx is done before the balances are in, nothing is written
// and ctx.Err() is returned.
func (r *Reporter) Report(ctx context.Context, tx *solana.Transaction, owned *Ownership, results []Result) error {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, separator)
	fmt.Fprintf(&buf, "Transaction %s (processed %s)\n", tx.Signature, r.now().UTC().Format(time.DateTime+" MST"))
	fmt.Fprintf(&buf, "  Explorer:   %s\n", r.ExplorerURL(tx.Signature))
	if tx.BlockTime != nil {
		fmt.Fprintf(&buf, "  Block time: %s\n", tx.BlockTime.UTC().Format(time.DateTime+" MST"))
	} else {
		fmt.Fprintln(&buf, "  Block time: unknown")
	}
	fmt.Fprintf(&buf, "  Slot:       %d\n", tx.Slot)
	fmt.Fprintf(&buf, "  Fee:        %s SOL\n", solana.FormatSOL(tx.Fee))
	fmt.Fprintf(&buf, "  Fee payer:  %s\n", tx.FeePayer)
	if tx.Err != nil {
		fmt.Fprintf(&buf, "  Status:     %s\n", *tx.Err)
	} else {
		fmt.Fprintln(&buf, "  Status:     success")
	}

	if len(results) == 0 {
		fmt.Fprintf(&buf, "  This transaction %s.\n", fallbackMessage)
	}
	for _, result := range results {
		writeResult(&buf, result)
	}

	if err := r.writeSummary(ctx, &buf, tx, owned); err != nil {
		return err
	}
	r.write(buf.Bytes())
	return nil
}

func writeResult(buf *bytes.Buffer, result Result) {
	fmt.Fprintf(buf, "  [%s] instruction %s\n", result.Category, result.Location)
	switch ix := result.Instruction.(type) {
	case solana.NativeTransfer:
		fmt.Fprintf(buf, "    Amount: %s SOL\n", solana.FormatSOL(ix.Lamports))
		fmt.Fprintf(buf, "    From:   %s\n", ix.Source)
		fmt.Fprintf(buf, "    To:     %s\n", ix.Destination)
	case solana.TokenTransfer:
		mint := "unknown"
		if ix.Mint != nil {
			mint = ix.Mint.String()
		}
		fmt.Fprintf(buf, "    Amount: %s\n", ix.UIAmount())
		fmt.Fprintf(buf, "    Mint:   %s\n", mint)
		fmt.Fprintf(buf, "    From:   %s\n", ix.Source)
		fmt.Fprintf(buf, "    To:     %s\n", ix.Destination)
	}
}

// accountBalances is the outcome of the lookups for one summary line.
type accountBalances struct {
	address  solanago.PublicKey
	lamports uint64
	native   error
	token    *solana.TokenBalance
	tokenErr error
}

func (r *Reporter) writeSummary(ctx context.Context, buf *bytes.Buffer, tx *solana.Transaction, owned *Ownership) error {
	affected := affectedAccounts(tx, owned)
	if len(affected) == 0 {
		fmt.Fprintf(buf, "  %s\n", noOwnedAccounts)
		return nil
	}

	lookups := make([]accountBalances, len(affected))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, addr := range affected {
		lookups[i].address = addr
		g.Go(func() error {
			lookups[i].lamports, lookups[i].native = r.balances.NativeBalance(ctx, addr)
			if !addr.Equals(owned.Primary()) {
				lookups[i].token, lookups[i].tokenErr = r.balances.TokenBalance(ctx, addr)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Fprintln(buf, "  Affected owned accounts:")
	for _, lookup := range lookups {
		fmt.Fprintf(buf, "    %s%s\n", lookup.address, primaryTag(lookup.address, owned))
		if lookup.native != nil {
			r.logger.WarnContext(ctx, "balance lookup failed", "address", lookup.address.String(), "error", lookup.native)
			fmt.Fprintf(buf, "      SOL balance:   unavailable (%v)\n", lookup.native)
		} else {
			fmt.Fprintf(buf, "      SOL balance:   %s SOL\n", solana.FormatSOL(lookup.lamports))
		}

		if lookup.address.Equals(owned.Primary()) {
			continue
		}
		switch {
		case errors.Is(lookup.tokenErr, solana.ErrNotTokenAccount):
			fmt.Fprintln(buf, "      Token balance: not a token account")
		case lookup.tokenErr != nil:
			r.logger.WarnContext(ctx, "token balance lookup failed", "address", lookup.address.String(), "error", lookup.tokenErr)
			fmt.Fprintf(buf, "      Token balance: unavailable (%v)\n", lookup.tokenErr)
		default:
			fmt.Fprintf(buf, "      Token balance: %s (decimals %d)\n", lookup.token.UIAmountString, lookup.token.Decimals)
		}
	}
	return nil
}

// affectedAccounts returns the owned accounts among the transaction keys, sorted.
func affectedAccounts(tx *solana.Transaction, owned *Ownership) []solanago.PublicKey {
	seen := make(map[solanago.PublicKey]struct{})
	var affected []solanago.PublicKey
	for _, key := range tx.AccountKeys {
		if _, dup := seen[key]; dup || !owned.Contains(key) {
			continue
		}
		seen[key] = struct{}{}
		affected = append(affected, key)
	}
	sortAddresses(affected)
	return affected
}

func primaryTag(addr solanago.PublicKey, owned *Ownership) string {
	if addr.Equals(owned.Primary()) {
		return " (primary)"
	}
	return ""
}

func (r *Reporter) write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(p); err != nil {
		r.logger.Warn("failed to write report", "error", err)
	}
}
