package monitor

import (
	"context"
	"log/slog"
	"sort"

	"github.com/brojonat/walletwatch/service/solana"
	mapset "github.com/deckarep/golang-set/v2"
	solanago "github.com/gagliardetto/solana-go"
)

// Ownership is the set of addresses treated as belonging to the monitored user.
// It is never modified after construction and may be read concurrently.
type Ownership struct {
	primary solanago.PublicKey
	members mapset.Set[solanago.PublicKey]
}

// NewOwnership builds the set {primary} ∪ derived.
func NewOwnership(primary solanago.PublicKey, derived ...solanago.PublicKey) *Ownership {
	members := mapset.NewThreadUnsafeSet[solanago.PublicKey](primary)
	for _, addr := range derived {
		members.Add(addr)
	}
	return &Ownership{primary: primary, members: members}
}

// Primary returns the primary address.
func (o *Ownership) Primary() solanago.PublicKey {
	return o.primary
}

// Contains reports whether addr is owned.
func (o *Ownership) Contains(addr solanago.PublicKey) bool {
	return o.members.Contains(addr)
}

// Len returns the number of owned addresses.
func (o *Ownership) Len() int {
	return o.members.Cardinality()
}

// Addresses returns the owned addresses sorted by their base58 text.
func (o *Ownership) Addresses() []solanago.PublicKey {
	addrs := o.members.ToSlice()
	sortAddresses(addrs)
	return addrs
}

func sortAddresses(addrs []solanago.PublicKey) {
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
}

// TokenAccountLister lists the token accounts of an owner under one token program.
type TokenAccountLister interface {
	TokenAccountsByOwner(ctx context.Context, owner, programID solanago.PublicKey) ([]solanago.PublicKey, error)
}

// ResolveOwnership builds the ownership set for primary from the token accounts it owns
// under every token program. Lookup failures are logged and the set keeps whatever was
// found, so the result always contains at least the primary address.
func ResolveOwnership(ctx context.Context, lister TokenAccountLister, primary solanago.PublicKey, logger *slog.Logger) *Ownership {
	var derived []solanago.PublicKey
	for _, programID := range solana.TokenProgramIDs {
		accounts, err := lister.TokenAccountsByOwner(ctx, primary, programID)
		if err != nil {
			logger.WarnContext(ctx, "could not list token accounts, monitoring with reduced coverage",
				"address", primary.String(),
				"program", programID.String(),
				"error", err,
			)
			continue
		}
		derived = append(derived, accounts...)
	}

	owned := NewOwnership(primary, derived...)
	logger.InfoContext(ctx, "resolved owned accounts",
		"address", primary.String(),
		"count", owned.Len(),
	)
	return owned
}
