package monitor

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	solanago "github.com/gagliardetto/solana-go"
)

// Deduplicator remembers which signatures have been claimed in a session.
// Membership is only observable through Claim, so check and insert cannot be split.
type Deduplicator struct {
	mu   sync.Mutex
	seen mapset.Set[solanago.Signature]
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen: mapset.NewThreadUnsafeSet[solanago.Signature](),
	}
}

// Claim records sig and reports whether this call was the first to do so.
func (d *Deduplicator) Claim(sig solanago.Signature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Add(sig)
}

// Len returns the number of claimed signatures.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Cardinality()
}
