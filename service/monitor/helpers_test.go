package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

func newKey() solanago.PublicKey {
	return solanago.NewWallet().PublicKey()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuery implements QueryService.
// It's behavior-focused: we set what it should return, not verify call sequences.
type fakeQuery struct {
	mu            sync.Mutex
	transactions  map[solanago.Signature]*solana.Transaction
	fetchErr      error
	fetchBlock    chan struct{} // when set, fetches wait for it or ctx
	fetches       map[solanago.Signature]int
	balances      map[solanago.PublicKey]uint64
	balanceErr    map[solanago.PublicKey]error
	balanceBlock  chan struct{} // when set, balance lookups signal balanceWait and wait for it or ctx
	balanceWait   chan struct{}
	tokenBalances map[solanago.PublicKey]*solana.TokenBalance
	tokenAccounts map[solanago.PublicKey][]solanago.PublicKey // keyed by program ID
	listErr       error
}

func (f *fakeQuery) FetchTransaction(ctx context.Context, sig solanago.Signature) (*solana.Transaction, error) {
	f.mu.Lock()
	if f.fetches == nil {
		f.fetches = make(map[solanago.Signature]int)
	}
	f.fetches[sig]++
	block := f.fetchBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	tx, ok := f.transactions[sig]
	if !ok {
		return nil, solana.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeQuery) fetchCount(sig solanago.Signature) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[sig]
}

func (f *fakeQuery) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.fetches {
		total += n
	}
	return total
}

func (f *fakeQuery) NativeBalance(ctx context.Context, account solanago.PublicKey) (uint64, error) {
	if f.balanceBlock != nil {
		select {
		case f.balanceWait <- struct{}{}:
		default:
		}
		select {
		case <-f.balanceBlock:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err := f.balanceErr[account]; err != nil {
		return 0, err
	}
	return f.balances[account], nil
}

func (f *fakeQuery) TokenBalance(ctx context.Context, account solanago.PublicKey) (*solana.TokenBalance, error) {
	if f.balanceBlock != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	balance, ok := f.tokenBalances[account]
	if !ok {
		return nil, solana.ErrNotTokenAccount
	}
	return balance, nil
}

func (f *fakeQuery) TokenAccountsByOwner(ctx context.Context, owner, programID solanago.PublicKey) ([]solanago.PublicKey, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tokenAccounts[programID], nil
}

// fakeSubscription delivers whatever is pushed into its channels.
type fakeSubscription struct {
	notifications chan *solana.Notification
	errs          chan error
	ignoreCtx     bool // Recv keeps blocking after cancellation
	closed        atomic.Bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		notifications: make(chan *solana.Notification, 16),
		errs:          make(chan error, 1),
	}
}

func (s *fakeSubscription) Recv(ctx context.Context) (*solana.Notification, error) {
	done := ctx.Done()
	if s.ignoreCtx {
		done = nil
	}
	select {
	case n := <-s.notifications:
		return n, nil
	case err := <-s.errs:
		return nil, err
	case <-done:
		return nil, ctx.Err()
	}
}

func (s *fakeSubscription) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSubscription) send(sig solanago.Signature) {
	s.notifications <- &solana.Notification{Signature: sig}
}

// fakeSubscriber hands out one fakeSubscription per address.
type fakeSubscriber struct {
	mu            sync.Mutex
	subscriptions map[solanago.PublicKey]*fakeSubscription
	subscribeErr  map[solanago.PublicKey]error
	subscribed    chan solanago.PublicKey
}

func newFakeSubscriber(addrs ...solanago.PublicKey) *fakeSubscriber {
	s := &fakeSubscriber{
		subscriptions: make(map[solanago.PublicKey]*fakeSubscription),
		subscribeErr:  make(map[solanago.PublicKey]error),
		subscribed:    make(chan solanago.PublicKey, 16),
	}
	for _, addr := range addrs {
		s.subscriptions[addr] = newFakeSubscription()
	}
	return s
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, address solanago.PublicKey) (solana.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.subscribeErr[address]; err != nil {
		return nil, err
	}
	sub, ok := s.subscriptions[address]
	if !ok {
		return nil, errors.New("unexpected subscription")
	}
	s.subscribed <- address
	return sub, nil
}

func (s *fakeSubscriber) sub(addr solanago.PublicKey) *fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[addr]
}

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
