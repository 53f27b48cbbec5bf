package monitor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(query *fakeQuery, out *bytes.Buffer, sink EventSink, filters []string, m *metrics.Metrics) *Pipeline {
	compiled, err := CompileFilters(filters)
	if err != nil {
		panic(err)
	}
	return &Pipeline{
		fetcher:      query,
		reporter:     NewReporter(out, query, "devnet", 1, discardLogger()),
		sink:         sink,
		filters:      compiled,
		fetchTimeout: time.Second,
		metrics:      m,
		logger:       discardLogger(),
	}
}

func TestPipeline_ProcessPublishesMatchingEvents(t *testing.T) {
	primary, tokenAcct, external := newKey(), newKey(), newKey()
	session := NewSession(NewOwnership(primary, tokenAcct))
	sig := solanago.Signature{1}

	query := &fakeQuery{transactions: map[solanago.Signature]*solana.Transaction{
		sig: {
			Signature:   sig,
			Slot:        99,
			AccountKeys: []solanago.PublicKey{primary, external, tokenAcct},
			Instructions: []solana.Instruction{
				solana.NativeTransfer{Source: primary, Destination: external, Lamports: 100},
				solana.NativeTransfer{Source: external, Destination: tokenAcct, Lamports: 2_039_280},
			},
		},
	}}
	publisher := natspkg.NewMockPublisher()
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	var out bytes.Buffer
	p := newTestPipeline(query, &out, publisher, []string{`.category == "send-native"`}, m)

	require.NoError(t, p.Process(context.Background(), session, sig))

	events := publisher.GetPublishedEventsForPrimary(primary.String())
	require.Len(t, events, 1)
	assert.Equal(t, "send-native", events[0].Category)
	assert.Equal(t, sig.String(), events[0].Signature)
	assert.Equal(t, uint64(100), events[0].Amount)
	assert.Equal(t, "#0", events[0].Instruction)

	assert.Contains(t, out.String(), "[send-native]")
	assert.Contains(t, out.String(), "[rent-deposit]")

	// One series per category seen.
	count, err := testutil.GatherAndCount(registry, "monitor_classifications_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipeline_SinkFailureDoesNotAffectReport(t *testing.T) {
	primary, external := newKey(), newKey()
	session := NewSession(NewOwnership(primary))
	sig := solanago.Signature{2}

	query := &fakeQuery{transactions: map[solanago.Signature]*solana.Transaction{
		sig: {
			Signature:    sig,
			AccountKeys:  []solanago.PublicKey{external, primary},
			Instructions: []solana.Instruction{solana.NativeTransfer{Source: external, Destination: primary, Lamports: 5}},
		},
	}}
	publisher := natspkg.NewMockPublisher()
	publisher.SetPublishError(errors.New("nats: no responders"))

	var out bytes.Buffer
	p := newTestPipeline(query, &out, publisher, nil, nil)

	require.NoError(t, p.Process(context.Background(), session, sig))
	assert.Contains(t, out.String(), "[receive-native]")
	assert.Empty(t, publisher.GetPublishedEvents())
}

func TestPipeline_FetchFailureIsReportedNotRetried(t *testing.T) {
	session := NewSession(NewOwnership(newKey()))
	sig := solanago.Signature{3}
	query := &fakeQuery{fetchErr: errors.New("connection refused")}

	var out bytes.Buffer
	p := newTestPipeline(query, &out, nil, nil, nil)

	err := p.Process(context.Background(), session, sig)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, sig, fetchErr.Signature)
	assert.Equal(t, 1, query.fetchCount(sig))
	assert.Contains(t, out.String(), "Could not fetch transaction "+sig.String())
}

func TestPipeline_NotFound(t *testing.T) {
	session := NewSession(NewOwnership(newKey()))
	sig := solanago.Signature{4}

	var out bytes.Buffer
	p := newTestPipeline(&fakeQuery{}, &out, nil, nil, nil)

	err := p.Process(context.Background(), session, sig)
	assert.ErrorIs(t, err, solana.ErrTransactionNotFound)
	assert.Contains(t, out.String(), "was not found")
}

func TestPipeline_CancelledFetchIsSilent(t *testing.T) {
	session := NewSession(NewOwnership(newKey()))
	query := &fakeQuery{fetchBlock: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	p := newTestPipeline(query, &out, nil, nil, nil)

	err := p.Process(ctx, session, solanago.Signature{5})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestPipeline_CancellationDuringBalanceLookupsIsSilent(t *testing.T) {
	primary, tokenAcct, external := newKey(), newKey(), newKey()
	session := NewSession(NewOwnership(primary, tokenAcct))
	sig := solanago.Signature{6}

	query := &fakeQuery{
		transactions: map[solanago.Signature]*solana.Transaction{
			sig: {
				Signature:    sig,
				AccountKeys:  []solanago.PublicKey{primary, external, tokenAcct},
				Instructions: []solana.Instruction{solana.NativeTransfer{Source: primary, Destination: external, Lamports: 7}},
			},
		},
		balanceBlock: make(chan struct{}),
		balanceWait:  make(chan struct{}, 1),
	}
	publisher := natspkg.NewMockPublisher()

	var out bytes.Buffer
	p := newTestPipeline(query, &out, publisher, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Process(ctx, session, sig) }()

	select {
	case <-query.balanceWait:
	case <-time.After(5 * time.Second):
		t.Fatal("balance lookup never started")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}
	assert.Empty(t, out.String())
	assert.Empty(t, publisher.GetPublishedEvents())
}

func TestMatchesFilters(t *testing.T) {
	event := &natspkg.TransferEvent{Category: "receive-token", Amount: 2_500_000, Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{name: "no filters", want: true},
		{name: "all true", filters: []string{`.category == "receive-token"`, `.amount > 1000000`}, want: true},
		{name: "one false", filters: []string{`.category == "receive-token"`, `.amount > 3000000`}},
		{name: "null is falsy", filters: []string{`.missing`}},
		{name: "strings are truthy", filters: []string{`.mint`}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := CompileFilters(tt.filters)
			require.NoError(t, err)

			got, err := MatchesFilters(event, compiled)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileFilters_Invalid(t *testing.T) {
	_, err := CompileFilters([]string{`.amount >`})
	assert.Error(t, err)
}
