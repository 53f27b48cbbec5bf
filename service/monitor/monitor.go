package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"golang.org/x/sync/errgroup"
)

// QueryService is the request/response side of the node used by a session.
// This allows for easy mocking in tests.
type QueryService interface {
	TokenAccountLister
	TransactionFetcher
	BalanceSource
}

// Config holds the dependencies and options of a Monitor.
type Config struct {
	Query      QueryService
	Subscriber solana.Subscriber

	// Output receives the human-readable report. Defaults to io.Discard.
	Output  io.Writer
	Cluster string // explorer cluster, e.g. "devnet"

	// Sink is optional; when set, relevant transfers matching every filter are published.
	Sink    EventSink
	Filters []*gojq.Code

	FetchTimeout       time.Duration
	ShutdownGrace      time.Duration // zero waits for workers indefinitely
	BalanceConcurrency int

	// StopOnWorkerExit ends the session as soon as any worker stops.
	// When false the session runs until cancelled or until every worker has stopped.
	StopOnWorkerExit bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Monitor runs monitoring sessions. Each session gets its own Deduplicator and
// connections; Snapshot reports the most recently started one.
type Monitor struct {
	query            QueryService
	subscriber       solana.Subscriber
	reporter         *Reporter
	pipeline         *Pipeline
	shutdownGrace    time.Duration
	stopOnWorkerExit bool
	metrics          *metrics.Metrics
	logger           *slog.Logger

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	primary solanago.PublicKey
	session *Session
	workers []*Worker
	started time.Time
}

// WorkerStatus is the observed state of one subscription worker.
type WorkerStatus struct {
	Address string `json:"address"`
	State   string `json:"state"`
}

// Snapshot describes the session currently being run.
type Snapshot struct {
	Primary   string         `json:"primary"`
	Accounts  []string       `json:"accounts"`
	Workers   []WorkerStatus `json:"workers"`
	Processed int            `json:"processed"`
	StartedAt time.Time      `json:"started_at"`
}

// New creates a Monitor from cfg.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}

	reporter := NewReporter(out, cfg.Query, cfg.Cluster, cfg.BalanceConcurrency, logger)
	return &Monitor{
		query:      cfg.Query,
		subscriber: cfg.Subscriber,
		reporter:   reporter,
		pipeline: &Pipeline{
			fetcher:      cfg.Query,
			reporter:     reporter,
			sink:         cfg.Sink,
			filters:      cfg.Filters,
			fetchTimeout: cfg.FetchTimeout,
			metrics:      cfg.Metrics,
			logger:       logger,
		},
		shutdownGrace:    cfg.ShutdownGrace,
		stopOnWorkerExit: cfg.StopOnWorkerExit,
		metrics:          cfg.Metrics,
		logger:           logger,
	}
}

// Accounts resolves the ownership set of primary.
func (m *Monitor) Accounts(ctx context.Context, primary solanago.PublicKey) *Ownership {
	return ResolveOwnership(ctx, m.query, primary, m.logger)
}

// Inspect runs the fetch, classify and report pipeline once for sig.
func (m *Monitor) Inspect(ctx context.Context, primary solanago.PublicKey, sig solanago.Signature) error {
	session := NewSession(m.Accounts(ctx, primary))
	return m.pipeline.Process(ctx, session, sig)
}

type workerExit struct {
	address solanago.PublicKey
	err     error
}

// Run monitors primary and every token account it owns until cancel completes, ctx is
// done, or workers stop (see Config.StopOnWorkerExit). Worker failures are logged, not
// returned. Run returns only after every worker has stopped, or ErrShutdownTimeout if
// workers are still running after the shutdown grace period.
func (m *Monitor) Run(ctx context.Context, primary solanago.PublicKey, cancel CancelSource) error {
	owned := m.Accounts(ctx, primary)
	m.reporter.PrintAccounts(owned)
	session := NewSession(owned)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	addresses := owned.Addresses()
	workers := make([]*Worker, 0, len(addresses))
	for _, addr := range addresses {
		workers = append(workers, NewWorker(addr, session, m.subscriber, m.pipeline, m.metrics, m.logger))
	}
	active := &activeSession{primary: primary, session: session, workers: workers, started: time.Now()}
	m.setActive(active)
	defer m.clearActive(active)

	exits := make(chan workerExit, len(addresses))
	var g errgroup.Group
	for _, worker := range workers {
		addr := worker.Address()
		g.Go(func() error {
			exits <- workerExit{address: addr, err: worker.Run(workerCtx)}
			return nil
		})
	}

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		if cancel == nil {
			<-workerCtx.Done()
			return
		}
		if err := cancel.Wait(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.WarnContext(ctx, "cancellation source failed", "error", err)
		}
	}()

	m.reporter.Printf("Listening for transactions on %d account(s).", len(addresses))
	m.logger.InfoContext(ctx, "monitoring started",
		"address", primary.String(),
		"accounts", len(addresses),
	)

	exited := make(map[solanago.PublicKey]bool, len(addresses))
	for len(exited) < len(addresses) {
		select {
		case <-cancelled:
			m.logger.InfoContext(ctx, "stopping monitoring")
			return m.drain(stopWorkers, &g, exits, exited, addresses)
		case exit := <-exits:
			exited[exit.address] = true
			m.logExit(exit)
			if m.stopOnWorkerExit {
				m.logger.InfoContext(ctx, "worker stopped, ending session", "address", exit.address.String())
				return m.drain(stopWorkers, &g, exits, exited, addresses)
			}
		}
	}

	m.logger.InfoContext(ctx, "all workers stopped")
	return m.drain(stopWorkers, &g, exits, exited, addresses)
}

// drain cancels the workers and waits for them within the shutdown grace period.
func (m *Monitor) drain(stopWorkers context.CancelFunc, g *errgroup.Group, exits <-chan workerExit, exited map[solanago.PublicKey]bool, addresses []solanago.PublicKey) error {
	stopWorkers()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if m.shutdownGrace > 0 {
		timer := time.NewTimer(m.shutdownGrace)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case exit := <-exits:
			exited[exit.address] = true
			m.logExit(exit)
		case <-done:
			// Every worker has sent its exit; collect the ones not yet read.
			for len(exited) < len(addresses) {
				exit := <-exits
				exited[exit.address] = true
				m.logExit(exit)
			}
			m.reporter.Printf("Monitoring stopped.")
			return nil
		case <-timeout:
			for _, addr := range addresses {
				if !exited[addr] {
					m.logger.Error("worker did not stop in time", "address", addr.String())
				}
			}
			return ErrShutdownTimeout
		}
	}
}

// Snapshot reports the latest running session. The second result is false when no session is running.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return Snapshot{}, false
	}

	snap := Snapshot{
		Primary:   active.primary.String(),
		Processed: active.session.Dedup.Len(),
		StartedAt: active.started,
	}
	for _, addr := range active.session.Ownership.Addresses() {
		snap.Accounts = append(snap.Accounts, addr.String())
	}
	for _, w := range active.workers {
		snap.Workers = append(snap.Workers, WorkerStatus{
			Address: w.Address().String(),
			State:   w.State().String(),
		})
	}
	return snap, true
}

func (m *Monitor) setActive(a *activeSession) {
	m.mu.Lock()
	m.active = a
	m.mu.Unlock()
}

func (m *Monitor) clearActive(a *activeSession) {
	m.mu.Lock()
	if m.active == a {
		m.active = nil
	}
	m.mu.Unlock()
}

func (m *Monitor) logExit(exit workerExit) {
	if exit.err == nil || errors.Is(exit.err, context.Canceled) {
		m.logger.Debug("worker stopped", "address", exit.address.String())
		return
	}
	m.logger.Error("worker failed", "address", exit.address.String(), "error", exit.err)
	m.reporter.Printf("Subscription for %s stopped: %v", exit.address, exit.err)
}
