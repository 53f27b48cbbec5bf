package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// WorkerState is the lifecycle state of a subscription worker.
type WorkerState int32

const (
	StateConnecting WorkerState = iota
	StateSubscribed
	StateListening
	StateClosed
	StateFailed
)

func (s WorkerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the worker has stopped.
func (s WorkerState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Worker owns the subscription for one owned address and feeds claimed signatures
// into the pipeline.
type Worker struct {
	address    solanago.PublicKey
	session    *Session
	subscriber solana.Subscriber
	pipeline   *Pipeline
	metrics    *metrics.Metrics
	logger     *slog.Logger

	state    atomic.Int32
	inflight sync.WaitGroup
}

// NewWorker creates a worker for address. It does nothing until Run is called.
func NewWorker(address solanago.PublicKey, session *Session, subscriber solana.Subscriber, pipeline *Pipeline, m *metrics.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		address:    address,
		session:    session,
		subscriber: subscriber,
		pipeline:   pipeline,
		metrics:    m,
		logger:     logger.With("address", address.String()),
	}
}

// Address returns the address this worker subscribes to.
func (w *Worker) Address() solanago.PublicKey {
	return w.address
}

// State returns the current state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Run subscribes and processes notifications until ctx is cancelled or the stream fails.
// It returns nil when stopped by cancellation and a *ConnectionError otherwise.
// Pipelines started by the worker have finished by the time Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(ctx, StateConnecting)

	sub, err := w.subscriber.Subscribe(ctx, w.address)
	if err != nil {
		if ctx.Err() != nil {
			w.setState(ctx, StateClosed)
			return nil
		}
		w.setState(ctx, StateFailed)
		return &ConnectionError{Address: w.address, Stage: StageSubscribe, Err: err}
	}
	w.setState(ctx, StateSubscribed)

	w.setState(ctx, StateListening)
	err = w.listen(ctx, sub)

	if closeErr := sub.Close(); closeErr != nil {
		w.logger.DebugContext(ctx, "failed to close subscription", "error", closeErr)
	}
	w.inflight.Wait()

	if err != nil && ctx.Err() == nil {
		w.setState(ctx, StateFailed)
		return &ConnectionError{Address: w.address, Stage: StageReceive, Err: err}
	}
	w.setState(ctx, StateClosed)
	return nil
}

func (w *Worker) listen(ctx context.Context, sub solana.Subscription) error {
	for {
		notification, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if w.metrics != nil {
			w.metrics.RecordNotification(w.address.String())
		}

		sig := notification.Signature
		claimed := w.session.Dedup.Claim(sig)
		if w.metrics != nil {
			w.metrics.RecordClaim(claimed)
		}
		if !claimed {
			w.logger.DebugContext(ctx, "duplicate notification", "signature", sig.String())
			continue
		}

		w.logger.DebugContext(ctx, "claimed signature",
			"signature", sig.String(),
			"slot", notification.Slot,
			"failed", notification.Failed,
		)

		w.inflight.Add(1)
		go func() {
			defer w.inflight.Done()
			if err := w.pipeline.Process(ctx, w.session, sig); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WarnContext(ctx, "abandoned transaction", "signature", sig.String(), "error", err)
			}
		}()
	}
}

func (w *Worker) setState(ctx context.Context, state WorkerState) {
	w.state.Store(int32(state))
	if w.metrics != nil {
		w.metrics.SetWorkerState(w.address.String(), state.String())
	}
	w.logger.DebugContext(ctx, "worker state changed", "state", state.String())
}
