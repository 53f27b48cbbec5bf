package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
)

// TransactionFetcher retrieves and normalizes a transaction by signature.
type TransactionFetcher interface {
	FetchTransaction(ctx context.Context, sig solanago.Signature) (*solana.Transaction, error)
}

// EventSink receives the transfer events of each processed transaction.
type EventSink interface {
	PublishTransferBatch(ctx context.Context, events []*natspkg.TransferEvent) error
}

// Session is the state shared by every worker of one monitoring run.
type Session struct {
	Dedup     *Deduplicator
	Ownership *Ownership
}

// NewSession creates a session with an empty Deduplicator.
func NewSession(owned *Ownership) *Session {
	return &Session{
		Dedup:     NewDeduplicator(),
		Ownership: owned,
	}
}

// Primary returns the session's primary address.
func (s *Session) Primary() solanago.PublicKey {
	return s.Ownership.Primary()
}

// Pipeline fetches, classifies and reports a single claimed signature.
type Pipeline struct {
	fetcher      TransactionFetcher
	reporter     *Reporter
	sink         EventSink
	filters      []*gojq.Code
	fetchTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Process runs the pipeline once. A fetch failure is reported and returned as a
// FetchError; the signature is not retried. When ctx is cancelled before the report is
// complete nothing is reported or published and ctx.Err() is returned.
func (p *Pipeline) Process(ctx context.Context, session *Session, sig solanago.Signature) error {
	fetchCtx := ctx
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	tx, err := p.fetcher.FetchTransaction(fetchCtx, sig)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.metrics != nil {
			p.metrics.RecordFetchFailure(fetchFailureReason(err))
		}
		p.reporter.ReportFetchFailure(sig, err)
		return &FetchError{Signature: sig, Err: err}
	}

	results := ClassifyTransaction(tx, session.Ownership)
	if p.metrics != nil {
		for _, result := range results {
			p.metrics.RecordClassification(string(result.Category))
		}
		if len(results) == 0 {
			p.metrics.RecordFallback()
		}
	}

	p.logger.DebugContext(ctx, "classified transaction",
		"signature", sig.String(),
		"relevant", len(results),
	)

	if err := p.reporter.Report(ctx, tx, session.Ownership, results); err != nil {
		return err
	}
	p.publish(ctx, tx, session.Ownership, results)
	return nil
}

// publish forwards matching events to the sink. Failures only get logged.
func (p *Pipeline) publish(ctx context.Context, tx *solana.Transaction, owned *Ownership, results []Result) {
	if p.sink == nil || len(results) == 0 {
		return
	}

	var events []*natspkg.TransferEvent
	for _, event := range NewTransferEvents(tx, owned, results) {
		ok, err := MatchesFilters(event, p.filters)
		if err != nil {
			p.logger.DebugContext(ctx, "jq filter error", "signature", event.Signature, "error", err)
			continue
		}
		if ok {
			events = append(events, event)
		}
	}
	if len(events) == 0 {
		return
	}

	if err := p.sink.PublishTransferBatch(ctx, events); err != nil {
		p.logger.WarnContext(ctx, "failed to publish transfer events",
			"signature", tx.Signature.String(),
			"error", err,
		)
	}
}

func fetchFailureReason(err error) string {
	switch {
	case errors.Is(err, solana.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
