package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Consumer reads transfer events back from the TRANSFERS stream.
type Consumer struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewConsumer connects to NATS for reading transfer events.
func NewConsumer(natsURL string, logger *slog.Logger) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("walletwatch-consumer"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Consumer{nc: nc, js: js, logger: logger}, nil
}

// FilterSubject returns the subject to consume for primary; empty means every wallet.
func FilterSubject(primary string) string {
	if primary == "" {
		return StreamSubjects
	}
	return Subject(primary)
}

// Stream delivers new transfer events for primary (every wallet when empty) to handle
// until ctx is done or handle returns an error. Events that cannot be decoded are
// logged and skipped. Cancellation returns nil.
func (c *Consumer) Stream(ctx context.Context, primary string, handle func(*TransferEvent) error) error {
	subject := FilterSubject(primary)
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer for %s: %w", subject, err)
	}

	msgs := make(chan jetstream.Msg, 16)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", subject, err)
	}
	defer cc.Stop()

	c.logger.DebugContext(ctx, "consuming transfer events", "subject", subject)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			event, err := DecodeTransferEvent(msg.Data())
			if ackErr := msg.Ack(); ackErr != nil {
				c.logger.DebugContext(ctx, "failed to ack message", "error", ackErr)
			}
			if err != nil {
				c.logger.WarnContext(ctx, "skipping undecodable event",
					"subject", msg.Subject(),
					"error", err,
				)
				continue
			}
			if err := handle(event); err != nil {
				return err
			}
		}
	}
}

// StreamInfo returns the state and configuration of the TRANSFERS stream.
func (c *Consumer) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := c.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info, nil
}

// Close closes the connection to NATS.
func (c *Consumer) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// DecodeTransferEvent parses a published event.
func DecodeTransferEvent(data []byte) (*TransferEvent, error) {
	var event TransferEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode transfer event: %w", err)
	}
	if event.Signature == "" {
		return nil, fmt.Errorf("failed to decode transfer event: missing signature")
	}
	return &event, nil
}
