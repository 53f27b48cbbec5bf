package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

const (
	subscribeRequestID   = 1
	unsubscribeRequestID = 2

	handshakeTimeout  = 10 * time.Second
	closeWriteTimeout = time.Second
)

// ErrSubscriptionClosed is returned by Recv once the connection has gone away.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Notification is a log notification for a transaction that mentions a subscribed address.
type Notification struct {
	Signature solana.Signature
	Slot      uint64
	Failed    bool // the transaction carried an on-chain error
}

// Subscription delivers notifications for one address until closed.
type Subscription interface {
	// Recv blocks until the next notification, a connection error or ctx is done.
	Recv(ctx context.Context) (*Notification, error)
	// Close unsubscribes and closes the underlying connection. It is safe to call more than once.
	Close() error
}

// Subscriber opens streaming subscriptions.
type Subscriber interface {
	// Subscribe connects and returns once the node has accepted the subscription.
	Subscribe(ctx context.Context, address solana.PublicKey) (Subscription, error)
}

// WSSubscriber opens one websocket connection per subscription and issues
// logsSubscribe with a mentions filter.
type WSSubscriber struct {
	url        string
	commitment rpc.CommitmentType
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// NewWSSubscriber creates a Subscriber for the given websocket endpoint.
func NewWSSubscriber(wsURL string, commitment rpc.CommitmentType, logger *slog.Logger) *WSSubscriber {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &WSSubscriber{
		url:        wsURL,
		commitment: commitment,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcMessage covers both replies (ID set) and notifications (Method set).
type rpcMessage struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// Subscribe implements Subscriber. It waits for the node's reply to logsSubscribe and
// fails if the reply is an error or carries no subscription id.
func (s *WSSubscriber) Subscribe(ctx context.Context, address solana.PublicKey) (Subscription, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}

	subID, err := s.subscribe(ctx, conn, address)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to subscribe to logs mentioning %s: %w", address, err)
	}

	s.logger.DebugContext(ctx, "logs subscription accepted",
		"address", address.String(),
		"commitment", string(s.commitment),
		"subscription_id", subID,
	)

	sub := &wsSubscription{
		conn:          conn,
		subID:         subID,
		notifications: make(chan *Notification),
		done:          make(chan struct{}),
		logger:        s.logger,
	}
	go sub.readLoop()
	return sub, nil
}

// subscribe sends logsSubscribe and reads until the matching reply. ctx bounds the wait.
func (s *WSSubscriber) subscribe(ctx context.Context, conn *websocket.Conn, address solana.PublicKey) (uint64, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  "logsSubscribe",
		Params: []any{
			map[string][]string{"mentions": {address.String()}},
			map[string]string{"commitment": string(s.commitment)},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return 0, fmt.Errorf("subscribe write failed: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("subscribe read failed: %w", err)
		}
		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return 0, fmt.Errorf("subscribe parse failed: %w", err)
		}
		if msg.ID == nil || *msg.ID != subscribeRequestID {
			continue
		}
		if msg.Error != nil {
			return 0, fmt.Errorf("subscribe rejected: %s (code %d)", msg.Error.Message, msg.Error.Code)
		}
		var subID uint64
		if isNull(msg.Result) {
			return 0, fmt.Errorf("subscribe reply carried no subscription id")
		}
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return 0, fmt.Errorf("invalid subscription id %s: %w", msg.Result, err)
		}
		return subID, nil
	}
}

type wsSubscription struct {
	conn          *websocket.Conn
	subID         uint64
	notifications chan *Notification
	done          chan struct{}
	logger        *slog.Logger

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
}

// readLoop decodes logsNotification messages until the connection fails or Close is called.
func (w *wsSubscription) readLoop() {
	defer close(w.notifications)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.errMu.Lock()
			w.readErr = err
			w.errMu.Unlock()
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Debug("ignoring undecodable websocket message", "error", err)
			continue
		}
		if msg.Method != "logsNotification" || msg.Params == nil || msg.Params.Subscription != w.subID {
			continue
		}
		sig, err := solana.SignatureFromBase58(msg.Params.Result.Value.Signature)
		if err != nil {
			w.logger.Debug("ignoring notification with invalid signature", "error", err)
			continue
		}

		notification := &Notification{
			Signature: sig,
			Slot:      msg.Params.Result.Context.Slot,
			Failed:    !isNull(msg.Params.Result.Value.Err),
		}
		select {
		case w.notifications <- notification:
		case <-w.done:
			return
		}
	}
}

func (w *wsSubscription) Recv(ctx context.Context) (*Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n, ok := <-w.notifications:
		if ok {
			return n, nil
		}
	}

	w.errMu.Lock()
	err := w.readErr
	w.errMu.Unlock()
	select {
	case <-w.done:
		return nil, ErrSubscriptionClosed
	default:
	}
	if err == nil {
		return nil, ErrSubscriptionClosed
	}
	return nil, fmt.Errorf("%w: %v", ErrSubscriptionClosed, err)
}

func (w *wsSubscription) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      unsubscribeRequestID,
			Method:  "logsUnsubscribe",
			Params:  []any{w.subID},
		}
		w.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		w.conn.WriteJSON(req)
		w.conn.Close()
	})
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
