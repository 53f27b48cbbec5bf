package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSNode starts a websocket server that hands each connection to serve.
func newWSNode(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// readRequest reads one JSON-RPC request from the client.
func readRequest(conn *websocket.Conn) (rpcRequest, error) {
	var req rpcRequest
	err := conn.ReadJSON(&req)
	return req, err
}

// drain blocks until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func logsNotification(subID uint64, sig solana.Signature, slot uint64, txErr string) string {
	return `{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":` +
		jsonNumber(subID) + `,"result":{"context":{"slot":` + jsonNumber(slot) +
		`},"value":{"signature":"` + sig.String() + `","err":` + txErr + `,"logs":[]}}}}`
}

func jsonNumber(n uint64) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func newTestSubscriber(url string) *WSSubscriber {
	return NewWSSubscriber(url, rpc.CommitmentFinalized, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWSSubscriber_AcknowledgedSubscriptionDeliversNotifications(t *testing.T) {
	address := solana.NewWallet().PublicKey()
	ok := solana.Signature{1, 2, 3}
	failed := solana.Signature{4, 5, 6}
	requests := make(chan rpcRequest, 2)

	url := newWSNode(t, func(conn *websocket.Conn) {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		requests <- req
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":42,"id":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(logsNotification(7, solana.Signature{9}, 1, "null")))
		conn.WriteMessage(websocket.TextMessage, []byte(logsNotification(42, ok, 100, "null")))
		conn.WriteMessage(websocket.TextMessage, []byte(logsNotification(42, failed, 101, `{"InstructionError":[0,"Custom"]}`)))

		if req, err := readRequest(conn); err == nil {
			requests <- req
		}
		drain(conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := newTestSubscriber(url).Subscribe(ctx, address)
	require.NoError(t, err)

	subscribe := <-requests
	assert.Equal(t, "logsSubscribe", subscribe.Method)
	require.Len(t, subscribe.Params, 2)
	assert.Equal(t, map[string]any{"mentions": []any{address.String()}}, subscribe.Params[0])
	assert.Equal(t, map[string]any{"commitment": "finalized"}, subscribe.Params[1])

	first, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, ok, first.Signature)
	assert.Equal(t, uint64(100), first.Slot)
	assert.False(t, first.Failed)

	second, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, failed, second.Signature)
	assert.True(t, second.Failed)

	require.NoError(t, sub.Close())
	unsubscribe := <-requests
	assert.Equal(t, "logsUnsubscribe", unsubscribe.Method)
	assert.Equal(t, []any{float64(42)}, unsubscribe.Params)
}

func TestWSSubscriber_RejectedSubscription(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr string
	}{
		{
			name:    "error reply",
			reply:   `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params: invalid pubkey"},"id":1}`,
			wantErr: "Invalid params: invalid pubkey",
		},
		{
			name:    "null result",
			reply:   `{"jsonrpc":"2.0","result":null,"id":1}`,
			wantErr: "no subscription id",
		},
		{
			name:    "missing result",
			reply:   `{"jsonrpc":"2.0","id":1}`,
			wantErr: "no subscription id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newWSNode(t, func(conn *websocket.Conn) {
				if _, err := readRequest(conn); err != nil {
					return
				}
				conn.WriteMessage(websocket.TextMessage, []byte(tt.reply))
				drain(conn)
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			sub, err := newTestSubscriber(url).Subscribe(ctx, solana.NewWallet().PublicKey())
			require.Error(t, err)
			assert.Nil(t, sub)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWSSubscriber_AcknowledgementWaitIsBoundedByContext(t *testing.T) {
	url := newWSNode(t, func(conn *websocket.Conn) {
		drain(conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestSubscriber(url).Subscribe(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWSSubscriber_ConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newTestSubscriber("ws://127.0.0.1:1").Subscribe(ctx, solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestWSSubscription_DroppedConnectionSurfacesFromRecv(t *testing.T) {
	url := newWSNode(t, func(conn *websocket.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":5,"id":1}`))
		// returning closes the connection without a close frame
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := newTestSubscriber(url).Subscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Recv(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWSSubscription_RecvHonoursContext(t *testing.T) {
	url := newWSNode(t, func(conn *websocket.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":5,"id":1}`))
		drain(conn)
	})

	sub, err := newTestSubscriber(url).Subscribe(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSSubscription_CloseIsIdempotent(t *testing.T) {
	url := newWSNode(t, func(conn *websocket.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":5,"id":1}`))
		drain(conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := newTestSubscriber(url).Subscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}
