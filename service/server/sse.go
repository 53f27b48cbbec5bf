package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/walletwatch/service/nats"
)

// keepaliveInterval is how often an idle event stream sends a comment line.
var keepaliveInterval = 10 * time.Second

// handleStreamTransfers relays transfer events as Server-Sent Events.
// Without an address path parameter every wallet's transfers are streamed.
func handleStreamTransfers(transfers TransferSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		desc := "all wallets"
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			desc = address
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ctx := r.Context()
		events := make(chan *natspkg.TransferEvent, 16)
		streamErr := make(chan error, 1)
		go func() {
			streamErr <- transfers.Stream(ctx, address, func(event *natspkg.TransferEvent) error {
				select {
				case events <- event:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", desc)
		flusher.Flush()

		logger.DebugContext(ctx, "SSE client connected",
			"wallet", desc,
			"remote_addr", r.RemoteAddr,
		)

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: transfer\ndata: %s\n\n", data)
				flusher.Flush()

			case err := <-streamErr:
				if err != nil && ctx.Err() == nil {
					logger.ErrorContext(ctx, "transfer stream failed",
						"wallet", desc,
						"error", err,
					)
					fmt.Fprintf(w, "event: error\ndata: {\"error\":\"stream failed\"}\n\n")
					flusher.Flush()
				}
				return

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"wallet", desc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
