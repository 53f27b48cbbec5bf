package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/monitor"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionSource reports the monitoring session currently running.
type SessionSource interface {
	Snapshot() (monitor.Snapshot, bool)
}

// TransferSource streams published transfer events; an empty primary means every wallet.
type TransferSource interface {
	Stream(ctx context.Context, primary string, handle func(*natspkg.TransferEvent) error) error
}

// Server is the status endpoint of a monitoring session: health, the live session
// snapshot, Prometheus metrics and, when NATS is configured, a transfer event stream.
type Server struct {
	addr      string
	sessions  SessionSource
	transfers TransferSource
	gatherer  prometheus.Gatherer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a status server. A nil gatherer serves the default Prometheus registry.
// If metrics is nil, HTTP requests are not recorded.
func New(addr string, sessions SessionSource, gatherer prometheus.Gatherer, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		sessions: sessions,
		gatherer: gatherer,
		metrics:  m,
		logger:   logger,
	}
}

// WithTransfers enables the transfer event stream endpoints.
func (s *Server) WithTransfers(src TransferSource) *Server {
	s.transfers = src
	return s
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", s.instrument("health", handleHealth()))
	mux.Handle("GET /api/v1/session", s.instrument("session", handleSession(s.sessions, s.logger)))

	if s.transfers != nil {
		stream := s.instrument("stream", handleStreamTransfers(s.transfers, s.logger))
		mux.Handle("GET /api/v1/stream/transfers/{address}", stream)
		mux.Handle("GET /api/v1/stream/transfers", stream)
	}

	metricsHandler := promhttp.Handler()
	if s.gatherer != nil {
		metricsHandler = promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	mux.Handle("GET /metrics", s.instrument("metrics", metricsHandler))

	return corsMiddleware(mux)
}

// Start serves until Shutdown is called. It returns immediately if Shutdown already ran.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("starting status server",
		"addr", s.addr,
		"transfer_stream", s.transfers != nil,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server. Open event streams end when
// their request contexts are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down status server")
	return srv.Shutdown(ctx)
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
