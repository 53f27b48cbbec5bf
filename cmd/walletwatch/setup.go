package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/walletwatch/service/config"
	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

const defaultNATSURL = "nats://localhost:4222"

func keypairFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "keypair",
		Aliases: []string{"k"},
		Usage:   "Solana CLI keypair file; only its public key is used",
	}
}

func setupLogger(levelStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

// loadConfig reads the environment and applies any flags set on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("rpc-url") {
		cfg.RPCURLs = nil
		for _, u := range strings.Split(c.String("rpc-url"), ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.RPCURLs = append(cfg.RPCURLs, u)
			}
		}
	}
	if c.IsSet("ws-url") {
		cfg.WSURL = c.String("ws-url")
	}
	if c.IsSet("commitment") {
		cfg.Commitment = c.String("commitment")
	}
	if c.IsSet("cluster") {
		cfg.Cluster = c.String("cluster")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("nats-url") {
		cfg.NATSURL = c.String("nats-url")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("fetch-timeout") {
		cfg.FetchTimeout = c.Duration("fetch-timeout")
	}
	if c.IsSet("shutdown-grace") {
		cfg.ShutdownGrace = c.Duration("shutdown-grace")
	}
	if c.IsSet("balance-concurrency") {
		cfg.BalanceConcurrency = c.Int("balance-concurrency")
	}
	if c.IsSet("stop-on-worker-exit") {
		cfg.StopOnWorkerExit = c.Bool("stop-on-worker-exit")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePrimary returns the wallet to monitor from an address argument or --keypair.
func resolvePrimary(c *cli.Context, arg string) (solanago.PublicKey, error) {
	keypair := c.String("keypair")
	switch {
	case arg != "" && keypair != "":
		return solanago.PublicKey{}, fmt.Errorf("use either an address or --keypair, not both")
	case arg != "":
		pk, err := solanago.PublicKeyFromBase58(arg)
		if err != nil {
			return solanago.PublicKey{}, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		return pk, nil
	case keypair != "":
		key, err := solanago.PrivateKeyFromSolanaKeygenFile(keypair)
		if err != nil {
			return solanago.PublicKey{}, fmt.Errorf("failed to read keypair %s: %w", keypair, err)
		}
		return key.PublicKey(), nil
	default:
		return solanago.PublicKey{}, fmt.Errorf("wallet address is required (pass ADDRESS or --keypair)")
	}
}

// newQueryClient picks one of the configured RPC endpoints and wraps it.
func newQueryClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*solana.Client, string, error) {
	rpcURL, err := solana.SelectRandomEndpoint(cfg.RPCURLs)
	if err != nil {
		return nil, "", err
	}
	endpoint := extractEndpointFromURL(rpcURL)
	logger.Debug("selected RPC endpoint",
		"endpoint", endpoint,
		"total_endpoints", len(cfg.RPCURLs),
	)
	client := solana.NewClient(solana.NewRPCClient(rpcURL), endpoint, rpc.CommitmentType(cfg.Commitment), m, logger)
	return client, rpcURL, nil
}

// extractEndpointFromURL extracts a short identifier from the Solana RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "http://localhost:8899" -> "localhost"
func extractEndpointFromURL(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	if host == "127.0.0.1" || host == "localhost" {
		return "localhost"
	}
	return host
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
