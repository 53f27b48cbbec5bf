package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/monitor"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/server"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

// monitorCommand runs a live monitoring session.
func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:      "monitor",
		Usage:     "Watch a wallet and its token accounts for new transactions",
		ArgsUsage: "[ADDRESS]",
		Description: `Subscribe to the wallet and every token account it owns, and report each
transaction that mentions any of them exactly once, with its transfers classified
relative to the wallet.

Press ENTER or Ctrl+C to stop.

Example:
  walletwatch monitor 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
  walletwatch monitor --keypair ~/.config/solana/id.json --metrics-addr :9090`,
		Flags: []cli.Flag{
			keypairFlag(),
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /metrics, /health and the session status on this address (overrides METRICS_ADDR)",
			},
			&cli.DurationFlag{
				Name:  "fetch-timeout",
				Usage: "Give up on fetching a transaction after this long (overrides FETCH_TIMEOUT)",
			},
			&cli.DurationFlag{
				Name:  "shutdown-grace",
				Usage: "How long to wait for subscriptions to close on exit (overrides SHUTDOWN_GRACE)",
			},
			&cli.IntFlag{
				Name:  "balance-concurrency",
				Usage: "Parallel balance lookups per report (overrides BALANCE_CONCURRENCY)",
			},
			&cli.BoolFlag{
				Name:  "stop-on-worker-exit",
				Usage: "End the session when any subscription stops (overrides STOP_ON_WORKER_EXIT)",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter a transfer event must satisfy to be published (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("expected at most one wallet address")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, c.App.ErrWriter)

			primary, err := resolvePrimary(c, c.Args().First())
			if err != nil {
				return err
			}
			filters, err := monitor.CompileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.NewMetrics(registry)

			query, rpcURL, err := newQueryClient(cfg, m, logger)
			if err != nil {
				return err
			}
			wsURL, err := cfg.WebsocketURL(rpcURL)
			if err != nil {
				return err
			}
			subscriber := solana.NewWSSubscriber(wsURL, rpc.CommitmentType(cfg.Commitment), logger)

			var sink monitor.EventSink
			var transfers server.TransferSource
			if cfg.NATSURL != "" {
				publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
				if err != nil {
					return err
				}
				defer publisher.Close()
				sink = publisher

				if cfg.MetricsAddr != "" {
					consumer, err := natspkg.NewConsumer(cfg.NATSURL, logger)
					if err != nil {
						return err
					}
					defer consumer.Close()
					transfers = consumer
				}
			} else if len(filters) > 0 {
				logger.Warn("--must-jq has no effect without a NATS URL")
			}

			mon := monitor.New(monitor.Config{
				Query:              query,
				Subscriber:         subscriber,
				Output:             c.App.Writer,
				Cluster:            cfg.Cluster,
				Sink:               sink,
				Filters:            filters,
				FetchTimeout:       cfg.FetchTimeout,
				ShutdownGrace:      cfg.ShutdownGrace,
				BalanceConcurrency: cfg.BalanceConcurrency,
				StopOnWorkerExit:   cfg.StopOnWorkerExit,
				Metrics:            m,
				Logger:             logger,
			})

			if cfg.MetricsAddr != "" {
				srv := server.New(cfg.MetricsAddr, mon, registry, m, logger)
				if transfers != nil {
					srv.WithTransfers(transfers)
				}
				go func() {
					if err := srv.Start(); err != nil {
						logger.Error("status server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Error("failed to shutdown status server", "error", err)
					}
				}()
			}

			fmt.Fprintln(c.App.Writer, "Press ENTER or Ctrl+C to stop monitoring.")
			return mon.Run(ctx, primary, monitor.NewReaderCancelSource(os.Stdin))
		},
	}
}

// inspectCommand runs the classification pipeline once for a past transaction.
func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Classify a single transaction relative to a wallet",
		ArgsUsage: "SIGNATURE [ADDRESS]",
		Description: `Fetch one transaction and print the same report a live session would print
for it, including the current balances of the affected owned accounts.

Example:
  walletwatch inspect 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW --keypair id.json`,
		Flags: []cli.Flag{
			keypairFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return fmt.Errorf("usage: walletwatch inspect SIGNATURE [ADDRESS]")
			}
			sig, err := solanago.SignatureFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid signature %q: %w", c.Args().Get(0), err)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, c.App.ErrWriter)

			primary, err := resolvePrimary(c, c.Args().Get(1))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			query, _, err := newQueryClient(cfg, nil, logger)
			if err != nil {
				return err
			}
			mon := monitor.New(monitor.Config{
				Query:              query,
				Output:             c.App.Writer,
				Cluster:            cfg.Cluster,
				FetchTimeout:       cfg.FetchTimeout,
				BalanceConcurrency: cfg.BalanceConcurrency,
				Logger:             logger,
			})
			if err := mon.Inspect(ctx, primary, sig); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// accountsCommand prints the ownership set a session would monitor.
func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:      "accounts",
		Usage:     "List the wallet and the token accounts it owns",
		ArgsUsage: "[ADDRESS]",
		Flags: []cli.Flag{
			keypairFlag(),
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, c.App.ErrWriter)

			primary, err := resolvePrimary(c, c.Args().First())
			if err != nil {
				return err
			}

			query, _, err := newQueryClient(cfg, nil, logger)
			if err != nil {
				return err
			}
			owned := monitor.ResolveOwnership(c.Context, query, primary, logger)
			return printAccounts(c, owned)
		},
	}
}

func printAccounts(c *cli.Context, owned *monitor.Ownership) error {
	addresses := owned.Addresses()

	if c.Bool("json") {
		out := struct {
			Primary  string   `json:"primary"`
			Accounts []string `json:"accounts"`
		}{Primary: owned.Primary().String()}
		for _, addr := range addresses {
			out.Accounts = append(out.Accounts, addr.String())
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(data))
		return nil
	}

	fmt.Fprintf(c.App.Writer, "%d account(s) owned by %s:\n", len(addresses), owned.Primary())
	for _, addr := range addresses {
		tag := ""
		if addr == owned.Primary() {
			tag = " (primary)"
		}
		fmt.Fprintf(c.App.Writer, "  %s%s\n", addr, tag)
	}
	return nil
}
