package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletwatch/client"
	"github.com/brojonat/walletwatch/service/monitor"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/urfave/cli/v2"
)

func mustJQFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "must-jq",
		Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
		Aliases: []string{"jq"},
	}
}

// natsURL returns the configured NATS URL, falling back to a local server.
func natsURL(c *cli.Context) (string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return "", err
	}
	if cfg.NATSURL == "" {
		return defaultNATSURL, nil
	}
	return cfg.NATSURL, nil
}

// subscribeCommand tails transfer events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream published transfer events",
		ArgsUsage: "[ADDRESS]",
		Description: `Stream transfer events published by running monitors to NATS JetStream.
Events are published to the subject: transfers.{wallet_address}
Without an address, events for every wallet are shown.

Example:
  walletwatch events subscribe 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --jq '.category == "receive-token"'`,
		Flags: []cli.Flag{
			mustJQFlag(),
		},
		Action: func(c *cli.Context) error {
			serverURL, err := natsURL(c)
			if err != nil {
				return err
			}
			filters, err := monitor.CompileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			logger := setupLogger("warn", c.App.ErrWriter)

			consumer, err := natspkg.NewConsumer(serverURL, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			primary := c.Args().First()
			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(c.App.Writer, "Subscribing to: %s\n", natspkg.FilterSubject(primary))
				fmt.Fprintf(c.App.Writer, "Waiting for transfers... (Ctrl-C to exit)\n\n")
			}

			count := 0
			err = consumer.Stream(ctx, primary, func(event *natspkg.TransferEvent) error {
				ok, err := monitor.MatchesFilters(event, filters)
				if err != nil || !ok {
					return err
				}
				count++
				return writeTransferEvent(c.App.Writer, event, jsonOutput)
			})
			if err != nil {
				return err
			}
			if !jsonOutput {
				fmt.Fprintf(c.App.Writer, "\nReceived %d transfer(s)\n", count)
			}
			return nil
		},
	}
}

// awaitCommand waits for one matching transfer on a running monitor's event stream.
func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a transfer matching the given filters",
		ArgsUsage: "ADDRESS",
		Description: `Connect to the status server of a running monitor and block until a transfer
for the wallet satisfies every filter. Exits non-zero on timeout.

Example:
  walletwatch events await 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM \
    --jq '.category == "receive-native"' --jq '.amount >= 1000000000'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Only match this transaction signature",
			},
			mustJQFlag(),
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			primary := c.Args().First()
			signature := c.String("signature")
			jqFilters := c.StringSlice("must-jq")
			if signature == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify at least one filter: --signature or --must-jq")
			}
			filters, err := monitor.CompileFilters(jqFilters)
			if err != nil {
				return err
			}

			logger := setupLogger("error", c.App.ErrWriter)
			cl := client.NewClient(c.String("server-url"), nil, logger)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			var filterErr error
			event, err := cl.Await(ctx, primary, func(e *natspkg.TransferEvent) bool {
				if signature != "" && e.Signature != signature {
					return false
				}
				ok, err := monitor.MatchesFilters(e, filters)
				if err != nil {
					filterErr = err
					return false
				}
				return ok
			})
			if err != nil {
				if filterErr != nil {
					return fmt.Errorf("no matching transfer (last filter error: %w)", filterErr)
				}
				return fmt.Errorf("no matching transfer: %w", err)
			}
			return writeTransferEvent(c.App.Writer, event, c.Bool("json"))
		},
	}
}

// inspectStreamCommand shows information about the TRANSFERS stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Action: func(c *cli.Context) error {
			serverURL, err := natsURL(c)
			if err != nil {
				return err
			}
			consumer, err := natspkg.NewConsumer(serverURL, setupLogger("warn", c.App.ErrWriter))
			if err != nil {
				return err
			}
			defer consumer.Close()

			info, err := consumer.StreamInfo(c.Context)
			if err != nil {
				return err
			}

			w := c.App.Writer
			if c.Bool("json") {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Fprintln(w, string(data))
				return nil
			}
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}

func writeTransferEvent(w io.Writer, event *natspkg.TransferEvent, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
	fmt.Fprintf(w, "Wallet:       %s\n", event.Primary)
	fmt.Fprintf(w, "Category:     %s (instruction %s)\n", event.Category, event.Instruction)
	fmt.Fprintf(w, "From:         %s\n", event.Source)
	fmt.Fprintf(w, "To:           %s\n", event.Destination)
	fmt.Fprintf(w, "Amount:       %s\n", event.UIAmount)
	if event.Mint != "" {
		fmt.Fprintf(w, "Mint:         %s\n", event.Mint)
	}
	fmt.Fprintf(w, "Slot:         %d\n", event.Slot)
	fmt.Fprintf(w, "Block Time:   %s\n", formatTime(event.BlockTime))
	if event.Failed {
		fmt.Fprintf(w, "Status:       failed\n")
	}
	fmt.Fprintf(w, "\n")
	return nil
}
