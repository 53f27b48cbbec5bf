package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/walletwatch/client"
	"github.com/urfave/cli/v2"
)

// statusCommand queries the status server of a running monitor.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the session of a running monitor (requires --metrics-addr on the monitor)",
		Description: `Ask a running 'walletwatch monitor' which accounts it watches and what state
each subscription is in.

Example:
  walletwatch --server-url http://localhost:9090 status`,
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set WALLETWATCH_SERVER_URL or use --server-url)")
			}

			cl := client.NewClient(serverURL, nil, setupLogger("error", c.App.ErrWriter))
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("status server at %s is not healthy: %w", serverURL, err)
			}
			snap, err := cl.Session(c.Context)
			if errors.Is(err, client.ErrNoSession) {
				fmt.Fprintln(c.App.Writer, "No monitoring session is running.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}

			if c.Bool("json") {
				data, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, string(data))
				return nil
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Wallet:     %s\n", snap.Primary)
			fmt.Fprintf(w, "Running:    %s (since %s)\n",
				time.Since(snap.StartedAt).Truncate(time.Second), snap.StartedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "Processed:  %d transaction(s)\n", snap.Processed)
			fmt.Fprintf(w, "Subscriptions:\n")
			for _, worker := range snap.Workers {
				fmt.Fprintf(w, "  %-44s  %s\n", worker.Address, worker.State)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "walletwatch\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
