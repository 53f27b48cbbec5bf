package main

import (
	"fmt"
	"log"
	"os"

	"github.com/brojonat/walletwatch/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletwatch",
		Usage: "Live monitor for a Solana wallet and its token accounts",
		Description: `walletwatch subscribes to a wallet and every token account it owns, reports each
transaction touching them exactly once, and classifies the transfers it contains.

Configuration comes from the environment (and an optional .env file); flags override it.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before: func(c *cli.Context) error {
			return config.LoadDotEnv(c.StringSlice("env-file")...)
		},
		Commands: []*cli.Command{
			monitorCommand(),
			inspectCommand(),
			accountsCommand(),
			statusCommand(),
			{
				Name:  "events",
				Usage: "Published transfer event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					awaitCommand(),
					inspectStreamCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv file(s) to load before reading configuration (default: .env if present)",
			},
			&cli.StringFlag{
				Name:  "rpc-url",
				Usage: "Solana RPC URL, comma separated for several (overrides SOLANA_RPC_URL)",
			},
			&cli.StringFlag{
				Name:  "ws-url",
				Usage: "Solana websocket URL (overrides SOLANA_WS_URL; derived from the RPC URL by default)",
			},
			&cli.StringFlag{
				Name:  "commitment",
				Usage: "processed, confirmed or finalized (overrides SOLANA_COMMITMENT)",
			},
			&cli.StringFlag{
				Name:  "cluster",
				Usage: "Explorer cluster used in links (overrides SOLANA_CLUSTER)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "nats-url",
				Usage: "NATS server URL for transfer events (overrides NATS_URL)",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Status server of a running monitor",
				EnvVars: []string{"WALLETWATCH_SERVER_URL"},
				Value:   "http://localhost:9090",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
