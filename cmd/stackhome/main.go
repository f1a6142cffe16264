package main

import (
	"fmt"
	"log"
	"os"

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
		Name:  "stackhome",
		Usage: "Stacks wallet home-view service CLI",
		Description: `A command-line tool for driving and debugging the stackhome service.

Use this CLI to register wallets, open home sessions, classify status vectors
offline, and inspect database, Temporal and NATS state.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			walletCommands(),
			sessionCommands(),
			classifyCommand(),
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listWalletsCommand(),
					getWalletCommand(),
					listRefreshesCommand(),
					pruneRefreshesCommand(),
					schemaCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Temporal inspection and management commands",
				Subcommands: []*cli.Command{
					listSchedulesCommand(),
					describeScheduleCommand(),
					pauseScheduleCommand(),
					resumeScheduleCommand(),
					triggerScheduleCommand(),
					deleteScheduleCommand(),
					reconcileSchedulesCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "NATS feed and view streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "stackhome server URL",
			EnvVars: []string{"SERVER_URL", "STACKHOME_SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Stacks network (mainnet or testnet)",
			EnvVars: []string{"STACKS_NETWORK"},
			Value:   "mainnet",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.BoolFlag{
			Name:  "yaml",
			Usage: "Output in YAML format",
		},
	}
}
