package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/stackhome/service/db"
)

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-wallets",
		Usage:   "List all registered wallets",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (active, paused, error)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallets, err := store.ListWallets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			wallets = filterWallets(wallets, c.String("status"))

			if done, err := emit(c, wallets); done {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tREFRESH INTERVAL\tLAST REFRESH\tCREATED")
			for _, wallet := range wallets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					wallet.Address,
					wallet.Network,
					wallet.Status,
					wallet.RefreshInterval,
					formatOptionalTime(wallet.LastRefreshTime),
					wallet.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func getWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-wallet",
		Usage:     "Get wallet details",
		Aliases:   []string{"get"},
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallet, err := store.GetWallet(c.Context, c.Args().First(), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if done, err := emit(c, wallet); done {
				return err
			}
			fmt.Printf("Address:          %s\n", wallet.Address)
			fmt.Printf("Network:          %s\n", wallet.Network)
			fmt.Printf("Status:           %s\n", wallet.Status)
			fmt.Printf("Refresh Interval: %v\n", wallet.RefreshInterval)
			fmt.Printf("Last Refresh:     %s\n", formatOptionalTime(wallet.LastRefreshTime))
			fmt.Printf("Last Card:        %s\n", formatOptionalString(wallet.LastCardState))
			fmt.Printf("Created:          %s\n", wallet.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:          %s\n", wallet.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func listRefreshesCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-refreshes",
		Usage:     "List recorded refreshes of a wallet",
		Aliases:   []string{"refreshes"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of refreshes",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			limit := c.Int("limit")
			if limit <= 0 {
				return fmt.Errorf("limit must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			refreshes, err := store.ListRefreshes(c.Context, c.Args().First(), c.String("network"), int32(limit))
			if err != nil {
				return fmt.Errorf("failed to list refreshes: %w", err)
			}

			// stdout = JSON unless YAML was asked for
			if c.Bool("yaml") {
				return writeYAML(os.Stdout, refreshes)
			}
			return outputJSON(refreshes)
		},
	}
}

func pruneRefreshesCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune-refreshes",
		Usage: "Delete refresh history older than a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Delete refreshes observed before now minus this duration",
				Value: 7 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			olderThan := c.Duration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("older-than must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			cutoff := time.Now().Add(-olderThan)
			n, err := store.DeleteRefreshesOlderThan(c.Context, cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune refreshes: %w", err)
			}
			fmt.Fprintf(os.Stderr, "✓ Deleted %d refreshes observed before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Create the wallet and refresh tables if they do not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.EnsureSchema(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "✓ Schema applied")
			return nil
		},
	}
}

func filterWallets(wallets []*db.Wallet, status string) []*db.Wallet {
	if status == "" {
		return wallets
	}
	filtered := make([]*db.Wallet, 0, len(wallets))
	for _, w := range wallets {
		if w.Status == status {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := db.NewStore(pool)
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return store, pool.Close, nil
}
