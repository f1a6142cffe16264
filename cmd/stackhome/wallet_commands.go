package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/stackhome/client"
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Manage the wallets the service refreshes",
		Subcommands: []*cli.Command{
			walletRegisterCommand(),
			walletUnregisterCommand(),
			walletGetCommand(),
			walletListCommand(),
			walletRefreshCommand(),
			walletHistoryCommand(),
		},
	}
}

func walletRegisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Aliases:   []string{"add"},
		Usage:     "Register a wallet for scheduled refreshes",
		ArgsUsage: "STACKS_ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "refresh-interval",
				Aliases: []string{"i"},
				Usage:   "How often to refresh the wallet's feeds (server default when unset)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			wallet, err := cl.Register(c.Context, c.Args().Get(0), c.String("network"), c.Duration("refresh-interval"))
			if err != nil {
				return fmt.Errorf("failed to register wallet: %w", err)
			}

			if done, err := emit(c, wallet); done {
				return err
			}
			fmt.Printf("✓ Wallet registered\n")
			fmt.Printf("  Address:          %s\n", wallet.Address)
			fmt.Printf("  Network:          %s\n", wallet.Network)
			fmt.Printf("  Refresh Interval: %s\n", wallet.RefreshInterval)
			return nil
		},
	}
}

func walletUnregisterCommand() *cli.Command {
	return &cli.Command{
		Name:      "unregister",
		Aliases:   []string{"rm", "remove"},
		Usage:     "Stop refreshing a wallet",
		ArgsUsage: "STACKS_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			address := c.Args().Get(0)
			network := c.String("network")
			if err := cl.Unregister(c.Context, address, network); err != nil {
				return fmt.Errorf("failed to unregister wallet: %w", err)
			}

			if done, err := emit(c, map[string]string{
				"address": address,
				"network": network,
				"status":  "unregistered",
			}); done {
				return err
			}
			fmt.Printf("✓ Wallet unregistered\n")
			fmt.Printf("  Address: %s\n", address)
			return nil
		},
	}
}

func walletGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Get details for a registered wallet",
		ArgsUsage: "STACKS_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			wallet, err := cl.Get(c.Context, c.Args().Get(0), c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if done, err := emit(c, wallet); done {
				return err
			}
			fmt.Println(divider)
			printWallet(wallet)
			fmt.Println(divider)
			return nil
		},
	}
}

func walletListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all registered wallets",
		Action: func(c *cli.Context) error {
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			wallets, err := cl.List(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if done, err := emit(c, wallets); done {
				return err
			}
			if len(wallets) == 0 {
				fmt.Println("No wallets registered")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNETWORK\tSTATUS\tINTERVAL\tLAST REFRESH\tCARD")
			for _, wallet := range wallets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					wallet.Address,
					wallet.Network,
					wallet.Status,
					wallet.RefreshInterval,
					formatOptionalTime(wallet.LastRefreshTime),
					formatOptionalString(wallet.LastCardState),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func walletRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Refresh a registered wallet now",
		ArgsUsage: "STACKS_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			address := c.Args().Get(0)
			if err := cl.TriggerRefresh(c.Context, address, c.String("network")); err != nil {
				return fmt.Errorf("failed to trigger refresh: %w", err)
			}
			fmt.Fprintf(os.Stderr, "✓ Refresh triggered for %s\n", address)
			return nil
		},
	}
}

func walletHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Aliases:   []string{"refreshes"},
		Usage:     "Show a wallet's most recent refreshes",
		ArgsUsage: "STACKS_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of refreshes to show",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			refreshes, err := cl.Refreshes(c.Context, c.Args().Get(0), c.String("network"), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list refreshes: %w", err)
			}

			if done, err := emit(c, refreshes); done {
				return err
			}
			printRefreshes(refreshes)
			return nil
		},
	}
}

func printWallet(wallet *client.Wallet) {
	fmt.Printf("Address:          %s\n", wallet.Address)
	fmt.Printf("Network:          %s\n", wallet.Network)
	fmt.Printf("Status:           %s\n", wallet.Status)
	fmt.Printf("Refresh Interval: %s\n", wallet.RefreshInterval)
	fmt.Printf("Last Refresh:     %s\n", formatOptionalTime(wallet.LastRefreshTime))
	fmt.Printf("Last Card:        %s\n", formatOptionalString(wallet.LastCardState))
	fmt.Printf("Created At:       %s\n", wallet.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated At:       %s\n", wallet.UpdatedAt.Format(time.RFC3339))
}

func printRefreshes(refreshes []client.Refresh) {
	if len(refreshes) == 0 {
		fmt.Println("No refreshes recorded")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBSERVED\tPENDING\tCONFIRMED\tFAILED FEEDS")
	for _, r := range refreshes {
		failed := "-"
		if len(r.FailedFeeds) > 0 {
			failed = fmt.Sprint(r.FailedFeeds)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
			r.ObservedAt.Format(time.RFC3339),
			r.PendingCount,
			r.ConfirmedCount,
			failed,
		)
	}
	w.Flush()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func formatOptionalString(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}

// withTimeout bounds a command by its --timeout flag when one is set.
func withTimeout(c *cli.Context) (context.Context, context.CancelFunc) {
	if d := c.Duration("timeout"); d > 0 {
		return context.WithTimeout(c.Context, d)
	}
	return context.WithCancel(c.Context)
}
