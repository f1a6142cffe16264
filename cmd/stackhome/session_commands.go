package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/stackhome/service/home"
	"github.com/brojonat/stackhome/service/stacking"
)

func sessionCommands() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Open and drive home view sessions",
		Subcommands: []*cli.Command{
			sessionOpenCommand(),
			sessionGetCommand(),
			sessionCloseCommand(),
			sessionFocusCommand(),
			sessionWatchCommand(),
			sessionFeedsCommand(),
		},
	}
}

func sessionOpenCommand() *cli.Command {
	return &cli.Command{
		Name:      "open",
		Usage:     "Open a home view session for a wallet",
		ArgsUsage: "STACKS_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			view, err := cl.OpenSession(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to open session: %w", err)
			}
			if done, err := emit(c, view); done {
				return err
			}
			printView(view)
			return nil
		},
	}
}

func sessionGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Show the current view of a session",
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("session id is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			view, err := cl.Session(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}
			if done, err := emit(c, view); done {
				return err
			}
			printView(view)
			return nil
		},
	}
}

func sessionCloseCommand() *cli.Command {
	return &cli.Command{
		Name:      "close",
		Usage:     "Close a session",
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("session id is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			id := c.Args().Get(0)
			if err := cl.CloseSession(c.Context, id); err != nil {
				return fmt.Errorf("failed to close session: %w", err)
			}
			fmt.Fprintf(os.Stderr, "✓ Session closed: %s\n", id)
			return nil
		},
	}
}

func sessionFocusCommand() *cli.Command {
	return &cli.Command{
		Name:      "focus",
		Usage:     "Focus a transaction in the session timeline, or clear focus",
		ArgsUsage: "SESSION_ID [TX_ID]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Clear focus so it follows the head of the timeline",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("session id is required")
			}
			clearFocus := c.Bool("clear")
			if !clearFocus && c.NArg() < 2 {
				return fmt.Errorf("transaction id is required unless --clear is set")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			id := c.Args().Get(0)
			var view *home.View
			if clearFocus {
				view, err = cl.ClearFocus(c.Context, id)
			} else {
				view, err = cl.BindFocus(c.Context, id, c.Args().Get(1))
			}
			if err != nil {
				return fmt.Errorf("failed to update focus: %w", err)
			}
			if done, err := emit(c, view); done {
				return err
			}
			printView(view)
			return nil
		},
	}
}

func sessionWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Block until the session renders a view matching the filters",
		ArgsUsage: "SESSION_ID",
		Description: `Streams the session's views over SSE and exits with the first view that
matches every filter.

Example:
  stackhome session watch 3f0c... --card StackingActive
  stackhome session watch 3f0c... --must-jq '.pending_count == 0'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "card",
				Usage: "Card state the view must show (e.g. StackingActive)",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for a matching view",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("session id is required")
			}
			id := c.Args().Get(0)
			card := c.String("card")
			jqFilters := c.StringSlice("must-jq")

			if card != "" {
				if _, err := stacking.ParseHomeCardState(card); err != nil {
					return err
				}
			}
			codes, err := compileFilters(jqFilters)
			if err != nil {
				return err
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
			match := viewMatcher(card, codes, logger)

			if !c.Bool("json") && !c.Bool("yaml") {
				fmt.Fprintf(os.Stderr, "Watching session %s...\n", id)
				if card != "" {
					fmt.Fprintf(os.Stderr, "  Card: %s\n", card)
				}
				for _, filter := range jqFilters {
					fmt.Fprintf(os.Stderr, "  jq Filter: %s\n", filter)
				}
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := withTimeout(c)
			defer cancel()

			view, err := cl.Watch(ctx, id, match)
			if err != nil {
				return fmt.Errorf("failed to watch session: %w", err)
			}
			if done, err := emit(c, view); done {
				return err
			}
			printView(view)
			return nil
		},
	}
}

func sessionFeedsCommand() *cli.Command {
	return &cli.Command{
		Name:      "feeds",
		Usage:     "Summarize the feed state the server holds for a wallet",
		ArgsUsage: "STACKS_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			cl, err := serviceClient(c)
			if err != nil {
				return err
			}

			summary, err := cl.Feeds(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get feeds: %w", err)
			}
			if done, err := emit(c, summary); done {
				return err
			}

			fmt.Printf("Address:    %s\n", summary.Address)
			fmt.Printf("Version:    %d\n", summary.Version)
			fmt.Printf("Pending:    %d\n", summary.PendingCount)
			fmt.Printf("Confirmed:  %d\n", summary.ConfirmedCount)
			if summary.StackerStatus != "" {
				fmt.Printf("Stacker:    %s\n", summary.StackerStatus)
			}
			for feed, msg := range summary.Errors {
				fmt.Printf("Error:      %s: %s\n", feed, msg)
			}
			fmt.Printf("Sessions:   %d\n", len(summary.Sessions))
			return nil
		},
	}
}

// viewMatcher accepts a view when it shows card (if set) and every compiled
// jq filter yields a truthy first result.
func viewMatcher(card string, codes []*gojq.Code, logger *slog.Logger) func(*home.View) bool {
	return func(v *home.View) bool {
		if card != "" && v.CardState.String() != card {
			return false
		}
		if len(codes) == 0 {
			return true
		}

		doc, err := toGeneric(v)
		if err != nil {
			logger.Debug("failed to convert view for jq", "error", err)
			return false
		}
		for _, code := range codes {
			iter := code.Run(doc)
			result, ok := iter.Next()
			if !ok {
				return false
			}
			if err, isErr := result.(error); isErr {
				logger.Debug("jq filter error", "error", err)
				return false
			}
			if !isTruthy(result) {
				return false
			}
		}
		return true
	}
}

func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// toGeneric round-trips v through JSON into the map/slice form gojq walks.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printView(v *home.View) {
	fmt.Println(divider)
	fmt.Printf("Session:   %s\n", v.SessionID)
	fmt.Printf("Address:   %s\n", v.Address)
	fmt.Printf("Card:      %s\n", v.CardState)
	if v.ShowDelegationCard {
		fmt.Printf("Override:  %s\n", v.Card)
	}
	if v.BlocksUntilStackingCycleBegins != nil {
		fmt.Printf("Cycle In:  %d blocks\n", *v.BlocksUntilStackingCycleBegins)
	}
	if v.TransactionsLoading {
		fmt.Printf("Timeline:  loading\n")
	} else if v.TransactionCount > len(v.Transactions) {
		fmt.Printf("Timeline:  %d of %d transactions\n", len(v.Transactions), v.TransactionCount)
	}
	for feed, msg := range v.FeedErrors {
		fmt.Printf("Error:     %s: %s\n", feed, msg)
	}
	fmt.Println(divider)

	if len(v.Transactions) == 0 {
		fmt.Println("No transactions")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tTX ID\tSTATUS\tAMOUNT\tTYPE")
	for i, tx := range v.Transactions {
		marker := " "
		if i == v.FocusIndex && v.Focus.TxID != "" {
			marker = ">"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", marker, tx.TxID, tx.Status, tx.Amount, tx.Type)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\n%d transactions (%d pending)\n", len(v.Transactions), v.PendingCount)
}
