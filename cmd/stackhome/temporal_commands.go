package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/stackhome/service/db"
	"github.com/brojonat/stackhome/service/temporal"
)

const schedulePrefix = "refresh-wallet-"

// scheduleSummary is the structured form of describe-schedule.
type scheduleSummary struct {
	ID            string          `json:"id"`
	Paused        bool            `json:"paused"`
	Note          string          `json:"note,omitempty"`
	Workflow      string          `json:"workflow,omitempty"`
	TaskQueue     string          `json:"task_queue,omitempty"`
	Intervals     []time.Duration `json:"intervals,omitempty"`
	RecentActions int             `json:"recent_actions"`
	LastAction    *time.Time      `json:"last_action,omitempty"`
	NextRuns      []time.Time     `json:"next_runs,omitempty"`
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List wallet refresh schedules",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include schedules that do not belong to stackhome",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ids, err := listScheduleIDs(c.Context, temporalClient, c.Bool("all"))
			if err != nil {
				return err
			}

			if done, err := emit(c, ids); done {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID")
			for _, id := range ids {
				fmt.Fprintf(w, "%s\n", id)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe-schedule",
		Usage:     "Describe a wallet's refresh schedule",
		Aliases:   []string{"desc"},
		ArgsUsage: "<schedule-id | stacks-address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID or wallet address")
			}

			scheduleID := resolveScheduleID(c.Args().First(), c.String("network"))
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			desc, err := handle.Describe(c.Context)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			summary := scheduleSummary{
				ID:            scheduleID,
				RecentActions: len(desc.Info.RecentActions),
				NextRuns:      desc.Info.NextActionTimes,
			}
			if desc.Schedule.State != nil {
				summary.Paused = desc.Schedule.State.Paused
				summary.Note = desc.Schedule.State.Note
			}
			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				summary.Workflow = fmt.Sprint(wa.Workflow)
				summary.TaskQueue = wa.TaskQueue
			}
			if desc.Schedule.Spec != nil {
				for _, interval := range desc.Schedule.Spec.Intervals {
					summary.Intervals = append(summary.Intervals, interval.Every)
				}
			}
			if n := len(desc.Info.RecentActions); n > 0 {
				last := desc.Info.RecentActions[n-1].ActualTime
				summary.LastAction = &last
			}

			if done, err := emit(c, summary); done {
				return err
			}
			fmt.Printf("Schedule ID:  %s\n", summary.ID)
			fmt.Printf("Paused:       %v\n", summary.Paused)
			if summary.Note != "" {
				fmt.Printf("State Note:   %s\n", summary.Note)
			}
			if summary.Workflow != "" {
				fmt.Printf("\nWorkflow:\n")
				fmt.Printf("  Workflow:   %s\n", summary.Workflow)
				fmt.Printf("  Task Queue: %s\n", summary.TaskQueue)
			}
			for i, every := range summary.Intervals {
				fmt.Printf("Interval %d:   every %v\n", i+1, every)
			}
			fmt.Printf("\nRecent Actions: %d\n", summary.RecentActions)
			if summary.LastAction != nil {
				fmt.Printf("Last Action:    %s\n", summary.LastAction.Format(time.RFC3339))
			}
			if len(summary.NextRuns) > 0 {
				fmt.Printf("Next Run:       %s\n", summary.NextRuns[0].Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause-schedule",
		Usage:     "Pause a wallet's refresh schedule",
		ArgsUsage: "<schedule-id | stacks-address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via stackhome CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID or wallet address")
			}

			scheduleID := resolveScheduleID(c.Args().First(), c.String("network"))
			note := c.String("note")

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			if err := handle.Pause(c.Context, client.SchedulePauseOptions{Note: note}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("✓ Schedule paused: %s\n", scheduleID)
			if note != "" {
				fmt.Printf("  Note: %s\n", note)
			}
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume-schedule",
		Usage:     "Resume a paused refresh schedule",
		ArgsUsage: "<schedule-id | stacks-address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via stackhome CLI",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID or wallet address")
			}

			scheduleID := resolveScheduleID(c.Args().First(), c.String("network"))
			note := c.String("note")

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			if err := handle.Unpause(c.Context, client.ScheduleUnpauseOptions{Note: note}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("✓ Schedule resumed: %s\n", scheduleID)
			if note != "" {
				fmt.Printf("  Note: %s\n", note)
			}
			return nil
		},
	}
}

func triggerScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger-schedule",
		Usage:     "Run a wallet's refresh now",
		Aliases:   []string{"trigger"},
		ArgsUsage: "<schedule-id | stacks-address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "allow-overlap",
				Usage: "Start even if a refresh is already running",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID or wallet address")
			}

			scheduleID := resolveScheduleID(c.Args().First(), c.String("network"))
			overlap := enumspb.SCHEDULE_OVERLAP_POLICY_SKIP
			if c.Bool("allow-overlap") {
				overlap = enumspb.SCHEDULE_OVERLAP_POLICY_ALLOW_ALL
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			if err := handle.Trigger(c.Context, client.ScheduleTriggerOptions{Overlap: overlap}); err != nil {
				return fmt.Errorf("failed to trigger schedule: %w", err)
			}

			fmt.Printf("✓ Schedule triggered: %s\n", scheduleID)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a refresh schedule (use for orphaned schedules)",
		ArgsUsage: "<schedule-id | stacks-address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: schedule ID or wallet address")
			}

			scheduleID := resolveScheduleID(c.Args().First(), c.String("network"))

			if !c.Bool("force") {
				fmt.Printf("Are you sure you want to delete schedule %s? (yes/no): ", scheduleID)
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			handle := temporalClient.ScheduleClient().GetHandle(c.Context, scheduleID)
			if err := handle.Delete(c.Context); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("✓ Schedule deleted: %s\n", scheduleID)
			return nil
		},
	}
}

func reconcileSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check for inconsistencies between registered wallets and Temporal schedules",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Create missing schedules and delete orphaned ones",
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue for created schedules",
				Value:   "stackhome-wallet-refresh",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := c.Context
			wallets, err := store.ListWallets(ctx)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			scheduleIDs, err := listScheduleIDs(ctx, temporalClient, false)
			if err != nil {
				return err
			}

			plan := planScheduleReconcile(wallets, scheduleIDs)

			fmt.Printf("Reconciliation Report:\n")
			fmt.Printf("  Wallets in DB: %d\n", len(wallets))
			fmt.Printf("  Schedules in Temporal: %d\n\n", len(scheduleIDs))

			if len(plan.Missing) > 0 {
				fmt.Printf("⚠ Active wallets missing schedules (%d):\n", len(plan.Missing))
				for _, w := range plan.Missing {
					fmt.Printf("  - %s (%s)\n", w.Address, w.Network)
				}
			} else {
				fmt.Printf("✓ All active wallets have schedules\n")
			}
			if len(plan.Orphaned) > 0 {
				fmt.Printf("\n⚠ Orphaned schedules (%d):\n", len(plan.Orphaned))
				for _, id := range plan.Orphaned {
					fmt.Printf("  - %s\n", id)
				}
			} else {
				fmt.Printf("✓ No orphaned schedules\n")
			}

			if plan.Empty() {
				return nil
			}
			if !c.Bool("fix") {
				fmt.Printf("\nTo fix these issues, run: stackhome temporal reconcile --fix\n")
				return nil
			}

			fmt.Printf("\nFixing inconsistencies...\n")
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			scheduler, err := temporal.NewClient(c.String("temporal-host"), c.String("temporal-namespace"), c.String("task-queue"), logger)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			for _, w := range plan.Missing {
				if err := scheduler.UpsertWalletSchedule(ctx, w.Address, w.Network, w.RefreshInterval); err != nil {
					fmt.Printf("  ✗ Failed to create schedule for %s: %v\n", w.Address, err)
					continue
				}
				fmt.Printf("  ✓ Created schedule for %s (%s)\n", w.Address, w.Network)
			}
			for _, id := range plan.Orphaned {
				if err := temporalClient.ScheduleClient().GetHandle(ctx, id).Delete(ctx); err != nil {
					fmt.Printf("  ✗ Failed to delete schedule %s: %v\n", id, err)
					continue
				}
				fmt.Printf("  ✓ Deleted orphaned schedule %s\n", id)
			}

			fmt.Printf("\nReconciliation complete!\n")
			return nil
		},
	}
}

// schedulePlan lists the repairs that bring schedules in line with the
// wallet table.
type schedulePlan struct {
	Missing  []*db.Wallet
	Orphaned []string
}

func (p schedulePlan) Empty() bool {
	return len(p.Missing) == 0 && len(p.Orphaned) == 0
}

// planScheduleReconcile compares active wallets with refresh schedule IDs.
// Non-active wallets neither need a schedule nor orphan the one they have.
func planScheduleReconcile(wallets []*db.Wallet, scheduleIDs []string) schedulePlan {
	existing := make(map[string]bool, len(scheduleIDs))
	for _, id := range scheduleIDs {
		existing[id] = true
	}

	var plan schedulePlan
	known := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		id := temporal.ScheduleID(w.Address, w.Network)
		known[id] = true
		if w.Status == "active" && !existing[id] {
			plan.Missing = append(plan.Missing, w)
		}
	}
	for _, id := range scheduleIDs {
		if strings.HasPrefix(id, schedulePrefix) && !known[id] {
			plan.Orphaned = append(plan.Orphaned, id)
		}
	}
	sort.Strings(plan.Orphaned)
	return plan
}

// resolveScheduleID accepts either a schedule ID or a Stacks address.
func resolveScheduleID(arg, network string) string {
	if strings.HasPrefix(arg, schedulePrefix) {
		return arg
	}
	return temporal.ScheduleID(arg, network)
}

func listScheduleIDs(ctx context.Context, c client.Client, all bool) ([]string, error) {
	iter, err := c.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: 1000})
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	var ids []string
	for iter.HasNext() {
		schedule, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate schedules: %w", err)
		}
		if all || strings.HasPrefix(schedule.ID, schedulePrefix) {
			ids = append(ids, schedule.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (client.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return temporalClient, nil
}
