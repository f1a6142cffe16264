package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) scheduleAction(address, network string) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        fmt.Sprintf("refresh-wallet-%s-%s", network, address),
		Workflow:  RefreshWalletWorkflowName,
		TaskQueue: c.taskQueue,
		Args: []any{RefreshWalletInput{
			Address: address,
			Network: network,
		}},
	}
}

// CreateWalletSchedule creates a new Temporal schedule for refreshing a wallet.
// Overlapping runs are skipped and the first run starts immediately.
func (c *Client) CreateWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	id := ScheduleID(address, network)

	c.logger.Debug("creating wallet schedule",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action:             c.scheduleAction(address, network),
		Overlap:            enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		TriggerImmediately: true,
		Memo: map[string]any{
			"wallet_address": address,
			"network":        network,
			"created_by":     "stackhome",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule created",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// UpsertWalletSchedule creates or updates a Temporal schedule for refreshing a wallet.
func (c *Client) UpsertWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	id := ScheduleID(address, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateWalletSchedule(ctx, address, network, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			input.Description.Schedule.Action = c.scheduleAction(address, network)
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule updated",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteWalletSchedule deletes the Temporal schedule for a wallet.
func (c *Client) DeleteWalletSchedule(ctx context.Context, address, network string) error {
	id := ScheduleID(address, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule deleted",
		"address", address,
		"network", network,
		"schedule_id", id,
	)
	return nil
}

// TriggerWalletRefresh runs a wallet's refresh now, outside its interval.
func (c *Client) TriggerWalletRefresh(ctx context.Context, address, network string) error {
	id := ScheduleID(address, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	err := handle.Trigger(ctx, client.ScheduleTriggerOptions{
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	})
	if err != nil {
		return fmt.Errorf("failed to trigger schedule %q: %w", id, err)
	}

	c.logger.Debug("wallet refresh triggered", "schedule_id", id)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}
