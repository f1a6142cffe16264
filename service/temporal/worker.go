package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/brojonat/stackhome/service/metrics"
)

// WorkerConfig wires a refresh worker to Temporal and its dependencies.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Network is the Stacks network the StacksClient talks to.
	Network string
	// MinimumRequired overrides the PoX stacking threshold when set.
	MinimumRequired *uint64
	// MaxConcurrentRefreshes bounds concurrent activity executions.
	// Zero uses 10.
	MaxConcurrentRefreshes int

	Store        StoreInterface
	StacksClient StacksClientInterface
	Publisher    PublisherInterface
	Metrics      *metrics.Metrics // optional
	Logger       *slog.Logger
}

// Worker runs RefreshWalletWorkflow and its activities on one task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// registrar is the registration surface shared by worker.Worker and the
// SDK's test workflow environment.
type registrar interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// register adds the refresh workflow and every activity it schedules.
// Activities register by method name, which is what the workflow executes.
func register(r registrar, activities *Activities) {
	r.RegisterWorkflow(RefreshWalletWorkflow)
	r.RegisterActivity(activities.FetchFeeds)
	r.RegisterActivity(activities.PublishFeeds)
	r.RegisterActivity(activities.RecordRefresh)
}

// NewWorker dials Temporal and registers the refresh workflow.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "temporal_worker", "task_queue", cfg.TaskQueue)

	concurrency := cfg.MaxConcurrentRefreshes
	if concurrency <= 0 {
		concurrency = 10
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHost,
		Namespace: cfg.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	register(w, NewActivities(
		cfg.Store,
		cfg.StacksClient,
		cfg.Publisher,
		cfg.Network,
		cfg.MinimumRequired,
		cfg.Metrics,
		logger,
	))

	logger.Info("temporal worker ready",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"network", cfg.Network,
		"workflow", RefreshWalletWorkflowName,
		"concurrency", concurrency,
	)
	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Run processes refreshes until ctx is cancelled, then stops the worker and
// closes the Temporal client.
func (w *Worker) Run(ctx context.Context) error {
	defer w.client.Close()

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(stop); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("temporal worker stopped")
	return nil
}
