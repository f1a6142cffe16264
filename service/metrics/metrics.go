package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brojonat/stackhome/service/reconcile"
	"github.com/brojonat/stackhome/service/stacking"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Stacks API Metrics
	stacksAPICallsTotal       *prometheus.CounterVec
	stacksAPICallDuration     *prometheus.HistogramVec
	stacksAPIRateLimitHits    *prometheus.CounterVec
	stacksAPIRetries          *prometheus.CounterVec
	stacksTransactionsPerCall *prometheus.HistogramVec
	feedFetchesTotal          *prometheus.CounterVec

	// Reconciliation Metrics
	reconcileDuration    prometheus.Histogram
	reconcilePassesTotal *prometheus.CounterVec
	pendingPromotedTotal *prometheus.CounterVec
	pendingEvictedTotal  *prometheus.CounterVec
	dataQualityWarnings  *prometheus.CounterVec
	timelineLength       *prometheus.GaugeVec
	classificationsTotal *prometheus.CounterVec
	feedUpdatesTotal     *prometheus.CounterVec
	homeSessionsActive   prometheus.Gauge

	// Workflow Metrics
	refreshWorkflowDuration        *prometheus.HistogramVec
	refreshWorkflowExecutionsTotal *prometheus.CounterVec
	refreshActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
	natsMessagesConsumed  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Stacks API Metrics
		stacksAPICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_api_calls_total",
				Help: "Total number of Stacks API calls by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		stacksAPICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stacks_api_call_duration_seconds",
				Help:    "Duration of Stacks API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),
		stacksAPIRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_api_rate_limit_hits_total",
				Help: "Total number of Stacks API rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		stacksAPIRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stacks_api_retries_total",
				Help: "Total number of Stacks API retry attempts",
			},
			[]string{"endpoint", "reason"},
		),
		stacksTransactionsPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stacks_api_transactions_per_call",
				Help:    "Number of transactions returned per Stacks API list call",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
			},
			[]string{"endpoint"},
		),
		feedFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_fetches_total",
				Help: "Total number of feed fetches by kind and status",
			},
			[]string{"feed", "status"},
		),

		// Reconciliation Metrics
		reconcileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconcile_duration_seconds",
				Help:    "Duration of one transaction reconciliation pass in seconds",
				Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),
		reconcilePassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_passes_total",
				Help: "Total number of reconciliation passes",
			},
			[]string{"wallet_address"},
		),
		pendingPromotedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pending_transactions_promoted_total",
				Help: "Total number of pending transactions replaced by their confirmed record",
			},
			[]string{"wallet_address"},
		),
		pendingEvictedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pending_transactions_evicted_total",
				Help: "Total number of pending transactions evicted as stale",
			},
			[]string{"wallet_address"},
		),
		dataQualityWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_data_quality_warnings_total",
				Help: "Total number of data-quality warnings raised while reconciling",
			},
			[]string{"kind", "feed"},
		),
		timelineLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "timeline_transactions",
				Help: "Number of transactions in the latest reconciled timeline",
			},
			[]string{"wallet_address", "status"},
		),
		classificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "home_card_classifications_total",
				Help: "Total number of home card classifications by resulting state",
			},
			[]string{"state"},
		),
		feedUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_updates_applied_total",
				Help: "Total number of feed updates applied to home sessions",
			},
			[]string{"feed", "status"},
		),
		homeSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "home_sessions_active",
				Help: "Number of open home view sessions",
			},
		),

		// Workflow Metrics
		refreshWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_workflow_duration_seconds",
				Help:    "Duration of refresh workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"wallet_address", "status"},
		),
		refreshWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_workflow_executions_total",
				Help: "Total number of refresh workflow executions",
			},
			[]string{"wallet_address", "status"},
		),
		refreshActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refresh_activity_duration_seconds",
				Help:    "Duration of refresh workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "wallet_address"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"wallet_address", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
		natsMessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_consumed_total",
				Help: "Total number of NATS messages consumed",
			},
			[]string{"stream", "status"},
		),
	}
}

// Stacks API metric helpers

// RecordAPICall records a Stacks API call with duration.
func (m *Metrics) RecordAPICall(endpoint, status string, duration float64) {
	m.stacksAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	m.stacksAPICallDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.stacksAPIRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordAPIRetry records a retry attempt.
func (m *Metrics) RecordAPIRetry(endpoint, reason string) {
	m.stacksAPIRetries.WithLabelValues(endpoint, reason).Inc()
}

// RecordTransactionsPerCall records the number of transactions returned.
func (m *Metrics) RecordTransactionsPerCall(endpoint string, count int) {
	m.stacksTransactionsPerCall.WithLabelValues(endpoint).Observe(float64(count))
}

// RecordFeedFetch records the outcome of fetching one feed.
func (m *Metrics) RecordFeedFetch(feed string, err error) {
	m.feedFetchesTotal.WithLabelValues(feed, errStatus(err)).Inc()
}

// Reconciliation metric helpers

// RecordReconcile records one reconciliation pass.
func (m *Metrics) RecordReconcile(walletAddress string, res reconcile.Result, duration time.Duration) {
	m.reconcileDuration.Observe(duration.Seconds())
	m.reconcilePassesTotal.WithLabelValues(walletAddress).Inc()
	if n := len(res.Promoted); n > 0 {
		m.pendingPromotedTotal.WithLabelValues(walletAddress).Add(float64(n))
	}
	if n := len(res.Evicted); n > 0 {
		m.pendingEvictedTotal.WithLabelValues(walletAddress).Add(float64(n))
	}
	for _, w := range res.NewWarnings {
		m.dataQualityWarnings.WithLabelValues(string(w.Kind), w.Feed).Inc()
	}
	pending := res.PendingCount()
	m.timelineLength.WithLabelValues(walletAddress, "pending").Set(float64(pending))
	m.timelineLength.WithLabelValues(walletAddress, "confirmed").Set(float64(len(res.Transactions) - pending))
}

// RecordClassification records the state a status vector classified into.
func (m *Metrics) RecordClassification(state stacking.HomeCardState) {
	m.classificationsTotal.WithLabelValues(state.String()).Inc()
}

// RecordFeedUpdate records a feed update applied to home sessions.
func (m *Metrics) RecordFeedUpdate(feed string, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.feedUpdatesTotal.WithLabelValues(feed, status).Inc()
}

// SetActiveSessions sets the number of open home sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.homeSessionsActive.Set(float64(n))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(walletAddress, status string, duration float64) {
	m.refreshWorkflowDuration.WithLabelValues(walletAddress, status).Observe(duration)
	m.refreshWorkflowExecutionsTotal.WithLabelValues(walletAddress, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, walletAddress string, duration float64) {
	m.refreshActivityDuration.WithLabelValues(activity, walletAddress).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(walletAddress, eventType string) {
	m.sseEventsSent.WithLabelValues(walletAddress, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// RecordNATSConsume records a consumed NATS message.
func (m *Metrics) RecordNATSConsume(stream string, err error) {
	m.natsMessagesConsumed.WithLabelValues(stream, errStatus(err)).Inc()
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
