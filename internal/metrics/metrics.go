package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task accounting
	TasksDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_tasks_dispatched_total",
			Help: "Total number of task messages handed to a worker",
		},
		[]string{"task"},
	)

	TasksFinished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_tasks_finished_total",
			Help: "Total number of task messages that completed normally",
		},
	)

	TasksCanceled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_tasks_canceled_total",
			Help: "Total number of task messages canceled by timeout, control or worker death",
		},
	)

	TasksDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_tasks_discarded_total",
			Help: "Total number of task messages discarded by duplicate policy",
		},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"task"},
	)

	// Queue depths
	QueuedMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_queued_messages",
			Help: "Messages waiting on worker capacity",
		},
	)

	BlockedMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_blocked_messages",
			Help: "Messages held back by duplicate-suppression policy",
		},
	)

	// Worker fleet
	WorkersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatcher_workers",
			Help: "Workers tracked by the pool, by status",
		},
		[]string{"status"},
	)

	WorkerSpawnFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_worker_spawn_failures_total",
			Help: "Subprocess spawns that failed",
		},
	)

	WorkerUnexpectedDeaths = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_worker_unexpected_deaths_total",
			Help: "Workers whose subprocess died without signaling shutdown",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordDispatch records a message handed to a worker.
func RecordDispatch(taskName string) {
	TasksDispatched.WithLabelValues(taskName).Inc()
}

// RecordCompletion records a finished or canceled task and its runtime.
func RecordCompletion(taskName string, canceled bool, seconds float64) {
	if canceled {
		TasksCanceled.Inc()
	} else {
		TasksFinished.Inc()
	}
	TaskDuration.WithLabelValues(taskName).Observe(seconds)
}

// RecordDiscard records a message dropped by duplicate policy.
func RecordDiscard() {
	TasksDiscarded.Inc()
}

// SetQueueDepths updates the queued and blocked gauges.
func SetQueueDepths(queued, blocked int) {
	QueuedMessages.Set(float64(queued))
	BlockedMessages.Set(float64(blocked))
}

// SetWorkerCount sets the fleet gauge for one status.
func SetWorkerCount(status string, count int) {
	WorkersByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
