package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the assistant subsystem.
type Metrics struct {
	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Tool call metrics
	ToolCallsTotal *prometheus.CounterVec

	// Undo metrics
	UndoStepsTotal   *prometheus.CounterVec
	UndoBatchesTotal prometheus.Counter

	// Reindex metrics
	ReindexJobsEnqueued *prometheus.CounterVec

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_commands_total",
				Help: "Total number of AI commands processed",
			},
			[]string{"outcome"}, // outcome: success, error, rejected
		),

		CommandDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_command_duration_seconds",
				Help:    "End-to-end AI command duration including tool rounds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"streaming"},
		),

		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_calls_total",
				Help: "Total number of model tool calls executed",
			},
			[]string{"tool", "status"}, // status: success, error
		),

		UndoStepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "undo_steps_total",
				Help: "Total number of undo steps replayed",
			},
			[]string{"status"}, // status: applied, failed
		),

		UndoBatchesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "undo_batches_total",
				Help: "Total number of undo batches replayed",
			},
		),

		ReindexJobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reindex_jobs_enqueued_total",
				Help: "Total number of index jobs enqueued",
			},
			[]string{"resource_type"}, // file, block
		),

		ProviderLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_provider_latency_seconds",
				Help:    "Latency of chat-completion provider round trips",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"model"},
		),
	}
}
