package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Exchange metrics
	exchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clarigen_exchange_duration_seconds",
			Help:    "Completion exchange duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m, reasoning calls are slow
		},
		[]string{"model", "status"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarigen_tokens_total",
			Help: "Total tokens consumed by kind",
		},
		[]string{"kind"}, // "prompt", "cache_hit", "cache_miss", "completion", "reasoning"
	)

	// Record metrics
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarigen_records_total",
			Help: "Total candidate records by validation outcome",
		},
		[]string{"outcome"}, // "accepted" or a reject reason
	)

	// Task metrics
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarigen_tasks_total",
			Help: "Total tasks by terminal status",
		},
		[]string{"status"}, // "complete", "failed", "skipped"
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clarigen_retries_total",
			Help: "Total exchange retries across all tasks",
		},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordExchange records one completion exchange's duration and outcome
func (c *Collector) RecordExchange(model string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	exchangeDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordTokens accumulates an exchange's usage counters
func (c *Collector) RecordTokens(prompt, cacheHit, cacheMiss, completion, reasoning int) {
	tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	tokensTotal.WithLabelValues("cache_hit").Add(float64(cacheHit))
	tokensTotal.WithLabelValues("cache_miss").Add(float64(cacheMiss))
	tokensTotal.WithLabelValues("completion").Add(float64(completion))
	tokensTotal.WithLabelValues("reasoning").Add(float64(reasoning))
}

// RecordAccepted counts records that passed validation
func (c *Collector) RecordAccepted(n int) {
	recordsTotal.WithLabelValues("accepted").Add(float64(n))
}

// RecordRejected counts a record rejected for the given reason
func (c *Collector) RecordRejected(reason string) {
	recordsTotal.WithLabelValues(reason).Inc()
}

// RecordTaskOutcome counts a task reaching a terminal status
func (c *Collector) RecordTaskOutcome(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// RecordRetry counts one retry of a failed exchange
func (c *Collector) RecordRetry() {
	retriesTotal.Inc()
}
