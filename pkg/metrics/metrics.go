// Package metrics exposes poolbroker's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PoolItemsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolbroker_pool_items_total",
			Help: "Number of items currently available in the free pool",
		},
	)

	BorrowedItemsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolbroker_borrowed_items_total",
			Help: "Number of items currently checked out in the borrow ledger",
		},
	)

	OperationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolbroker_operations_total",
			Help: "Number of tracked operations by status",
		},
		[]string{"status"},
	)

	BorrowRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolbroker_borrow_requests_total",
			Help: "Total borrow requests by outcome",
		},
		[]string{"outcome"},
	)

	BorrowBlockingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolbroker_borrow_blocking_duration_seconds",
			Help:    "Time spent waiting inside a blocking borrow call",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolbroker_dispatch_duration_seconds",
			Help:    "Time spent dispatching to a subscriber group",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	SubscriberFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolbroker_subscriber_failures_total",
			Help: "Total subscriber dispatch failures by subscriber name",
		},
		[]string{"subscriber", "must_succeed"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolbroker_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolbroker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	SSEListenersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poolbroker_sse_listeners_total",
			Help: "Number of currently connected operation event-stream listeners",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolItemsTotal,
		BorrowedItemsTotal,
		OperationsTotal,
		BorrowRequestsTotal,
		BorrowBlockingDuration,
		DispatchDuration,
		SubscriberFailuresTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SSEListenersTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation for later histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
