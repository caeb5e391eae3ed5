package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screener"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	fetchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "results_total",
			Help:      "Per-instrument history fetch outcomes.",
		},
		[]string{"outcome"},
	)

	refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refresh_total",
			Help:      "Snapshot refresh attempts by result.",
		},
		[]string{"result"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of snapshot refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
	)

	snapshotInstruments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "snapshot_instruments",
			Help:      "Instruments with data in the current snapshot.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "notifications_total",
			Help:      "Notification attempts by outcome status.",
		},
		[]string{"status"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "deliveries_total",
			Help:      "Per-subscriber mail deliveries by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		fetchResults,
		refreshes,
		refreshDuration,
		snapshotInstruments,
		notifications,
		deliveries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveFetch counts one per-instrument fetch outcome ("ok" or "failed").
func ObserveFetch(outcome string) {
	fetchResults.WithLabelValues(outcome).Inc()
}

// ObserveRefresh records a refresh attempt.
func ObserveRefresh(result string, elapsed time.Duration) {
	refreshes.WithLabelValues(result).Inc()
	refreshDuration.Observe(elapsed.Seconds())
}

// SetSnapshotSize records how many instruments the published snapshot holds.
func SetSnapshotSize(n int) {
	snapshotInstruments.Set(float64(n))
}

// ObserveNotification counts a notifier outcome.
func ObserveNotification(status string) {
	notifications.WithLabelValues(status).Inc()
}

// ObserveDelivery counts one subscriber delivery.
func ObserveDelivery(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	deliveries.WithLabelValues(result).Inc()
}
