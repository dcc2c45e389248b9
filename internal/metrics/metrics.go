// Package metrics provides Prometheus metrics for the challenge tracker.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// mutationsTotal counts mutator calls.
	// Labels:
	//   - op: mutator name (e.g., "toggle_day", "update_weight", "reset")
	//   - status: "success", "invalid", or "error"
	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seventyfive_mutations_total",
			Help: "Total number of challenge document mutations",
		},
		[]string{"op", "status"},
	)

	// mutationDuration records mutation latency including retries.
	mutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seventyfive_mutation_duration_seconds",
			Help:    "Duration of challenge document mutations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"op"},
	)

	// storeRetriesTotal counts retried store operations.
	storeRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seventyfive_store_retries_total",
			Help: "Total number of store operations retried after a transient failure",
		},
		[]string{"op"},
	)

	// activeSubscriptions tracks live document subscriptions.
	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seventyfive_active_subscriptions",
			Help: "Number of live challenge document subscriptions",
		},
	)

	// deliveriesTotal counts documents delivered to subscribers.
	// Labels:
	//   - reason: "initial", "change", or "resync"
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seventyfive_subscription_deliveries_total",
			Help: "Total number of documents delivered to subscribers",
		},
		[]string{"reason"},
	)

	// currentDay exposes the challenge day index observed by the day clock.
	currentDay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seventyfive_current_day",
			Help: "Current challenge day index (0 before start, 75 at completion)",
		},
	)

	// compactedEntriesTotal counts change log entries removed by compaction.
	compactedEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seventyfive_changelog_compacted_entries_total",
			Help: "Total number of change log entries removed by compaction",
		},
	)
)

func init() {
	prometheus.MustRegister(mutationsTotal)
	prometheus.MustRegister(mutationDuration)
	prometheus.MustRegister(storeRetriesTotal)
	prometheus.MustRegister(activeSubscriptions)
	prometheus.MustRegister(deliveriesTotal)
	prometheus.MustRegister(currentDay)
	prometheus.MustRegister(compactedEntriesTotal)
}

// RecordMutation records one mutator call and its duration.
func RecordMutation(op, status string, durationSeconds float64) {
	mutationsTotal.WithLabelValues(op, status).Inc()
	mutationDuration.WithLabelValues(op).Observe(durationSeconds)
}

// RecordRetry records a retried store operation.
func RecordRetry(op string) {
	storeRetriesTotal.WithLabelValues(op).Inc()
}

// SubscriptionStarted increments the live subscription gauge.
func SubscriptionStarted() {
	activeSubscriptions.Inc()
}

// SubscriptionStopped decrements the live subscription gauge.
func SubscriptionStopped() {
	activeSubscriptions.Dec()
}

// RecordDelivery records a document delivered to a subscriber.
func RecordDelivery(reason string) {
	deliveriesTotal.WithLabelValues(reason).Inc()
}

// SetCurrentDay publishes the current challenge day.
func SetCurrentDay(day int) {
	currentDay.Set(float64(day))
}

// RecordCompaction adds removed change log entries.
func RecordCompaction(removed int64) {
	compactedEntriesTotal.Add(float64(removed))
}
