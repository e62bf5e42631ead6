package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	compactionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "engine",
			Name:      "compaction_total",
			Help:      "Counter of compactions, by result.",
		}, []string{"result"})

	compactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "obadb",
			Subsystem: "engine",
			Name:      "compaction_duration_seconds",
			Help:      "Bucketed histogram of compaction duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20),
		})

	compactionEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "engine",
			Name:      "compaction_entries_total",
			Help:      "Counter of entries copied by compaction.",
		})

	switchRetryCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "engine",
			Name:      "switch_retry_total",
			Help:      "Counter of writes begun again after the store handle was switched.",
		})

	storesOpenGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "obadb",
			Subsystem: "engine",
			Name:      "stores_open",
			Help:      "Number of open stores.",
		})
)

func init() {
	prometheus.MustRegister(compactionCounter)
	prometheus.MustRegister(compactionDuration)
	prometheus.MustRegister(compactionEntries)
	prometheus.MustRegister(switchRetryCounter)
	prometheus.MustRegister(storesOpenGauge)
}
