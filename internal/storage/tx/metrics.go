package tx

import "github.com/prometheus/client_golang/prometheus"

var (
	txnBeginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "txn",
			Name:      "begin_total",
			Help:      "Counter of transactions begun, by mode.",
		}, []string{"mode"})

	txnCommitCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "txn",
			Name:      "commit_total",
			Help:      "Counter of committed transactions.",
		})

	txnAbortCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "txn",
			Name:      "abort_total",
			Help:      "Counter of aborted transactions.",
		})

	txnPromoteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obadb",
			Subsystem: "txn",
			Name:      "promote_total",
			Help:      "Counter of promotion attempts, by result.",
		}, []string{"result"})

	txnActiveGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "obadb",
			Subsystem: "txn",
			Name:      "active",
			Help:      "Number of transactions begun and not yet ended.",
		})
)

func init() {
	prometheus.MustRegister(txnBeginCounter)
	prometheus.MustRegister(txnCommitCounter)
	prometheus.MustRegister(txnAbortCounter)
	prometheus.MustRegister(txnPromoteCounter)
	prometheus.MustRegister(txnActiveGauge)
}
