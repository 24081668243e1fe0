// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "ledger_reservations_total",
		Help:      "Reserve attempts by outcome.",
	}, []string{"outcome"})

	Releases = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "ledger_releases_total",
		Help:      "Reservations returned to stock.",
	})

	ReconcileDrift = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flashsale",
		Name:      "ledger_reconcile_drift",
		Help:      "Absolute change of remaining stock applied by reconciliation.",
		Buckets:   []float64{0, 1, 5, 10, 50, 100, 500},
	})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "order_transitions_total",
		Help:      "Order state changes by target status and actor kind.",
	}, []string{"status", "actor"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flashsale",
		Name:      "checkout_duration_seconds",
		Help:      "Latency of InitiateCheckout.",
		Buckets:   prometheus.DefBuckets,
	})

	QueueJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "queue_joins_total",
		Help:      "Queue joins by result.",
	}, []string{"result"})

	QueueEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "queue_evictions_total",
		Help:      "Waiting entries dropped for inactivity.",
	})

	SweeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "sweeper_runs_total",
		Help:      "Sweeper passes by task and result.",
	}, []string{"task", "result"})

	SweeperExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "sweeper_expired_orders_total",
		Help:      "Pending orders expired by the sweeper.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flashsale",
		Name:      "events_published_total",
		Help:      "Order events handed to the publisher by type and result.",
	}, []string{"type", "result"})
)
