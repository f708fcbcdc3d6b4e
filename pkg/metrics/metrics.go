// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swapexec",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted by the queue (duplicates excluded).",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapexec",
		Subsystem: "queue",
		Name:      "jobs_finished_total",
		Help:      "Job attempts by outcome: completed, retried, failed, stalled.",
	}, []string{"outcome"})

	ActiveSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "swapexec",
		Subsystem: "queue",
		Name:      "active_slots",
		Help:      "Worker slots currently running a job, per lane.",
	}, []string{"lane"})

	QuoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swapexec",
		Subsystem: "router",
		Name:      "quote_seconds",
		Help:      "Quote latency per venue.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"venue"})

	QuoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapexec",
		Subsystem: "router",
		Name:      "quote_errors_total",
		Help:      "Failed quote calls per venue.",
	}, []string{"venue"})

	Swaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapexec",
		Subsystem: "router",
		Name:      "swaps_total",
		Help:      "Executed swaps per venue and result.",
	}, []string{"venue", "result"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapexec",
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Live order stream subscribers.",
	})

	HistoryOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapexec",
		Subsystem: "broadcast",
		Name:      "history_orders",
		Help:      "Orders with retained message history.",
	})

	MessagesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapexec",
		Subsystem: "broadcast",
		Name:      "messages_total",
		Help:      "Emitted lifecycle messages by status.",
	}, []string{"status"})
)
