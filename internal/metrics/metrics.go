// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcksPublished counts phase-1 acknowledgements by direction and outcome.
	AcksPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "acks_published_total",
		Help:      "Acknowledgements published to devices.",
	}, []string{"direction", "outcome"})

	// AckLatency measures time from receiving a request to publishing its ack.
	AckLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "ack_latency_seconds",
		Help:      "Latency of the synchronous acknowledgement path.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, .8, 1, 2},
	}, []string{"direction"})

	// Reconciled counts phase-2 outcomes.
	Reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "reconciled_total",
		Help:      "Ledger reconciliation results.",
	}, []string{"direction", "outcome"})

	// EnqueueFailures counts phase-2 jobs that could not be queued.
	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "enqueue_failures_total",
		Help:      "Reconciliation jobs that failed to enqueue.",
	})

	// DeviceTransitions counts device state machine operations.
	DeviceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device",
		Name:      "transitions_total",
		Help:      "Device session transitions by operation and result.",
	}, []string{"operation", "result"})

	// RateLimited counts HTTP requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	// RealtimeSubscribers tracks open dashboard websocket connections.
	RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtime",
		Name:      "subscribers",
		Help:      "Open dashboard websocket connections.",
	})
)
