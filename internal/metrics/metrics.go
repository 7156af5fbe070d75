// Package metrics exposes the broker's Prometheus instrumentation,
// adapted from the teacher's cmd/worker metrics block and re-labelled
// to the broker's own outcome vocabulary (ack/retry/dlq/discard).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Processed counts handler outcomes by queue and outcome kind.
	Processed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_processed_total",
		Help: "Total number of messages resolved by the retry/DLQ state machine, by outcome",
	}, []string{"queue", "outcome"})

	// HandlerDuration tracks handler execution latency in seconds.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_handler_duration_seconds",
		Help:    "Duration of handler invocations",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	// QueueDepth tracks the number of messages in each Redis structure
	// backing a queue (ready, delayed, processing).
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_queue_depth",
		Help: "Number of messages in each queue structure",
	}, []string{"queue", "structure"})

	// QueueLatency tracks time spent in the ready/delayed state before
	// a handler begins processing the message.
	QueueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_queue_latency_seconds",
		Help:    "Time spent queued before processing began",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
)
