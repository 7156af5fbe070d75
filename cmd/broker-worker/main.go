// Command broker-worker is the composition root that wires a Redis
// connection, a handler registry, and a Container, then runs until
// SIGINT/SIGTERM. It exposes Prometheus metrics on :8080/metrics,
// adapted from the teacher's cmd/worker/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/internal/broker"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/platform/logger"
)

func main() {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr()})

	registry := broker.NewRegistry()
	mustRegister(registry, broker.QueueDescriptor{
		Name:                "email",
		NumRetries:          3,
		DeadLetterQueues:    []string{"email_dlq"},
		MaxJobExecutionTime: 30 * time.Second,
		PayloadFactory:      func() any { return &EmailPayload{} },
	}, handleEmail)
	mustRegister(registry, broker.QueueDescriptor{
		Name:                "image_resize",
		NumRetries:          3,
		DeadLetterQueues:    []string{"image_resize_dlq"},
		MaxJobExecutionTime: 2 * time.Minute,
		PayloadFactory:      func() any { return &ImageResizePayload{} },
	}, handleImageResize)
	mustRegister(registry, broker.QueueDescriptor{
		Name:                "reminder",
		Delayed:             true,
		NumRetries:          2,
		MaxJobExecutionTime: 30 * time.Second,
		PayloadFactory:      func() any { return &ReminderPayload{} },
	}, handleReminder)

	cfg, err := broker.NewConfig(
		broker.WithMaxWorkers(10),
		broker.WithBackOffTime(10*time.Second),
		broker.WithOnOutcome(func(queue, outcome string) {
			metrics.Processed.WithLabelValues(queue, outcome).Inc()
		}),
		broker.WithOnHandlerDuration(func(queue string, d time.Duration) {
			metrics.HandlerDuration.WithLabelValues(queue).Observe(d.Seconds())
		}),
		broker.WithOnQueueLatency(func(queue string, d time.Duration) {
			metrics.QueueLatency.WithLabelValues(queue).Observe(d.Seconds())
		}),
		broker.WithDiscardProcessor(func(m broker.Message) {
			logger.Log.Warn().Str("queue", m.QueueName).Str("message_id", m.ID).Msg("message discarded after exhausting retries")
		}),
		broker.WithDeadLetterProcessor(func(m broker.Message) {
			logger.Log.Warn().Str("queue", m.QueueName).Str("message_id", m.ID).Msg("message moved to dead letter queue")
		}),
	)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("invalid broker configuration")
	}

	container := broker.NewContainer(rdb, registry, cfg).
		WithRateLimiter(broker.NewRateLimiter(rdb, 50, 100))

	go serveMetrics(container, registry)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := container.Start(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("container failed to start")
	}
	logger.Log.Info().Msg("broker-worker running")

	<-ctx.Done()
	container.Stop()
}

func mustRegister(r *broker.Registry, desc broker.QueueDescriptor, h broker.Handler) {
	if err := r.Register(desc, h); err != nil {
		logger.Log.Fatal().Err(err).Str("queue", desc.Name).Msg("failed to register handler")
	}
}

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

// serveMetrics exposes Prometheus metrics and periodically refreshes
// the per-queue depth gauges by polling the template's read-only size
// contract.
func serveMetrics(c *broker.Container, registry *broker.Registry) {
	go collectQueueDepths(c, registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Log.Info().Msg("metrics server listening on :8080")
	if err := http.ListenAndServe(":8080", mux); err != nil {
		logger.Log.Error().Err(err).Msg("metrics server stopped")
	}
}

func collectQueueDepths(c *broker.Container, registry *broker.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, name := range registry.QueueNames() {
			ready, delayed, processing, err := c.Template().QueueDepths(context.Background(), name)
			if err != nil {
				continue
			}
			metrics.QueueDepth.WithLabelValues(name, "ready").Set(float64(ready))
			metrics.QueueDepth.WithLabelValues(name, "delayed").Set(float64(delayed))
			metrics.QueueDepth.WithLabelValues(name, "processing").Set(float64(processing))
		}
	}
}
