// Command broker-bench measures enqueue and end-to-end processing
// throughput against a running broker, adapted from the teacher's
// benchmark/main.go.
//
// Usage:
//
//	go run ./cmd/broker-bench -messages 100000 -workers 10
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/internal/broker"
)

func main() {
	numMessages := flag.Int("messages", 100000, "number of messages to enqueue")
	numEnqueuers := flag.Int("workers", 10, "number of concurrent enqueuers")
	queueName := flag.String("queue", "bench", "queue name to target")
	addr := flag.String("redis", "127.0.0.1:6379", "redis address")
	flag.Parse()

	rdb := redis.NewClient(&redis.Options{Addr: *addr})
	tmpl := broker.NewTemplate(rdb)

	registry := broker.NewRegistry()
	if err := registry.Register(broker.QueueDescriptor{
		Name:                *queueName,
		NumRetries:          0,
		MaxJobExecutionTime: time.Minute,
	}, func(context.Context, broker.Message, any) error { return nil }); err != nil {
		fmt.Println("register failed:", err)
		return
	}

	cfg, err := broker.NewConfig()
	if err != nil {
		fmt.Println("config error:", err)
		return
	}
	producer := broker.NewProducer(tmpl, registry, cfg.Converters)

	fmt.Println("broker-bench")
	fmt.Println("============")
	fmt.Printf("messages: %d, enqueuers: %d, queue: %s\n\n", *numMessages, *numEnqueuers, *queueName)

	ctx := context.Background()
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	perWorker := *numMessages / *numEnqueuers

	for w := 0; w < *numEnqueuers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				payload := map[string]any{"worker": workerID, "seq": j}
				if err := producer.Enqueue(ctx, *queueName, payload); err != nil {
					fmt.Println("enqueue error:", err)
					return
				}
				enqueued.Add(1)
			}
		}(w)
	}
	wg.Wait()

	enqueueElapsed := time.Since(startEnqueue)
	fmt.Printf("enqueued %d messages in %s (%.2f msg/s)\n\n",
		enqueued.Load(), enqueueElapsed, float64(enqueued.Load())/enqueueElapsed.Seconds())

	fmt.Println("waiting for a worker process to drain the queue...")
	startDrain := time.Now()
	for {
		ready, delayed, processing, err := tmpl.QueueDepths(ctx, *queueName)
		if err != nil {
			fmt.Println("depth check failed:", err)
			return
		}
		remaining := ready + delayed + processing
		if remaining == 0 {
			break
		}
		fmt.Printf("  remaining: %d\n", remaining)
		time.Sleep(2 * time.Second)
	}
	drainElapsed := time.Since(startDrain)
	fmt.Printf("\ndrained in %s (%.2f msg/s)\n", drainElapsed, float64(*numMessages)/drainElapsed.Seconds())

	total := enqueueElapsed + drainElapsed
	fmt.Printf("\ntotal: %s, overall throughput: %.2f msg/s\n", total, float64(*numMessages)/total.Seconds())
}
