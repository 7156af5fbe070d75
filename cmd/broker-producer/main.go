// Command broker-producer exposes an HTTP API for enqueuing messages
// and inspecting queue state, adapted from the teacher's
// cmd/server/main.go. It shares the same Redis connection pool and
// queue registrations a broker-worker process would use, but never
// starts a Container, so no handler here is ever invoked; registration
// exists only so Producer can validate queue names and delayed-ness.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/internal/broker"
	"github.com/relayq/relayq/internal/platform/logger"
)

func main() {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr()})
	tmpl := broker.NewTemplate(rdb)

	registry := broker.NewRegistry()
	registerQueue(registry, "email", false, 3, []string{"email_dlq"})
	registerQueue(registry, "image_resize", false, 3, []string{"image_resize_dlq"})
	registerQueue(registry, "reminder", true, 2, nil)

	cfg, err := broker.NewConfig()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("invalid broker configuration")
	}

	producer := broker.NewProducer(tmpl, registry, cfg.Converters)
	cronProducer := broker.NewCronProducer(producer)
	cronProducer.Start()
	defer cronProducer.Stop()

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		logger.Log.Warn().Msg("API_KEY not set, authentication disabled")
	}

	mux := setupRouter(producer, cronProducer, tmpl, apiKey)

	logger.Log.Info().Msg("broker-producer listening on :8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		logger.Log.Fatal().Err(err).Msg("server failed")
	}
}

func registerQueue(r *broker.Registry, name string, delayed bool, numRetries int, dlq []string) {
	desc := broker.QueueDescriptor{
		Name:                name,
		Delayed:             delayed,
		NumRetries:          numRetries,
		DeadLetterQueues:    dlq,
		MaxJobExecutionTime: time.Minute,
	}
	noop := func(context.Context, broker.Message, any) error { return nil }
	if err := r.Register(desc, noop); err != nil {
		logger.Log.Fatal().Err(err).Str("queue", name).Msg("failed to register queue")
	}
}

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

func withAuth(next http.HandlerFunc, apiKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" && r.Header.Get("X-API-Key") != apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func setupRouter(p *broker.Producer, cp *broker.CronProducer, tmpl *broker.Template, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/enqueue", withAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Queue      string          `json:"queue"`
			Payload    json.RawMessage `json:"payload"`
			ProcessAt  int64           `json:"process_at"`
			DelayMs    int64           `json:"delay_ms"`
			MaxRetries *int            `json:"max_retries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		var err error
		switch {
		case req.MaxRetries != nil:
			err = p.EnqueueWithRetry(ctx, req.Queue, req.Payload, *req.MaxRetries)
		case req.ProcessAt > 0:
			err = p.EnqueueAt(ctx, req.Queue, req.Payload, req.ProcessAt)
		case req.DelayMs > 0:
			err = p.EnqueueIn(ctx, req.Queue, req.Payload, time.Duration(req.DelayMs)*time.Millisecond)
		default:
			err = p.Enqueue(ctx, req.Queue, req.Payload)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}, apiKey))

	mux.HandleFunc("/schedule", withAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Spec    string          `json:"spec"`
			Queue   string          `json:"queue"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		entryID, err := cp.Schedule(req.Queue, req.Spec, req.Payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"entry_id": entryID})
	}, apiKey))

	mux.HandleFunc("/queues", withAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		type depth struct {
			Queue      string `json:"queue"`
			Ready      int64  `json:"ready"`
			Delayed    int64  `json:"delayed"`
			Processing int64  `json:"processing"`
		}
		var out []depth
		for _, name := range queueNames {
			ready, delayed, processing, err := tmpl.QueueDepths(r.Context(), name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out = append(out, depth{Queue: name, Ready: ready, Delayed: delayed, Processing: processing})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}, apiKey))

	return mux
}

var queueNames = []string{"email", "image_resize", "reminder"}
