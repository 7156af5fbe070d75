package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultStore is the optional task-result facility (spec.md §10
// supplement), adapted from the teacher's SetResult/GetResult. It is
// gated behind Config.StoreResults since it is not part of the core
// spec.
type ResultStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultStore builds a result store with the given TTL.
func NewResultStore(rdb *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{rdb: rdb, ttl: ttl}
}

// Set stores the result of a message's processing under its ID.
func (rs *ResultStore) Set(ctx context.Context, messageID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return newCodecError(err)
	}
	if err := rs.rdb.Set(ctx, resultKey(messageID), data, rs.ttl).Err(); err != nil {
		return newInfraError(err)
	}
	return nil
}

// Get retrieves the stored result JSON for a message ID. ok is false
// if no result has been stored (or it expired).
func (rs *ResultStore) Get(ctx context.Context, messageID string) (data string, ok bool, err error) {
	data, err = rs.rdb.Get(ctx, resultKey(messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, newInfraError(err)
	}
	return data, true, nil
}

// resultCapture is a per-invocation slot a handler can fill via
// RecordResult; the worker pool persists it through a ResultStore
// after a successful handler invocation, when result storage is
// enabled for the container.
type resultCapture struct {
	mu    sync.Mutex
	value any
	set   bool
}

type resultCaptureKey struct{}

func withResultCapture(ctx context.Context, rc *resultCapture) context.Context {
	return context.WithValue(ctx, resultCaptureKey{}, rc)
}

// RecordResult stores a handler's result value for later retrieval via
// ResultStore.Get. It is a no-op when the handling queue's container
// doesn't have result storage enabled (WithResultStorage), so
// handlers can call it unconditionally.
func RecordResult(ctx context.Context, result any) {
	if rc, ok := ctx.Value(resultCaptureKey{}).(*resultCapture); ok {
		rc.mu.Lock()
		rc.value = result
		rc.set = true
		rc.mu.Unlock()
	}
}
