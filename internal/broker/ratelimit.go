package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is an optional per-queue token-bucket throttle (spec.md
// §10 supplement), adapted from the teacher's Client.Allow. The poller
// consults it before admitting a message to the worker pool.
type RateLimiter struct {
	rdb   *redis.Client
	rate  int
	burst int
}

// NewRateLimiter builds a limiter allowing rate tokens/sec with the
// given burst capacity.
func NewRateLimiter(rdb *redis.Client, rate, burst int) *RateLimiter {
	return &RateLimiter{rdb: rdb, rate: rate, burst: burst}
}

// Allow reports whether a message for the given queue may proceed now,
// consuming one token if so.
func (rl *RateLimiter) Allow(ctx context.Context, queue string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", queue)
	res, err := tokenBucketScript.Run(ctx, rl.rdb,
		[]string{key}, rl.rate, rl.burst, time.Now().Unix(), 1,
	).Result()
	if err != nil {
		return false, newInfraError(err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Requeue moves a throttled message back onto the ready list without
// touching its retry count. This fixes a bug present in the teacher's
// worker loop, which reused the retry path (and so silently consumed a
// retry attempt) for rate-limit backpressure; see DESIGN.md.
func (t *Template) Requeue(ctx context.Context, queue string, oldRaw string, m Message) error {
	if err := reEnqueueScript.Run(ctx, t.rdb,
		[]string{processingKey(queue), readyKey(queue), delayedKey(queue)},
		oldRaw, oldRaw, int64(0), int64(0),
	).Err(); err != nil {
		return newInfraError(err)
	}
	return nil
}
