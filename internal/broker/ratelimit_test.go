package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterTokenBucket(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(tmpl.Raw(), 1, 1)

	allowed, err := rl.Allow(ctx, "q1")
	require.NoError(t, err)
	require.True(t, allowed, "first call should consume the initial burst token")

	allowed, err = rl.Allow(ctx, "q1")
	require.NoError(t, err)
	require.False(t, allowed, "second immediate call should be denied")
}

func TestRequeueDoesNotTouchRetryCount(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "throttled"}))
	msg, raw, ok, err := tmpl.PopReady(ctx, "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tmpl.Requeue(ctx, "q1", raw, msg))

	readyN, _ := tmpl.Size(ctx, readyKey("q1"))
	require.EqualValues(t, 1, readyN)

	count, err := tmpl.RetryCount(ctx, "throttled")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
