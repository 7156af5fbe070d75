package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Template) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return s, NewTemplate(rdb)
}

func TestEnqueueImmediate(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	m := Message{ID: "a", QueueName: "q1", Payload: []byte(`"A"`)}
	require.NoError(t, tmpl.Enqueue(ctx, "q1", m))

	n, err := tmpl.Size(ctx, readyKey("q1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestEnqueueDelayed(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	future := nowMillis() + 2000
	m := Message{ID: "b", QueueName: "q1", Payload: []byte(`"B"`), ProcessAt: future}
	require.NoError(t, tmpl.Enqueue(ctx, "q1", m))

	readyN, err := tmpl.Size(ctx, readyKey("q1"))
	require.NoError(t, err)
	require.EqualValues(t, 0, readyN)

	delayedN, err := tmpl.Size(ctx, delayedKey("q1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, delayedN)
}

func TestPopReadyEmpty(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	_, _, ok, err := tmpl.PopReady(ctx, "empty-queue", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPopReadyMovesToProcessing(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "c", QueueName: "q1", Payload: []byte(`"C"`)}))

	msg, raw, ok, err := tmpl.PopReady(ctx, "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", msg.ID)
	require.NotEmpty(t, raw)

	readyN, _ := tmpl.Size(ctx, readyKey("q1"))
	require.EqualValues(t, 0, readyN)

	procN, _ := tmpl.Size(ctx, processingKey("q1"))
	require.EqualValues(t, 1, procN)
}

func TestAckProcessingIsIdempotent(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "d", QueueName: "q1"}))
	_, raw, ok, err := tmpl.PopReady(ctx, "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tmpl.AckProcessing(ctx, "q1", raw))
	require.NoError(t, tmpl.AckProcessing(ctx, "q1", raw)) // second call is a no-op

	n, _ := tmpl.Size(ctx, processingKey("q1"))
	require.EqualValues(t, 0, n)
}

func TestReEnqueueWithBackoffGoesToDelayedSet(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "e", QueueName: "q1"}))
	msg, raw, ok, err := tmpl.PopReady(ctx, "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tmpl.ReEnqueue(ctx, "q1", raw, msg, 5*time.Second))

	procN, _ := tmpl.Size(ctx, processingKey("q1"))
	require.EqualValues(t, 0, procN)

	delayedN, _ := tmpl.Size(ctx, delayedKey("q1"))
	require.EqualValues(t, 1, delayedN)

	members, err := tmpl.ReadFromZSetWithScore(ctx, delayedKey("q1"), 0, -1)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Greater(t, members[0].Score, float64(nowMillis()))
}

func TestReEnqueueWithoutBackoffGoesToReadyList(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "f", QueueName: "q1"}))
	msg, raw, ok, err := tmpl.PopReady(ctx, "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tmpl.ReEnqueue(ctx, "q1", raw, msg, 0))

	readyN, _ := tmpl.Size(ctx, readyKey("q1"))
	require.EqualValues(t, 1, readyN)
}

func TestReEnqueueToleratesMissingFromProcessing(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	// No prior Enqueue/PopReady: the "old" raw form was never in the
	// processing set (e.g. the reaper already moved it).
	m := Message{ID: "g", QueueName: "q1"}
	require.NoError(t, tmpl.ReEnqueue(ctx, "q1", "nonexistent", m, 0))

	readyN, _ := tmpl.Size(ctx, readyKey("q1"))
	require.EqualValues(t, 1, readyN)
}

func TestMoveToDLQ(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "h", QueueName: "q1"}))
	msg, raw, ok, err := tmpl.PopReady(ctx, "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tmpl.MoveToDLQ(ctx, "q1", "q1_dlq", raw, msg))

	procN, _ := tmpl.Size(ctx, processingKey("q1"))
	require.EqualValues(t, 0, procN)

	dlqEntries, err := tmpl.ReadFromList(ctx, "q1_dlq", 0, -1)
	require.NoError(t, err)
	require.Len(t, dlqEntries, 1)

	decoded, err := decodeMessage([]byte(dlqEntries[0]))
	require.NoError(t, err)
	require.Equal(t, "h", decoded.ID)
	require.Greater(t, decoded.ReEnqueuedAt, int64(0))
}

func TestPromoteDelayedPreservesScoreOrder(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	base := nowMillis() - 1000
	// Enqueue sends already-due messages straight to the ready list, so
	// both entries are placed on the delayed set directly with due scores.
	for _, e := range []struct {
		id    string
		score int64
	}{{"late", base + 10}, {"early", base}} {
		data, err := encodeMessage(Message{ID: e.id, ProcessAt: e.score})
		require.NoError(t, err)
		require.NoError(t, tmpl.Raw().ZAdd(ctx, delayedKey("q1"), redis.Z{Score: float64(e.score), Member: data}).Err())
	}

	n, err := tmpl.PromoteDelayed(ctx, "q1", 100)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	ready, err := tmpl.ReadFromList(ctx, readyKey("q1"), 0, -1)
	require.NoError(t, err)
	require.Len(t, ready, 2)

	first, err := decodeMessage([]byte(ready[len(ready)-1])) // LPUSH reverses arrival order
	require.NoError(t, err)
	require.Equal(t, "early", first.ID)
}

func TestReapProcessingIncrementsRetryCount(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "stale", QueueName: "q1"}))
	_, _, ok, err := tmpl.PopReady(ctx, "q1", -time.Second) // already-expired deadline
	require.NoError(t, err)
	require.True(t, ok)

	n, err := tmpl.ReapProcessing(ctx, "q1", 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	readyN, _ := tmpl.Size(ctx, readyKey("q1"))
	require.EqualValues(t, 1, readyN)

	count, err := tmpl.RetryCount(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestBulkMoveListToList(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "x"}))
	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "y"}))

	n, err := tmpl.BulkMoveListToList(ctx, readyKey("q1"), "dest_list", 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	destN, _ := tmpl.Size(ctx, "dest_list")
	require.EqualValues(t, 2, destN)
}

func TestBulkMoveZSetToZSetFixedScore(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, tmpl.Enqueue(ctx, "q1", Message{ID: "z", ProcessAt: nowMillis() + 10000}))

	n, err := tmpl.BulkMoveZSetToZSet(ctx, delayedKey("q1"), "dest_zset", 10, true, 42)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	members, err := tmpl.ReadFromZSetWithScore(ctx, "dest_zset", 0, -1)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, float64(42), members[0].Score)
}
