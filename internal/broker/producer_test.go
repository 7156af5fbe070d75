package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistryFor(t *testing.T, desc QueueDescriptor) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(desc, func(context.Context, Message, any) error { return nil }))
	return r
}

func TestProducerEnqueueRejectsUnregisteredQueue(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	registry := NewRegistry()
	p := NewProducer(tmpl, registry, []MessageConverter{JSONConverter{}})

	err := p.Enqueue(context.Background(), "ghost", "x")
	require.Error(t, err)
}

func TestProducerEnqueueAtRequiresDelayedQueue(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	registry := newTestRegistryFor(t, QueueDescriptor{
		Name:                "q1",
		MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime,
	})
	p := NewProducer(tmpl, registry, []MessageConverter{JSONConverter{}})

	err := p.EnqueueAt(context.Background(), "q1", "x", nowMillis()+1000)
	require.Error(t, err)
}

func TestProducerEnqueueWithRetryOverridesBudget(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	registry := newTestRegistryFor(t, QueueDescriptor{
		Name:                "q1",
		NumRetries:          5,
		MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime,
	})
	p := NewProducer(tmpl, registry, []MessageConverter{JSONConverter{}})

	require.NoError(t, p.EnqueueWithRetry(context.Background(), "q1", "x", 0))

	msg, _, ok, err := tmpl.PopReady(context.Background(), "q1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	override, set, err := tmpl.RetryBudget(context.Background(), msg.ID)
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, 0, override)
}
