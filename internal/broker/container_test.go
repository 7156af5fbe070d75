package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainerLifecycleStates(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(QueueDescriptor{
		Name:                "q1",
		MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime,
	}, func(context.Context, Message, any) error { return nil }))

	cfg, err := NewConfig()
	require.NoError(t, err)

	c := NewContainer(tmpl.Raw(), registry, cfg)
	require.Equal(t, StateInitial, c.State())

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, StateRunning, c.State())

	c.Stop()
	require.Equal(t, StateStopped, c.State())
}

func TestContainerStartRefusesSecondStart(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	registry := NewRegistry()
	require.NoError(t, registry.Register(QueueDescriptor{
		Name:                "q1",
		MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime,
	}, func(context.Context, Message, any) error { return nil }))

	cfg, err := NewConfig()
	require.NoError(t, err)

	c := NewContainer(tmpl.Raw(), registry, cfg)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	err = c.Start(context.Background())
	require.Error(t, err)
}

func TestContainerStartFailsOnInvalidConfig(t *testing.T) {
	_, tmpl := setupTestRedis(t)
	registry := NewRegistry()

	// Build a valid Config then corrupt it directly to exercise the
	// fatal-at-start config error path (spec.md §7).
	cfg, err := NewConfig()
	require.NoError(t, err)
	cfg.Converters = nil

	c := NewContainer(tmpl.Raw(), registry, cfg)
	err = c.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateInitial, c.State())
}
