package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueDescriptorValidateBoundary(t *testing.T) {
	floor := MinExecutionTime + DeltaBetweenReEnqueueTime

	atFloor := QueueDescriptor{Name: "q1", MaxJobExecutionTime: floor}
	require.NoError(t, atFloor.Validate())

	belowFloor := QueueDescriptor{Name: "q1", MaxJobExecutionTime: floor - 1}
	require.Error(t, belowFloor.Validate())
}

func TestRegistryRejectsInvalidDescriptor(t *testing.T) {
	r := NewRegistry()
	err := r.Register(QueueDescriptor{Name: "q1", MaxJobExecutionTime: MinExecutionTime}, func(context.Context, Message, any) error { return nil })
	require.Error(t, err)
}

func TestRegistryRejectsNilHandler(t *testing.T) {
	r := NewRegistry()
	err := r.Register(QueueDescriptor{Name: "q1", MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime}, nil)
	require.Error(t, err)
}

func TestRegistryFreezeBlocksFurtherRegistration(t *testing.T) {
	r := NewRegistry()
	desc := QueueDescriptor{Name: "q1", MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime}
	require.NoError(t, r.Register(desc, func(context.Context, Message, any) error { return nil }))

	r.Freeze()

	err := r.Register(QueueDescriptor{Name: "q2", MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime}, func(context.Context, Message, any) error { return nil })
	require.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	desc := QueueDescriptor{Name: "q1", MaxJobExecutionTime: MinExecutionTime + DeltaBetweenReEnqueueTime}
	require.NoError(t, r.Register(desc, func(context.Context, Message, any) error { return nil }))

	h, got, ok := r.Lookup("q1")
	require.True(t, ok)
	require.NotNil(t, h)
	require.Equal(t, "q1", got.Name)

	_, _, ok = r.Lookup("missing")
	require.False(t, ok)
}
