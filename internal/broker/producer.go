package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Producer is the external enqueue API (spec.md §6). It is a thin,
// stateless wrapper over Template plus the codec chain and ID
// generation; any number of producers may share one Template safely.
type Producer struct {
	tmpl       *Template
	registry   *Registry
	converters []MessageConverter
}

// NewProducer builds a Producer. registry is consulted to validate
// that a queue has been registered (and, for EnqueueAt/EnqueueIn, that
// it is registered as delayed).
func NewProducer(tmpl *Template, registry *Registry, converters []MessageConverter) *Producer {
	return &Producer{tmpl: tmpl, registry: registry, converters: converters}
}

func (p *Producer) newMessage(queue string, payload any, processAt int64) (Message, error) {
	data, err := encodePayload(p.converters, payload)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:         uuid.New().String(),
		QueueName:  queue,
		Payload:    data,
		ProcessAt:  processAt,
		EnqueuedAt: nowMillis(),
	}
	return m, nil
}

// Enqueue adds a message for immediate delivery.
func (p *Producer) Enqueue(ctx context.Context, queue string, payload any) error {
	_, desc, ok := p.registry.Lookup(queue)
	if !ok {
		return newConfigError("enqueue: queue %q is not registered", queue)
	}
	m, err := p.newMessage(queue, payload, 0)
	if err != nil {
		return err
	}
	return p.tmpl.Enqueue(ctx, desc.Name, m)
}

// EnqueueAt schedules a message for delivery at a specific epoch-ms
// timestamp. The queue must be registered as delayed.
func (p *Producer) EnqueueAt(ctx context.Context, queue string, payload any, epochMs int64) error {
	_, desc, ok := p.registry.Lookup(queue)
	if !ok {
		return newConfigError("enqueueAt: queue %q is not registered", queue)
	}
	if !desc.Delayed {
		return newConfigError("enqueueAt: queue %q is not registered as delayed", queue)
	}
	m, err := p.newMessage(queue, payload, epochMs)
	if err != nil {
		return err
	}
	return p.tmpl.Enqueue(ctx, desc.Name, m)
}

// EnqueueIn schedules a message for delivery after a duration from now.
// The queue must be registered as delayed.
func (p *Producer) EnqueueIn(ctx context.Context, queue string, payload any, in time.Duration) error {
	return p.EnqueueAt(ctx, queue, payload, nowMillis()+in.Milliseconds())
}

// EnqueueWithRetry adds a message for immediate delivery, overriding
// the mapping's retry budget for this message only. The override is
// tracked in message metadata so the state machine respects it instead
// of the queue-level default.
func (p *Producer) EnqueueWithRetry(ctx context.Context, queue string, payload any, retryCount int) error {
	_, desc, ok := p.registry.Lookup(queue)
	if !ok {
		return newConfigError("enqueueWithRetry: queue %q is not registered", queue)
	}
	m, err := p.newMessage(queue, payload, 0)
	if err != nil {
		return err
	}
	if err := p.tmpl.Enqueue(ctx, desc.Name, m); err != nil {
		return err
	}
	return p.tmpl.SetRetryBudget(ctx, m.ID, retryCount)
}
